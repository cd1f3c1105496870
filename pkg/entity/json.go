package entity

import (
	"errors"
	"weak"

	"github.com/goccy/go-json"

	"entityportal/pkg/domain"
)

type entityWire struct {
	IsNew          bool                       `json:"isNew"`
	IsDeleted      bool                       `json:"isDeleted"`
	IsDirty        bool                       `json:"isDirty"`
	IsChild        bool                       `json:"isChild,omitempty"`
	EditLevelAdded int                        `json:"editLevelAdded,omitempty"`
	Committed      bool                       `json:"committed,omitempty"`
	Data           json.RawMessage            `json:"data"`
	Children       map[string]json.RawMessage `json:"children,omitempty"`
	BrokenRules    domain.BrokenRules         `json:"brokenRules,omitempty"`
}

var errNotInitialized = errors.New("entity: object used before Init")

// MarshalJSON encodes the object's state, data and owned children. Open
// checkpoints are not encoded.
func (b *Base) MarshalJSON() ([]byte, error) {
	if b.fields == nil {
		return nil, errNotInitialized
	}
	data, err := b.fields.encode()
	if err != nil {
		return nil, err
	}
	w := entityWire{
		IsNew:          b.isNew,
		IsDeleted:      b.isDeleted,
		IsDirty:        b.isDirty,
		IsChild:        b.isChild,
		EditLevelAdded: b.editLevelAdded,
		Committed:      b.committed,
		Data:           data,
		BrokenRules:    b.validation.Broken(),
	}
	if len(b.nodes) > 0 {
		w.Children = make(map[string]json.RawMessage, len(b.nodes))
		for _, n := range b.nodes {
			raw, err := n.node.MarshalJSON()
			if err != nil {
				return nil, err
			}
			w.Children[n.name] = raw
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes into an object already built by its constructor.
func (b *Base) UnmarshalJSON(data []byte) error {
	if b.fields == nil {
		return errNotInitialized
	}
	var w entityWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if len(w.Data) > 0 {
		if err := b.fields.decode(w.Data); err != nil {
			return err
		}
	}
	for _, n := range b.nodes {
		if raw, ok := w.Children[n.name]; ok {
			if err := n.node.UnmarshalJSON(raw); err != nil {
				return err
			}
		}
	}
	b.isNew = w.IsNew
	b.isDeleted = w.IsDeleted
	b.isDirty = w.IsDirty
	b.isChild = w.IsChild
	b.editLevelAdded = w.EditLevelAdded
	b.committed = w.Committed
	b.stack = nil
	b.bindingEdit = false
	b.validation.Restore(w.BrokenRules)
	return nil
}

type listWire struct {
	IsChild bool              `json:"isChild,omitempty"`
	Items   []json.RawMessage `json:"items"`
	Deleted []json.RawMessage `json:"deleted,omitempty"`
}

// MarshalJSON encodes active and deleted items.
func (l *List[C]) MarshalJSON() ([]byte, error) {
	w := listWire{IsChild: l.isChild, Items: make([]json.RawMessage, 0, len(l.items))}
	for _, c := range l.items {
		raw, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		w.Items = append(w.Items, raw)
	}
	for _, c := range l.deleted {
		raw, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		w.Deleted = append(w.Deleted, raw)
	}
	return json.Marshal(w)
}

// UnmarshalJSON replaces the list's contents with decoded items.
func (l *List[C]) UnmarshalJSON(data []byte) error {
	if l.newItem == nil {
		return errors.New("entity: list has no item constructor")
	}
	var w listWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decode := func(raws []json.RawMessage) ([]C, error) {
		out := make([]C, 0, len(raws))
		for _, raw := range raws {
			item := l.newItem()
			if err := json.Unmarshal(raw, item); err != nil {
				return nil, err
			}
			b := item.entityBase()
			b.owner = weak.Make(l.link)
			if l.identity != nil {
				b.bindIdentity(l.identity)
			}
			out = append(out, item)
		}
		return out, nil
	}
	items, err := decode(w.Items)
	if err != nil {
		return err
	}
	deleted, err := decode(w.Deleted)
	if err != nil {
		return err
	}
	for b, cancel := range l.subs {
		cancel()
		delete(l.subs, b)
	}
	l.items, l.deleted = items, deleted
	for _, c := range l.items {
		l.subscribe(c.entityBase())
	}
	l.isChild = l.isChild || w.IsChild
	l.editLevel = 0
	l.raise(ListChange{Kind: ListReset, Index: -1})
	return nil
}
