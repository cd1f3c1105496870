package entity

import (
	"fmt"
	"slices"
	"weak"

	"entityportal/pkg/domain"
)

// ListOption configures a List.
type ListOption func(*listConfig)

type listConfig struct {
	child             bool
	removeNewOnCancel bool
}

// AsChildList marks the list as owned by a parent object.
func AsChildList() ListOption {
	return func(c *listConfig) { c.child = true }
}

// RemoveNewOnCancel extends checkpoint cancellation to also remove items that
// are new, were never committed and are cancelled back to the level they
// were added at. Interactive cancellation always does this.
func RemoveNewOnCancel() ListOption {
	return func(c *listConfig) { c.removeNewOnCancel = true }
}

// List is an ordered collection of owned child entities. Removing an item
// moves it to a deleted list so the deletion can be persisted on save.
type List[C Editable] struct {
	newItem           func() C
	items             []C
	deleted           []C
	editLevel         int
	isChild           bool
	removeNewOnCancel bool

	link     *ownerLink
	owner    weak.Pointer[ownerLink]
	identity domain.IdentitySource

	subs      map[*Base]func()
	listeners []listListener
	nextID    int
}

// NewList constructs an empty list. newItem builds blank items when the list
// is decoded.
func NewList[C Editable](newItem func() C, opts ...ListOption) *List[C] {
	var cfg listConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	l := &List[C]{
		newItem:           newItem,
		isChild:           cfg.child,
		removeNewOnCancel: cfg.removeNewOnCancel,
		subs:              make(map[*Base]func()),
	}
	l.link = &ownerLink{owner: l}
	return l
}

// Len returns the number of active items.
func (l *List[C]) Len() int { return len(l.items) }

// At returns the active item at index.
func (l *List[C]) At(index int) C { return l.items[index] }

// Items returns a copy of the active items.
func (l *List[C]) Items() []C { return slices.Clone(l.items) }

// Deleted returns a copy of the items pending deletion.
func (l *List[C]) Deleted() []C { return slices.Clone(l.deleted) }

// IndexOf returns the position of item among the active items, or -1.
func (l *List[C]) IndexOf(item C) int { return l.indexOfBase(item.entityBase()) }

// Contains reports whether item is active in the list.
func (l *List[C]) Contains(item C) bool { return l.IndexOf(item) >= 0 }

// ContainsDeleted reports whether item is pending deletion.
func (l *List[C]) ContainsDeleted(item C) bool {
	b := item.entityBase()
	return slices.ContainsFunc(l.deleted, func(c C) bool { return c.entityBase() == b })
}

func (l *List[C]) indexOfBase(b *Base) int {
	return slices.IndexFunc(l.items, func(c C) bool { return c.entityBase() == b })
}

// EditLevel is the number of open checkpoints on the list.
func (l *List[C]) EditLevel() int { return l.editLevel }

// IsChild reports whether the list is saved through a parent object.
func (l *List[C]) IsChild() bool { return l.isChild }

// MarkAsChild flags the list as owned by a parent object.
func (l *List[C]) MarkAsChild() { l.isChild = true }

// IsDirty reports whether any deletion is pending or any item is dirty.
func (l *List[C]) IsDirty() bool {
	if len(l.deleted) > 0 {
		return true
	}
	return slices.ContainsFunc(l.items, func(c C) bool { return c.IsDirty() })
}

// IsValid reports whether every active item is valid.
func (l *List[C]) IsValid() bool {
	for _, c := range l.items {
		if !c.IsValid() {
			return false
		}
	}
	return true
}

// IsSavable reports whether a save would reach the portal.
func (l *List[C]) IsSavable() bool { return l.IsDirty() && l.IsValid() }

// BrokenRules collects the broken rules of every active item.
func (l *List[C]) BrokenRules() domain.BrokenRules {
	var out domain.BrokenRules
	for _, c := range l.items {
		out.Merge(c.entityBase().BrokenRules())
	}
	return out
}

// Add appends item.
func (l *List[C]) Add(item C) error { return l.Insert(len(l.items), item) }

// Insert places item at index and records the current edit level on it.
func (l *List[C]) Insert(index int, item C) error {
	if index < 0 || index > len(l.items) {
		return fmt.Errorf("entity: insert index %d out of range [0,%d]", index, len(l.items))
	}
	b := item.entityBase()
	if err := l.checkOwner(b); err != nil {
		return err
	}
	if l.indexOfBase(b) >= 0 {
		return domain.NewOwnershipError("insert", "object is already in the list")
	}
	l.bind(item)
	l.items = slices.Insert(l.items, index, item)
	l.raise(ListChange{Kind: ItemAdded, Index: index})
	return nil
}

func (l *List[C]) checkOwner(b *Base) error {
	if cur := b.owner.Value(); cur != nil && cur != l.link {
		return domain.NewOwnershipError("insert", "object already belongs to another owner")
	}
	return nil
}

func (l *List[C]) bind(item C) {
	b := item.entityBase()
	b.owner = weak.Make(l.link)
	b.editLevelAdded = l.editLevel
	if l.identity != nil {
		b.bindIdentity(l.identity)
	}
	l.subscribe(b)
}

func (l *List[C]) subscribe(b *Base) {
	if _, ok := l.subs[b]; ok {
		return
	}
	wl := weak.Make(l)
	l.subs[b] = b.OnChange(func(src Editable, field string) {
		list := wl.Value()
		if list == nil {
			return
		}
		if i := list.indexOfBase(src.entityBase()); i >= 0 {
			list.raise(ListChange{Kind: ItemChanged, Index: i, Field: field})
		}
	})
}

func (l *List[C]) unsubscribe(b *Base) {
	if cancel, ok := l.subs[b]; ok {
		cancel()
		delete(l.subs, b)
	}
}

// RemoveAt marks the item at index deleted and moves it to the deleted list.
func (l *List[C]) RemoveAt(index int) error {
	if index < 0 || index >= len(l.items) {
		return fmt.Errorf("entity: remove index %d out of range [0,%d)", index, len(l.items))
	}
	item := l.items[index]
	b := item.entityBase()
	if err := b.deleteChild(); err != nil {
		return err
	}
	l.deleted = append(l.deleted, item)
	l.unsubscribe(b)
	l.items = slices.Delete(l.items, index, index+1)
	l.raise(ListChange{Kind: ItemDeleted, Index: index})
	return nil
}

// Remove removes item if it is active and reports whether it was found.
func (l *List[C]) Remove(item C) (bool, error) {
	i := l.IndexOf(item)
	if i < 0 {
		return false, nil
	}
	return true, l.RemoveAt(i)
}

// Clear removes every active item one at a time.
func (l *List[C]) Clear() error {
	for len(l.items) > 0 {
		if err := l.RemoveAt(0); err != nil {
			return err
		}
	}
	l.raise(ListChange{Kind: ListReset, Index: -1})
	return nil
}

// Set replaces the item at index. The replaced item moves to the deleted list.
func (l *List[C]) Set(index int, item C) error {
	if index < 0 || index >= len(l.items) {
		return fmt.Errorf("entity: set index %d out of range [0,%d)", index, len(l.items))
	}
	old := l.items[index]
	ob := old.entityBase()
	if ob == item.entityBase() {
		return nil
	}
	if err := l.checkOwner(item.entityBase()); err != nil {
		return err
	}
	if l.indexOfBase(item.entityBase()) >= 0 {
		return domain.NewOwnershipError("set", "object is already in the list")
	}
	if err := ob.deleteChild(); err != nil {
		return err
	}
	l.deleted = append(l.deleted, old)
	l.unsubscribe(ob)
	l.bind(item)
	l.items[index] = item
	l.raise(ListChange{Kind: ItemChanged, Index: index})
	return nil
}

// ClearDeleted forgets the pending deletions. Persistence hooks call it once
// the deletions are stored.
func (l *List[C]) ClearDeleted() {
	for _, c := range l.deleted {
		c.entityBase().owner = weak.Pointer[ownerLink]{}
	}
	l.deleted = nil
}

func (l *List[C]) removeChild(child Editable) {
	if i := l.indexOfBase(child.entityBase()); i >= 0 {
		_ = l.RemoveAt(i)
	}
}

func (l *List[C]) discardAt(index int) {
	b := l.items[index].entityBase()
	l.unsubscribe(b)
	b.owner = weak.Pointer[ownerLink]{}
	l.items = slices.Delete(l.items, index, index+1)
	l.raise(ListChange{Kind: ItemDeleted, Index: index})
}

func (l *List[C]) discardDeletedAt(index int) {
	l.deleted[index].entityBase().owner = weak.Pointer[ownerLink]{}
	l.deleted = slices.Delete(l.deleted, index, index+1)
}

func (l *List[C]) undelete(item C) {
	b := item.entityBase()
	level := b.editLevelAdded
	l.bind(item)
	b.editLevelAdded = level
	l.items = append(l.items, item)
	l.deleted = slices.DeleteFunc(l.deleted, func(c C) bool { return c.entityBase() == b })
	l.raise(ListChange{Kind: ItemAdded, Index: len(l.items) - 1})
}

func (l *List[C]) copyState() {
	l.editLevel++
	for _, c := range l.items {
		c.entityBase().copyState()
	}
	for _, c := range l.deleted {
		c.entityBase().copyState()
	}
}

func (l *List[C]) undoChanges() {
	l.editLevel = max(l.editLevel-1, 0)

	var abandoned []C
	for i := len(l.items) - 1; i >= 0; i-- {
		c := l.items[i]
		b := c.entityBase()
		b.undoChanges()
		if b.editLevelAdded > l.editLevel {
			l.discardAt(i)
			continue
		}
		if l.removeNewOnCancel && b.isNew && !b.committed && b.EditLevel() <= b.editLevelAdded {
			abandoned = append(abandoned, c)
		}
	}

	for i := len(l.deleted) - 1; i >= 0; i-- {
		c := l.deleted[i]
		b := c.entityBase()
		b.undoChanges()
		if b.editLevelAdded > l.editLevel {
			l.discardDeletedAt(i)
		} else if !b.isDeleted {
			l.undelete(c)
		}
	}

	for _, c := range abandoned {
		l.removeChild(c)
	}
}

func (l *List[C]) acceptChanges() {
	l.editLevel = max(l.editLevel-1, 0)
	for _, c := range l.items {
		b := c.entityBase()
		b.acceptChanges()
		if b.editLevelAdded > l.editLevel {
			b.editLevelAdded = l.editLevel
		}
	}
	for i := len(l.deleted) - 1; i >= 0; i-- {
		b := l.deleted[i].entityBase()
		b.acceptChanges()
		if b.editLevelAdded > l.editLevel {
			l.discardDeletedAt(i)
		}
	}
}

// BeginEdit opens a checkpoint on a root list and all of its items.
func (l *List[C]) BeginEdit() error {
	if l.isChild {
		return domain.NewUnsupportedError("begin edit", "child lists are checkpointed through their owner")
	}
	l.copyState()
	return nil
}

// CancelEdit restores the state captured by the most recent BeginEdit.
func (l *List[C]) CancelEdit() error {
	if l.isChild {
		return domain.NewUnsupportedError("cancel edit", "child lists are checkpointed through their owner")
	}
	l.undoChanges()
	return nil
}

// ApplyEdit commits the most recent checkpoint.
func (l *List[C]) ApplyEdit() error {
	if l.isChild {
		return domain.NewUnsupportedError("apply edit", "child lists are checkpointed through their owner")
	}
	l.acceptChanges()
	return nil
}

func (l *List[C]) adopt(link *ownerLink) error {
	if cur := l.owner.Value(); cur != nil && cur != link {
		return domain.NewOwnershipError("adopt", "list already belongs to another owner")
	}
	l.owner = weak.Make(link)
	l.isChild = true
	return nil
}

// BindIdentity sets the principal source on the list and its items.
func (l *List[C]) BindIdentity(src domain.IdentitySource) { l.bindIdentity(src) }

// Principal returns the bound principal, or nil.
func (l *List[C]) Principal() domain.Principal {
	if l.identity == nil {
		return nil
	}
	return l.identity.Principal()
}

func (l *List[C]) bindIdentity(src domain.IdentitySource) {
	l.identity = src
	for _, c := range l.items {
		c.entityBase().bindIdentity(src)
	}
	for _, c := range l.deleted {
		c.entityBase().bindIdentity(src)
	}
}

// OnListChanged subscribes fn to list notifications.
func (l *List[C]) OnListChanged(fn func(ListChange)) (unsubscribe func()) {
	l.nextID++
	id := l.nextID
	l.listeners = append(l.listeners, listListener{id: id, fn: fn})
	return func() {
		l.listeners = slices.DeleteFunc(l.listeners, func(x listListener) bool { return x.id == id })
	}
}

func (l *List[C]) raise(ch ListChange) {
	for _, x := range slices.Clone(l.listeners) {
		x.fn(ch)
	}
}

func (l *List[C]) saveCheck(op string) error {
	if l.isChild {
		return domain.NewUnsupportedError(op, "child lists are saved through their owner")
	}
	if l.editLevel > 0 {
		return domain.NewValidationError(op, "list is still being edited", nil)
	}
	if !l.IsValid() {
		return domain.NewValidationError(op, "list is not valid", l.BrokenRules())
	}
	return nil
}
