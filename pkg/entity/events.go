package entity

import "slices"

// ChangeFunc observes a field change. An empty field means the whole object
// may have changed.
type ChangeFunc func(source Editable, field string)

type listener struct {
	id int
	fn ChangeFunc
}

// OnChange subscribes fn to change notifications and returns a function
// that removes the subscription.
func (b *Base) OnChange(fn ChangeFunc) (unsubscribe func()) {
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener{id: id, fn: fn})
	return func() {
		b.listeners = slices.DeleteFunc(b.listeners, func(l listener) bool { return l.id == id })
	}
}

func (b *Base) notify(field string) {
	if b.self == nil {
		return
	}
	for _, l := range slices.Clone(b.listeners) {
		l.fn(b.self, field)
	}
}

// ListChangeKind classifies a list notification.
type ListChangeKind int

const (
	ItemAdded ListChangeKind = iota
	ItemDeleted
	ItemChanged
	ListReset
)

func (k ListChangeKind) String() string {
	switch k {
	case ItemAdded:
		return "added"
	case ItemDeleted:
		return "deleted"
	case ItemChanged:
		return "changed"
	default:
		return "reset"
	}
}

// ListChange describes a change to a List. Index is -1 for resets.
type ListChange struct {
	Kind  ListChangeKind
	Index int
	Field string
}

type listListener struct {
	id int
	fn func(ListChange)
}
