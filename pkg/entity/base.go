// Package entity implements editable business objects: state flags, n-level
// undo across an owned object graph, owned child collections and the rules
// wiring shared by every entity type.
package entity

import (
	"weak"

	"entityportal/pkg/domain"
	"entityportal/pkg/rules"
)

// Editable is implemented by types embedding Base.
type Editable interface {
	entityBase() *Base
	IsNew() bool
	IsDeleted() bool
	IsDirty() bool
	IsValid() bool
	IsChild() bool
	EditLevel() int
}

// Node is an object that takes part in n-level undo through its owner.
// Base and List are the only implementations.
type Node interface {
	IsDirty() bool
	IsValid() bool
	copyState()
	undoChanges()
	acceptChanges()
	adopt(l *ownerLink) error
	bindIdentity(src domain.IdentitySource)
	MarshalJSON() ([]byte, error)
	UnmarshalJSON(data []byte) error
}

// owner is implemented by whatever holds a child: a List or a parent Base.
type owner interface {
	removeChild(child Editable)
}

// ownerLink is held strongly by an owner only. Children keep a weak pointer
// to it so a child never extends its owner's lifetime.
type ownerLink struct {
	owner owner
}

type namedNode struct {
	name string
	node Node
}

type snapshot struct {
	data      any
	isNew     bool
	isDeleted bool
	isDirty   bool
	broken    domain.BrokenRules
}

// Base carries the state shared by all editable entities. Embed it and call
// Init from the constructor.
type Base struct {
	self   Editable
	fields FieldSet
	nodes  []namedNode
	link   *ownerLink
	owner  weak.Pointer[ownerLink]

	isNew          bool
	isDeleted      bool
	isDirty        bool
	isChild        bool
	editLevelAdded int
	stack          []snapshot

	bindingEdit bool
	committed   bool

	validation *rules.ValidationRules
	authz      *rules.AuthorizationRules
	identity   domain.IdentitySource
	listeners  []listener
	nextID     int
}

// Init wires b to the object embedding it and to that object's field set.
// A freshly initialized entity is new and dirty.
func (b *Base) Init(self Editable, fields FieldSet) {
	if self == nil {
		self = b
	}
	b.self = self
	b.fields = fields
	b.link = &ownerLink{owner: b}
	b.validation = rules.NewValidationRules()
	b.authz = rules.NewAuthorizationRules()
	b.isNew = true
	b.isDirty = true
}

func (b *Base) entityBase() *Base { return b }

// Own registers n as an owned child graph under name. Owned nodes are
// checkpointed, validated and serialized together with b.
func (b *Base) Own(name string, n Node) error {
	if err := n.adopt(b.link); err != nil {
		return err
	}
	if b.identity != nil {
		n.bindIdentity(b.identity)
	}
	b.nodes = append(b.nodes, namedNode{name: name, node: n})
	return nil
}

// adopt makes b a child of the holder of l.
func (b *Base) adopt(l *ownerLink) error {
	if cur := b.owner.Value(); cur != nil && cur != l {
		return domain.NewOwnershipError("adopt", "object already belongs to another owner")
	}
	b.owner = weak.Make(l)
	b.isChild = true
	return nil
}

// removeChild is a no-op: entity-owned children are never detached.
func (b *Base) removeChild(Editable) {}

func (b *Base) ownerValue() owner {
	if l := b.owner.Value(); l != nil {
		return l.owner
	}
	return nil
}

// Parent returns the list or object holding b, or nil for a root.
func (b *Base) Parent() any {
	switch o := b.ownerValue().(type) {
	case nil:
		return nil
	case *Base:
		return o.self
	default:
		return o
	}
}

// IsNew reports whether the object has never been persisted.
func (b *Base) IsNew() bool { return b.isNew }

// IsDeleted reports whether the object is marked for deletion.
func (b *Base) IsDeleted() bool { return b.isDeleted }

// IsSelfDirty reports the object's own dirty flag, ignoring owned children.
func (b *Base) IsSelfDirty() bool { return b.isDirty }

// IsDirty reports whether the object or any owned child has changes.
func (b *Base) IsDirty() bool {
	if b.isDirty {
		return true
	}
	for _, n := range b.nodes {
		if n.node.IsDirty() {
			return true
		}
	}
	return false
}

// IsSelfValid reports the object's own validity, ignoring owned children.
func (b *Base) IsSelfValid() bool { return b.validation.IsValid() }

// IsValid reports whether no blocking rule is broken on the object or any
// owned child.
func (b *Base) IsValid() bool {
	if !b.validation.IsValid() {
		return false
	}
	for _, n := range b.nodes {
		if !n.node.IsValid() {
			return false
		}
	}
	return true
}

// IsSavable reports whether a save would reach the portal.
func (b *Base) IsSavable() bool { return b.IsDirty() && b.IsValid() }

// IsChild reports whether the object is saved only through its owner.
func (b *Base) IsChild() bool { return b.isChild }

// EditLevel is the number of open checkpoints.
func (b *Base) EditLevel() int { return len(b.stack) }

// EditLevelAdded is the owner's edit level when the object was inserted.
func (b *Base) EditLevelAdded() int { return b.editLevelAdded }

// MarkAsChild flags the object as a child. Call it from child factories.
func (b *Base) MarkAsChild() { b.isChild = true }

// MarkNew flags the object as new and dirty.
func (b *Base) MarkNew() {
	b.isNew = true
	b.isDeleted = false
	b.MarkDirty(false)
}

// MarkOld flags the object as persisted, live and clean.
func (b *Base) MarkOld() {
	b.isNew = false
	b.isDeleted = false
	b.MarkClean()
}

func (b *Base) markDeleted() {
	b.isDeleted = true
	b.MarkDirty(false)
}

// MarkDirty flags the object as changed. With suppressNotify the generic
// change notification is skipped, for callers that already raised a
// field-level one.
func (b *Base) MarkDirty(suppressNotify bool) {
	b.isDirty = true
	if !suppressNotify {
		b.notify("")
	}
}

// MarkClean clears the dirty flag only. A deleted object stays deleted
// until MarkNew or MarkOld.
func (b *Base) MarkClean() {
	b.isDirty = false
	b.notify("")
}

// MarkForUpdate makes a new object look persisted so a save routes it to
// the update hook.
func (b *Base) MarkForUpdate() {
	if b.isNew {
		b.isNew = false
		b.MarkDirty(true)
	}
}

// Delete marks a root object for deletion on its next save.
func (b *Base) Delete() error {
	if b.isChild {
		return domain.NewUnsupportedError("delete", "child objects are deleted through their owner")
	}
	b.markDeleted()
	return nil
}

func (b *Base) deleteChild() error {
	if !b.isChild {
		return domain.NewUnsupportedError("delete child", "root objects can not be deleted through an owner")
	}
	b.markDeleted()
	return nil
}

// PropertyHasChanged runs the field's rules, marks the object dirty and then
// notifies listeners.
func (b *Base) PropertyHasChanged(field string) {
	b.validation.Check(b.self, field)
	b.MarkDirty(true)
	b.notify(field)
}

func (b *Base) saveCheck(op string) error {
	if b.isChild {
		return domain.NewUnsupportedError(op, "child objects are saved through their owner")
	}
	if b.EditLevel() > 0 {
		return domain.NewValidationError(op, "object is still being edited", nil)
	}
	if !b.IsValid() {
		return domain.NewValidationError(op, "object is not valid", b.BrokenRules())
	}
	return nil
}
