package entity

import "entityportal/pkg/domain"

func (b *Base) copyState() {
	b.stack = append(b.stack, snapshot{
		data:      b.fields.snapshot(),
		isNew:     b.isNew,
		isDeleted: b.isDeleted,
		isDirty:   b.isDirty,
		broken:    b.validation.Broken(),
	})
	for _, n := range b.nodes {
		n.node.copyState()
	}
}

func (b *Base) undoChanges() {
	if len(b.stack) == 0 {
		return
	}
	top := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	b.fields.restore(top.data)
	b.isNew = top.isNew
	b.isDeleted = top.isDeleted
	b.isDirty = top.isDirty
	b.validation.Restore(top.broken)
	for _, n := range b.nodes {
		n.node.undoChanges()
	}
	b.bindingEdit = false
	b.notify("")
}

func (b *Base) acceptChanges() {
	if len(b.stack) == 0 {
		return
	}
	b.stack = b.stack[:len(b.stack)-1]
	for _, n := range b.nodes {
		n.node.acceptChanges()
	}
	b.committed = true
}

// BeginEdit opens a checkpoint on a root object and every owned child.
func (b *Base) BeginEdit() error {
	if b.isChild {
		return domain.NewUnsupportedError("begin edit", "child objects are checkpointed through their owner")
	}
	if b.bindingEdit {
		return domain.NewUnsupportedError("begin edit", "an interactive edit is in progress")
	}
	b.copyState()
	return nil
}

// CancelEdit restores the state captured by the most recent BeginEdit.
func (b *Base) CancelEdit() error {
	if b.isChild {
		return domain.NewUnsupportedError("cancel edit", "child objects are checkpointed through their owner")
	}
	b.undoChanges()
	return nil
}

// ApplyEdit commits the most recent checkpoint.
func (b *Base) ApplyEdit() error {
	if b.isChild {
		return domain.NewUnsupportedError("apply edit", "child objects are checkpointed through their owner")
	}
	b.bindingEdit = false
	b.acceptChanges()
	b.committed = true
	return nil
}

// BeginInteractive opens a checkpoint for an editing surface such as a form
// or a grid row. Repeated calls before the session ends are ignored.
func (b *Base) BeginInteractive() {
	if b.bindingEdit {
		return
	}
	b.bindingEdit = true
	b.copyState()
}

// CancelInteractive ends the interactive session by restoring its
// checkpoint. A new child that was never committed and is cancelled back to
// the level it was added at removes itself from its owner.
func (b *Base) CancelInteractive() {
	if !b.bindingEdit {
		return
	}
	b.undoChanges()
	if b.isNew && !b.committed && b.EditLevel() <= b.editLevelAdded {
		if o := b.ownerValue(); o != nil {
			o.removeChild(b.self)
		}
	}
}

// EndInteractive ends the interactive session by committing its checkpoint.
func (b *Base) EndInteractive() {
	if !b.bindingEdit {
		return
	}
	b.bindingEdit = false
	b.acceptChanges()
	b.committed = true
}

// InInteractiveEdit reports whether an interactive session is open.
func (b *Base) InInteractiveEdit() bool { return b.bindingEdit }
