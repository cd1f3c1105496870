package entity

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/tiendc/go-deepcopy"
)

// FieldSet is the undoable data of an entity. Fields is the only
// implementation.
type FieldSet interface {
	snapshot() any
	restore(s any)
	encode() ([]byte, error)
	decode(data []byte) error
}

// Fields holds an entity's data struct. Its value is captured on every
// checkpoint, so F should be a plain data struct with exported fields.
type Fields[F any] struct {
	V F
}

func (f *Fields[F]) snapshot() any {
	var cp F
	if err := deepcopy.Copy(&cp, &f.V); err != nil {
		panic(fmt.Sprintf("entity: snapshot %T: %v", f.V, err))
	}
	return cp
}

func (f *Fields[F]) restore(s any) {
	f.V = s.(F)
}

func (f *Fields[F]) encode() ([]byte, error) {
	return json.Marshal(&f.V)
}

func (f *Fields[F]) decode(data []byte) error {
	return json.Unmarshal(data, &f.V)
}
