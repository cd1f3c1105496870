package entity

import (
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// Identifiable is implemented by objects with an identity projection.
type Identifiable interface {
	IDValue() any
}

func idOf(x Identifiable) any {
	id := x.IDValue()
	if id == nil {
		panic(fmt.Sprintf("entity: %T has no identity value", x))
	}
	return id
}

// Equal compares two objects by identity. Objects of different concrete
// types are never equal. It panics if either identity is nil.
func Equal(a, b Identifiable) bool {
	ida, idb := idOf(a), idOf(b)
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return ida == idb
}

// Hash returns a hash of the object's type and identity. It panics if the
// identity is nil.
func Hash(x Identifiable) uint64 {
	id := idOf(x)
	d := xxhash.New()
	_, _ = d.WriteString(reflect.TypeOf(x).String())
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(fmt.Sprint(id))
	return d.Sum64()
}

// String renders the object's identity. It panics if the identity is nil.
func String(x Identifiable) string {
	return fmt.Sprint(idOf(x))
}
