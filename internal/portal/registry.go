package portal

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// TypeInfo describes a type the portal can construct by name.
type TypeInfo struct {
	Name string

	newFn          func() any
	decodeCriteria func(raw []byte) (any, error)
}

// New builds a blank instance.
func (t *TypeInfo) New() any { return t.newFn() }

// DecodeCriteria decodes wire criteria into the type's criteria value.
func (t *TypeInfo) DecodeCriteria(raw []byte) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return t.decodeCriteria(raw)
}

// RegisterOption configures a registration.
type RegisterOption func(*TypeInfo)

// WithCriteria declares the criteria type used by create, fetch and delete
// requests for the registered type.
func WithCriteria[C any]() RegisterOption {
	return func(t *TypeInfo) {
		t.decodeCriteria = func(raw []byte) (any, error) {
			var c C
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, err
			}
			return c, nil
		}
	}
}

func decodeAny(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Registry maps type names to factories. Remote calls and client-side
// cloning can only handle registered types.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*TypeInfo
	byType map[reflect.Type]*TypeInfo
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*TypeInfo),
		byType: make(map[reflect.Type]*TypeInfo),
	}
}

// Register adds a named factory for T.
func Register[T any](r *Registry, name string, factory func() T, opts ...RegisterOption) error {
	if name == "" {
		return errors.New("portal: type name must not be empty")
	}
	if factory == nil {
		return errors.Errorf("portal: nil factory for %s", name)
	}
	info := &TypeInfo{
		Name:           name,
		newFn:          func() any { return factory() },
		decodeCriteria: decodeAny,
	}
	for _, opt := range opts {
		opt(info)
	}
	rt := reflect.TypeFor[T]()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return errors.Errorf("portal: type %s already registered", name)
	}
	if prev, ok := r.byType[rt]; ok {
		return errors.Errorf("portal: %s already registered as %s", rt, prev.Name)
	}
	r.byName[name] = info
	r.byType[rt] = info
	return nil
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (*TypeInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byName[name]
	if !ok {
		return nil, errors.Errorf("portal: unknown type %q", name)
	}
	return info, nil
}

// New builds a blank instance of the named type.
func (r *Registry) New(name string) (any, error) {
	info, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return info.New(), nil
}

// NameOf returns the registered name of obj's type.
func (r *Registry) NameOf(obj any) (string, error) {
	if obj == nil {
		return "", errors.New("portal: nil object")
	}
	return r.NameOfType(reflect.TypeOf(obj))
}

// NameOfType returns the registered name of type t.
func (r *Registry) NameOfType(t reflect.Type) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byType[t]
	if !ok {
		return "", errors.Errorf("portal: type %s is not registered", t)
	}
	return info.Name, nil
}

// Names lists the registered type names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Decode builds a blank instance of name and fills it from raw.
func (r *Registry) Decode(name string, raw []byte) (any, error) {
	obj, err := r.New(name)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, obj); err != nil {
		return nil, errors.Wrapf(err, "decode %s", name)
	}
	return obj, nil
}

// Clone returns an independent copy of obj made by encoding it and decoding
// the result into a fresh instance.
func (r *Registry) Clone(obj any) (any, error) {
	name, err := r.NameOf(obj)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", name)
	}
	return r.Decode(name, raw)
}

func typeName(r *Registry, obj any) string {
	if name, err := r.NameOf(obj); err == nil {
		return name
	}
	return fmt.Sprintf("%T", obj)
}
