package entity

import (
	"context"
	"fmt"

	"entityportal/pkg/domain"
)

// Savable is implemented by root objects: types embedding Base and lists.
type Savable interface {
	IsDirty() bool
	saveCheck(op string) error
}

// Save sends obj through d when it is dirty and returns the object to use
// in place of obj. Children, objects with open checkpoints and invalid
// objects are rejected before d is called. On error obj is left as it was.
func Save[T Savable](ctx context.Context, d domain.Dispatcher, obj T) (T, error) {
	var zero T
	if err := obj.saveCheck("save"); err != nil {
		return zero, err
	}
	if !obj.IsDirty() {
		return obj, nil
	}
	out, err := d.Update(ctx, obj)
	if err != nil {
		return zero, err
	}
	res, ok := out.(T)
	if !ok {
		return zero, fmt.Errorf("entity: update returned %T, want %T", out, zero)
	}
	return res, nil
}

type forcible interface {
	Savable
	MarkForUpdate()
}

// SaveForced saves obj routing a new object to the update hook instead of
// the insert hook.
func SaveForced[T forcible](ctx context.Context, d domain.Dispatcher, obj T) (T, error) {
	obj.MarkForUpdate()
	return Save(ctx, d, obj)
}
