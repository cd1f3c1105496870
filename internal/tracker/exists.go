package tracker

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"entityportal/internal/infra/persistence"
	"entityportal/internal/portal"
	"entityportal/pkg/entity"
)

// ProjectExists is a command reporting whether a project is stored.
type ProjectExists struct {
	entity.CommandBase
	ID     uuid.UUID `json:"id"`
	Exists bool      `json:"exists"`

	t *Tracker
}

func (t *Tracker) newProjectExists() *ProjectExists { return &ProjectExists{t: t} }

// DataExecute looks the project up.
func (c *ProjectExists) DataExecute(ctx context.Context) error {
	return persistence.Read(ctx, c.t.store, func(v persistence.View) error {
		_, c.Exists = v.FindProject(c.ID)
		return nil
	})
}

// ProjectExistsIn runs the ProjectExists command for id through client.
func ProjectExistsIn(ctx context.Context, client *portal.Client, id uuid.UUID) (bool, error) {
	obj, err := client.Registry().New(TypeProjectExists)
	if err != nil {
		return false, err
	}
	cmd, ok := obj.(*ProjectExists)
	if !ok {
		return false, errors.Errorf("tracker: %s registered as %T", TypeProjectExists, obj)
	}
	cmd.ID = id
	out, err := portal.ExecuteAs(ctx, client, cmd)
	if err != nil {
		return false, err
	}
	return out.Exists, nil
}
