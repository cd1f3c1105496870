package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"entityportal/internal/infra/persistence"
	"entityportal/pkg/domain"
	"entityportal/pkg/entity"
	"entityportal/pkg/rules"
)

type projectData struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Started     time.Time `json:"started"`
	Ended       time.Time `json:"ended"`
}

var projectDates = rules.MustExpr("dateOrder", `!HasEnded || Started <= Ended`)

// Project is an editable root owning the resources assigned to it.
type Project struct {
	entity.Base
	data      entity.Fields[projectData]
	resources *ProjectResources
	t         *Tracker
}

func (t *Tracker) newProject() *Project {
	p := &Project{t: t}
	p.Init(p, &p.data)
	p.resources = newProjectResources()
	if err := p.Own("Resources", p.resources); err != nil {
		panic(err)
	}
	p.ValidationRules().Add("Name", rules.StringRequired())
	p.ValidationRules().Add("Name", rules.StringMaxLength(50))
	p.ValidationRules().Add("Started", projectDates,
		rules.WithDescription("Start date can't be after end date"))
	p.ValidationRules().Add("Ended", projectDates,
		rules.WithDescription("Start date can't be after end date"))
	return p
}

func (p *Project) IDValue() any { return p.data.V.ID }

func (p *Project) RuleEnv() map[string]any {
	v := p.data.V
	return map[string]any{
		"ID":        v.ID,
		"Name":      v.Name,
		"Started":   v.Started,
		"Ended":     v.Ended,
		"HasEnded":  !v.Ended.IsZero(),
		"Resources": p.resources.Len(),
	}
}

func (p *Project) ID() uuid.UUID { return entity.ReadField(p, "ID", p.data.V.ID) }

func (p *Project) Name() string { return entity.ReadField(p, "Name", p.data.V.Name) }

func (p *Project) SetName(v string) error { return entity.SetField(p, "Name", &p.data.V.Name, v) }

func (p *Project) Description() string {
	return entity.ReadField(p, "Description", p.data.V.Description)
}

func (p *Project) SetDescription(v string) error {
	return entity.SetField(p, "Description", &p.data.V.Description, v)
}

func (p *Project) Started() time.Time { return entity.ReadField(p, "Started", p.data.V.Started) }

// SetStarted sets the start date. Dates are kept in UTC.
func (p *Project) SetStarted(v time.Time) error {
	if err := entity.SetField(p, "Started", &p.data.V.Started, v.UTC()); err != nil {
		return err
	}
	p.CheckRules("Ended")
	return nil
}

func (p *Project) Ended() time.Time { return entity.ReadField(p, "Ended", p.data.V.Ended) }

// SetEnded sets the end date. The zero time means the project is open.
func (p *Project) SetEnded(v time.Time) error {
	if err := entity.SetField(p, "Ended", &p.data.V.Ended, v.UTC()); err != nil {
		return err
	}
	p.CheckRules("Started")
	return nil
}

// Resources returns the owned resource assignments.
func (p *Project) Resources() *ProjectResources { return p.resources }

func (p *Project) record() persistence.ProjectRecord {
	v := p.data.V
	return persistence.ProjectRecord{
		ID:          v.ID,
		Name:        v.Name,
		Description: v.Description,
		Started:     v.Started,
		Ended:       v.Ended,
	}
}

// TransactionMode implements domain.TransactionAnnotated. Writes run in a
// transaction on the tracker store.
func (p *Project) TransactionMode(h domain.Hook) domain.TransactionalType {
	switch h {
	case domain.HookInsert, domain.HookUpdate, domain.HookDeleteSelf, domain.HookDelete:
		return domain.TxAmbient
	}
	return domain.TxNone
}

// DataCreate initializes a new project with a fresh id starting today.
func (p *Project) DataCreate(ctx context.Context, _ any) error {
	if err := p.t.authorize(ctx, TypeProject, rules.ActionCreate); err != nil {
		return err
	}
	p.data.V = projectData{ID: uuid.New(), Started: p.t.now().UTC().Truncate(24 * time.Hour)}
	p.CheckAllRules()
	return nil
}

func projectID(criteria any) (uuid.UUID, error) {
	switch c := criteria.(type) {
	case uuid.UUID:
		return c, nil
	case string:
		return uuid.Parse(c)
	}
	return uuid.Nil, fmt.Errorf("project criteria must be a uuid, got %T", criteria)
}

// DataFetch loads the project and its resources.
func (p *Project) DataFetch(ctx context.Context, criteria any) error {
	if err := p.t.authorize(ctx, TypeProject, rules.ActionFetch); err != nil {
		return err
	}
	id, err := projectID(criteria)
	if err != nil {
		return err
	}
	return persistence.Read(ctx, p.t.store, func(v persistence.View) error {
		rec, ok := v.FindProject(id)
		if !ok {
			return errors.Wrapf(persistence.ErrNotFound, "project %s", id)
		}
		p.data.V = projectData{
			ID:          rec.ID,
			Name:        rec.Name,
			Description: rec.Description,
			Started:     rec.Started,
			Ended:       rec.Ended,
		}
		p.resources.load(v.ListAssignments(id))
		p.CheckAllRules()
		return nil
	})
}

// DataInsert stores a new project and its resources.
func (p *Project) DataInsert(ctx context.Context) error {
	if err := p.t.authorize(ctx, TypeProject, rules.ActionCreate); err != nil {
		return err
	}
	return persistence.Write(ctx, p.t.store, func(tx persistence.Tx) error {
		if err := tx.InsertProject(p.record()); err != nil {
			return err
		}
		return p.resources.update(tx, p.data.V.ID)
	})
}

// DataUpdate stores the project's changes and its resources.
func (p *Project) DataUpdate(ctx context.Context) error {
	if err := p.t.authorize(ctx, TypeProject, rules.ActionEdit); err != nil {
		return err
	}
	return persistence.Write(ctx, p.t.store, func(tx persistence.Tx) error {
		if p.IsSelfDirty() {
			if err := tx.UpdateProject(p.record()); err != nil {
				return err
			}
		}
		return p.resources.update(tx, p.data.V.ID)
	})
}

// DataDeleteSelf deletes the project and its assignments.
func (p *Project) DataDeleteSelf(ctx context.Context) error {
	return p.DataDelete(ctx, p.data.V.ID)
}

// DataDelete deletes the project with the id in criteria.
func (p *Project) DataDelete(ctx context.Context, criteria any) error {
	if err := p.t.authorize(ctx, TypeProject, rules.ActionDelete); err != nil {
		return err
	}
	id, err := projectID(criteria)
	if err != nil {
		return err
	}
	return persistence.Write(ctx, p.t.store, func(tx persistence.Tx) error {
		return tx.DeleteProject(id)
	})
}

type resourceData struct {
	ResourceID int       `json:"resourceId"`
	Role       int       `json:"role"`
	Assigned   time.Time `json:"assigned"`
}

// ProjectResource assigns a resource to a project in a role.
type ProjectResource struct {
	entity.Base
	data entity.Fields[resourceData]
}

func newProjectResource() *ProjectResource {
	r := &ProjectResource{}
	r.Init(r, &r.data)
	r.MarkAsChild()
	r.ValidationRules().Add("Role", rules.IntMinValue(1),
		rules.WithDescription("Role must be assigned"))
	return r
}

func (r *ProjectResource) IDValue() any { return r.data.V.ResourceID }

func (r *ProjectResource) RuleEnv() map[string]any {
	return map[string]any{"ResourceID": r.data.V.ResourceID, "Role": r.data.V.Role}
}

func (r *ProjectResource) ResourceID() int {
	return entity.ReadField(r, "ResourceID", r.data.V.ResourceID)
}

func (r *ProjectResource) Role() int { return entity.ReadField(r, "Role", r.data.V.Role) }

func (r *ProjectResource) SetRole(v int) error { return entity.SetField(r, "Role", &r.data.V.Role, v) }

func (r *ProjectResource) Assigned() time.Time {
	return entity.ReadField(r, "Assigned", r.data.V.Assigned)
}

func (r *ProjectResource) record(project uuid.UUID) persistence.AssignmentRecord {
	v := r.data.V
	return persistence.AssignmentRecord{
		ProjectID:  project,
		ResourceID: v.ResourceID,
		Role:       v.Role,
		Assigned:   v.Assigned,
	}
}

// ProjectResources is the child list of a project's assignments.
type ProjectResources struct {
	*entity.List[*ProjectResource]
}

func newProjectResources() *ProjectResources {
	return &ProjectResources{List: entity.NewList(newProjectResource, entity.AsChildList())}
}

// IsAssigned reports whether resourceID is assigned.
func (l *ProjectResources) IsAssigned(resourceID int) bool {
	_, ok := l.find(resourceID)
	return ok
}

func (l *ProjectResources) find(resourceID int) (*ProjectResource, bool) {
	for _, r := range l.Items() {
		if r.data.V.ResourceID == resourceID {
			return r, true
		}
	}
	return nil, false
}

// Assign adds resourceID in role. A resource can be assigned once.
func (l *ProjectResources) Assign(resourceID, role int) (*ProjectResource, error) {
	if l.IsAssigned(resourceID) {
		return nil, domain.NewValidationError("assign", fmt.Sprintf("resource %d already assigned to project", resourceID), nil)
	}
	r := newProjectResource()
	r.data.V = resourceData{ResourceID: resourceID, Role: role}
	if err := l.Add(r); err != nil {
		return nil, err
	}
	r.CheckAllRules()
	return r, nil
}

// Unassign removes resourceID and reports whether it was assigned.
func (l *ProjectResources) Unassign(resourceID int) (bool, error) {
	r, ok := l.find(resourceID)
	if !ok {
		return false, nil
	}
	return l.Remove(r)
}

func (l *ProjectResources) load(records []persistence.AssignmentRecord) {
	for _, rec := range records {
		r := newProjectResource()
		r.data.V = resourceData{ResourceID: rec.ResourceID, Role: rec.Role, Assigned: rec.Assigned}
		if err := l.Add(r); err != nil {
			panic(err)
		}
		r.CheckAllRules()
		r.MarkOld()
	}
}

// update writes deletions first, then inserts and updates, and marks the
// items saved.
func (l *ProjectResources) update(tx persistence.Tx, project uuid.UUID) error {
	for _, r := range l.Deleted() {
		if r.IsNew() {
			continue
		}
		if err := tx.DeleteAssignment(project, r.data.V.ResourceID); err != nil {
			return err
		}
	}
	l.ClearDeleted()
	for _, r := range l.Items() {
		switch {
		case r.IsNew():
			if err := tx.InsertAssignment(r.record(project)); err != nil {
				return err
			}
			if stored, ok := findAssignment(tx, project, r.data.V.ResourceID); ok {
				r.data.V.Assigned = stored.Assigned
			}
		case r.IsDirty():
			if err := tx.UpdateAssignment(r.record(project)); err != nil {
				return err
			}
		default:
			continue
		}
		r.MarkOld()
	}
	return nil
}

func findAssignment(v persistence.View, project uuid.UUID, resourceID int) (persistence.AssignmentRecord, bool) {
	for _, a := range v.ListAssignments(project) {
		if a.ResourceID == resourceID {
			return a, true
		}
	}
	return persistence.AssignmentRecord{}, false
}
