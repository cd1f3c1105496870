package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"entityportal/internal/portal"
	"entityportal/internal/tracker"
	"entityportal/pkg/entity"
)

func newProjectCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create and inspect projects",
	}
	cmd.AddCommand(newProjectAddCommand(opts))
	cmd.AddCommand(newProjectShowCommand(opts))
	cmd.AddCommand(newProjectExistsCommand(opts))
	return cmd
}

// projectView is the printed form of a project.
type projectView struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Started     time.Time      `json:"started"`
	Ended       *time.Time     `json:"ended,omitempty"`
	Resources   []resourceView `json:"resources"`
}

type resourceView struct {
	ResourceID int       `json:"resourceId"`
	Role       int       `json:"role"`
	Assigned   time.Time `json:"assigned"`
}

func viewOf(p *tracker.Project) projectView {
	v := projectView{
		ID:          p.ID(),
		Name:        p.Name(),
		Description: p.Description(),
		Started:     p.Started(),
		Resources:   []resourceView{},
	}
	if ended := p.Ended(); !ended.IsZero() {
		v.Ended = &ended
	}
	for _, r := range p.Resources().Items() {
		v.Resources = append(v.Resources, resourceView{ResourceID: r.ResourceID(), Role: r.Role(), Assigned: r.Assigned()})
	}
	return v
}

func (v projectView) writeText(w io.Writer) {
	fmt.Fprintf(w, "%s\t%s\n", v.ID, v.Name)
	if v.Description != "" {
		fmt.Fprintf(w, "  description: %s\n", v.Description)
	}
	fmt.Fprintf(w, "  started: %s\n", v.Started.Format(time.DateOnly))
	if v.Ended != nil {
		fmt.Fprintf(w, "  ended: %s\n", v.Ended.Format(time.DateOnly))
	}
	for _, r := range v.Resources {
		fmt.Fprintf(w, "  resource %d role %d\n", r.ResourceID, r.Role)
	}
}

type projectAddOptions struct {
	description string
	started     string
	ended       string
	assign      map[string]int
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "date %q", s)
	}
	return t, nil
}

func (o projectAddOptions) apply(p *tracker.Project, name string) error {
	if err := p.SetName(name); err != nil {
		return err
	}
	if err := p.SetDescription(o.description); err != nil {
		return err
	}
	if o.started != "" {
		t, err := parseDate(o.started)
		if err != nil {
			return err
		}
		if err := p.SetStarted(t); err != nil {
			return err
		}
	}
	if o.ended != "" {
		t, err := parseDate(o.ended)
		if err != nil {
			return err
		}
		if err := p.SetEnded(t); err != nil {
			return err
		}
	}
	for resource, role := range o.assign {
		id, err := strconv.Atoi(resource)
		if err != nil {
			return errors.Wrapf(err, "resource id %q", resource)
		}
		if _, err := p.Resources().Assign(id, role); err != nil {
			return err
		}
	}
	return nil
}

func newProjectAddCommand(opts *rootOptions) *cobra.Command {
	add := projectAddOptions{}
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a project",
		Example: `  portal project add Portal --description "remote data portal" \
    --started 2024-05-01 --assign 10=1 --assign 11=2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *portal.Client) error {
				p, err := portal.CreateAs[*tracker.Project](ctx, c, nil)
				if err != nil {
					return err
				}
				if err := add.apply(p, args[0]); err != nil {
					return err
				}
				saved, err := entity.Save(ctx, c, p)
				if err != nil {
					return err
				}
				v := viewOf(saved)
				return opts.printer(cmd.OutOrStdout()).print(v, v.writeText)
			})
		},
	}
	cmd.Flags().StringVar(&add.description, "description", "", "project description")
	cmd.Flags().StringVar(&add.started, "started", "", "start date (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringVar(&add.ended, "ended", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringToIntVar(&add.assign, "assign", nil, "assign resource=role, repeatable")
	return cmd
}

func newProjectShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a project and its resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return errors.Wrap(err, "project id")
			}
			return opts.withClient(cmd, func(ctx context.Context, c *portal.Client) error {
				p, err := portal.FetchAs[*tracker.Project](ctx, c, id)
				if err != nil {
					return err
				}
				v := viewOf(p)
				return opts.printer(cmd.OutOrStdout()).print(v, v.writeText)
			})
		},
	}
}

func newProjectExistsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <id>",
		Short: "Report whether a project exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return errors.Wrap(err, "project id")
			}
			return opts.withClient(cmd, func(ctx context.Context, c *portal.Client) error {
				ok, err := tracker.ProjectExistsIn(ctx, c, id)
				if err != nil {
					return err
				}
				return opts.printer(cmd.OutOrStdout()).print(map[string]bool{"exists": ok}, func(w io.Writer) {
					fmt.Fprintln(w, ok)
				})
			})
		},
	}
}
