package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"entityportal/internal/portal"
	"entityportal/internal/tracker"
	"entityportal/pkg/entity"
)

func newRolesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "List and edit the roles resources hold on projects",
	}
	cmd.AddCommand(newRolesListCommand(opts))
	cmd.AddCommand(newRolesAddCommand(opts))
	cmd.AddCommand(newRolesImportCommand(opts))
	return cmd
}

func newRolesListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *portal.Client) error {
				list, err := portal.FetchAs[*tracker.RoleList](ctx, c, nil)
				if err != nil {
					return err
				}
				return opts.printer(cmd.OutOrStdout()).print(list.Items, func(w io.Writer) {
					for _, r := range list.Items {
						fmt.Fprintf(w, "%d\t%s\n", r.ID, r.Name)
					}
				})
			})
		},
	}
}

func newRolesAddCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Add a role with the next free id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *portal.Client) error {
				roles, err := portal.FetchAs[*tracker.Roles](ctx, c, nil)
				if err != nil {
					return err
				}
				r, err := roles.AddNew(args[0])
				if err != nil {
					return err
				}
				id := r.ID()
				if _, err := entity.Save(ctx, c, roles); err != nil {
					return err
				}
				info := tracker.RoleInfo{ID: id, Name: args[0]}
				return opts.printer(cmd.OutOrStdout()).print(info, func(w io.Writer) {
					fmt.Fprintf(w, "%d\t%s\n", info.ID, info.Name)
				})
			})
		},
	}
}

// roleFile is the document read by roles import.
type roleFile struct {
	Roles []struct {
		ID   int    `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"roles"`
}

func readRoleFile(path string) (roleFile, error) {
	var doc roleFile
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, errors.Wrap(err, "read roles file")
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, errors.Wrapf(err, "parse %s", path)
	}
	return doc, nil
}

func newRolesImportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Add or rename roles from a YAML file",
		Long: `Add or rename roles from a YAML file of the form

  roles:
    - id: 1
      name: Developer
    - name: Tester

Entries with an existing id rename that role. Entries without an id, or
with an unknown one, are added. All changes are saved in one call.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readRoleFile(args[0])
			if err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *portal.Client) error {
				roles, err := portal.FetchAs[*tracker.Roles](ctx, c, nil)
				if err != nil {
					return err
				}
				if err := mergeRoles(roles, doc); err != nil {
					return err
				}
				saved, err := entity.Save(ctx, c, roles)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d roles\n", saved.Len())
				return nil
			})
		},
	}
}

func mergeRoles(roles *tracker.Roles, doc roleFile) error {
	for _, entry := range doc.Roles {
		if r, ok := roles.Find(entry.ID); ok && entry.ID != 0 {
			if r.Name() != entry.Name {
				if err := r.SetName(entry.Name); err != nil {
					return err
				}
			}
			continue
		}
		r, err := roles.AddNew(entry.Name)
		if err != nil {
			return err
		}
		if entry.ID != 0 {
			if err := r.SetID(entry.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
