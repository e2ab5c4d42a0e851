package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-chat/pkg/directory"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
)

// Clone command flags.
var (
	clonesWorkspace string
	clonesOutput    string
)

// NewClonesCommand creates the 'clones' command group.
func NewClonesCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "clones",
		Short:   "Inspect the clones mentions resolve to",
		Aliases: []string{"clone"},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List clones",
		Long: `List clones by name. With --workspace, only clones that workspace can
mention are shown: its own clones plus global ones.`,
		Example: `  penf-chat clones list
  penf-chat clones list --workspace ws-1 -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClonesList(cmd.Context(), deps)
		},
	}
	list.Flags().StringVar(&clonesWorkspace, "workspace", "", "Only clones visible to this workspace")
	list.Flags().StringVarP(&clonesOutput, "output", "o", "", "Output format: text, json, yaml")

	cmd.AddCommand(list)
	return cmd
}

func runClonesList(ctx context.Context, deps *Deps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	clones, err := directory.NewPostgresDirectory(pool).List(ctx, clonesWorkspace)
	if err != nil {
		return err
	}
	if clones == nil {
		clones = []mentions.Entity{}
	}

	out := deps.out()
	if done, err := writeStructured(out, resolveFormat(clonesOutput, cfg), clones); done || err != nil {
		return err
	}
	outputClonesText(out, clones, clonesWorkspace)
	return nil
}

func outputClonesText(out io.Writer, clones []mentions.Entity, workspaceID string) {
	if len(clones) == 0 {
		fmt.Fprintln(out, "No clones found.")
		return
	}

	column := "VISIBILITY"
	if workspaceID != "" {
		column = "SCOPE"
	}
	fmt.Fprintf(out, "%-36s  %-20s  %-10s  %s\n", "ID", "NAME", column, "WORKSPACE")
	for _, c := range clones {
		owner := "-"
		if c.WorkspaceID != nil {
			owner = *c.WorkspaceID
		}
		kind := string(c.Visibility)
		if workspaceID != "" {
			kind = string(c.ScopeFor(workspaceID))
		}
		fmt.Fprintf(out, "%-36s  %-20s  %-10s  %s\n", c.ID, truncate(c.Name, 20), kind, owner)
	}
}
