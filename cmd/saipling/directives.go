package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/TenVexAI/saipling/pkg/apply"
	"github.com/TenVexAI/saipling/pkg/directives"
	"github.com/TenVexAI/saipling/pkg/presenter"
	"github.com/TenVexAI/saipling/pkg/storage"
)

// DirectivesConfig holds the directives command flags.
type DirectivesConfig struct {
	Apply bool
	Diff  bool
	Yes   bool
	JSON  bool
}

var directivesCmd = &cobra.Command{
	Use:   "directives [file]",
	Short: "Extract edit directives from a model reply",
	Long: `Extract saipling-apply directives from a model reply read from a file or stdin.

By default the directives are listed. --diff previews each change against the
workspace, and --apply writes them after confirmation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := &DirectivesConfig{}
		config.Apply, _ = cmd.Flags().GetBool("apply")
		config.Diff, _ = cmd.Flags().GetBool("diff")
		config.Yes, _ = cmd.Flags().GetBool("yes")
		config.JSON, _ = cmd.Flags().GetBool("json")

		text, err := readInput(args)
		if err != nil {
			return err
		}
		root, err := cfg.WorkspaceRoot()
		if err != nil {
			return err
		}
		return runDirectives(cmd.Context(), cmd.OutOrStdout(), presenter.Default(), storage.New(root), text, config)
	},
}

func init() {
	flags := directivesCmd.Flags()
	flags.Bool("apply", false, "Write the directives to the workspace")
	flags.Bool("diff", false, "Show the diff each directive would produce")
	flags.BoolP("yes", "y", false, "Apply without asking for confirmation")
	flags.Bool("json", false, "Print the directives as JSON")
}

func runDirectives(ctx context.Context, out io.Writer, p presenter.Presenter, store apply.Store, text string, config *DirectivesConfig) error {
	found, _ := directives.Extract(text)
	if config.JSON {
		if found == nil {
			found = []directives.Directive{}
		}
		return writeJSON(out, found)
	}
	if len(found) == 0 {
		p.Info("No directives found.")
		return nil
	}

	p.Section(fmt.Sprintf("%d directive(s)", len(found)))
	var actionable []directives.Directive
	for i, d := range found {
		p.Directive(i+1, d)
		if d.Actionable() {
			actionable = append(actionable, d)
		}
		if config.Diff && d.Actionable() {
			change, err := apply.Preview(ctx, store, d)
			if err != nil {
				p.Warning(err.Error())
				continue
			}
			p.Diff(change.Diff)
		}
	}

	if !config.Apply {
		return nil
	}
	if len(actionable) == 0 {
		p.Warning("Nothing to apply: every directive is display-only.")
		return nil
	}
	if !config.Yes && !p.Confirm(fmt.Sprintf("Apply %d directive(s)?", len(actionable))) {
		p.Info("Nothing applied.")
		return nil
	}

	changes, err := apply.Apply(ctx, store, actionable)
	for _, change := range changes {
		p.Success(fmt.Sprintf("%s %s", change.Directive.Action, change.Path))
	}
	return err
}
