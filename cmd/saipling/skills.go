package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/TenVexAI/saipling/pkg/skills"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "List the skills available to generate",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := cfg.WorkspaceRoot()
		if err != nil {
			return err
		}
		registry := skills.Initialize(cmd.Context(), skillDirs(root), cfg.AllowedSkills)

		all := registry.All()
		names := make([]string, 0, len(all))
		for name := range all {
			names = append(names, name)
		}
		sort.Strings(names)

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "Name\tSource\tOutput\tDescription")
		for _, name := range names {
			skill := all[name]
			source := skill.Directory
			if skill.Builtin {
				source = "builtin"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", skill.Name, source, skill.Output, skill.Description)
		}
		return tw.Flush()
	},
}
