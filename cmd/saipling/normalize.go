package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TenVexAI/saipling/pkg/draft"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize [file]",
	Short: "Strip wrappers and headers from a raw model reply",
	Long: `Turn a raw model reply into a draft body: unwrap a surrounding code fence or
directive tag and drop directive and metadata headers. Reads a file or stdin
and prints the result.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(args)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), draft.Normalize(text))
		return err
	},
}
