package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/TenVexAI/saipling/pkg/frontmatter"
)

var frontmatterCmd = &cobra.Command{
	Use:   "frontmatter [file]",
	Short: "Print a document's metadata header as JSON",
	Long: `Parse the metadata header of a document read from a file or stdin and print
it as JSON. With --set key=value the header is updated and the whole document
is printed instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := cmd.Flags().GetStringToString("set")
		if err != nil {
			return err
		}
		text, err := readInput(args)
		if err != nil {
			return err
		}
		return runFrontmatter(cmd.OutOrStdout(), text, set)
	},
}

func init() {
	frontmatterCmd.Flags().StringToString("set", nil, "Set metadata fields (key=value) and print the updated document")
}

func runFrontmatter(out io.Writer, text string, set map[string]string) error {
	metadata, body := frontmatter.Parse(text)
	if len(set) == 0 {
		if metadata == nil {
			metadata = map[string]any{}
		}
		return writeJSON(out, metadata)
	}

	updates := make(map[string]any, len(set))
	for k, v := range set {
		updates[k] = frontmatter.DecodeValue(v)
	}
	_, err := fmt.Fprint(out, frontmatter.Serialize(frontmatter.Merge(metadata, updates), body))
	return err
}
