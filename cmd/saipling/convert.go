package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/TenVexAI/saipling/pkg/richtext"
)

// ConvertConfig holds the convert command flags.
type ConvertConfig struct {
	To       string
	FromHTML bool
	FromTree bool
}

var convertCmd = &cobra.Command{
	Use:   "convert [file]",
	Short: "Convert between markdown, the editor tree and HTML",
	Long: `Convert a document read from a file or stdin.

Input is markdown unless --from-html (pasted HTML) or --from-tree (editor JSON)
is given. --to selects the output: tree (JSON, default), markdown or html.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := &ConvertConfig{}
		config.To, _ = cmd.Flags().GetString("to")
		config.FromHTML, _ = cmd.Flags().GetBool("from-html")
		config.FromTree, _ = cmd.Flags().GetBool("from-tree")

		text, err := readInput(args)
		if err != nil {
			return err
		}
		return runConvert(cmd.OutOrStdout(), text, config)
	},
}

func init() {
	flags := convertCmd.Flags()
	flags.String("to", "tree", "Output format: tree, markdown or html")
	flags.Bool("from-html", false, "Input is HTML")
	flags.Bool("from-tree", false, "Input is an editor tree in JSON")
}

func runConvert(out io.Writer, text string, config *ConvertConfig) error {
	if config.FromHTML && config.FromTree {
		return errors.New("--from-html and --from-tree are mutually exclusive")
	}

	var tree *richtext.Node
	switch {
	case config.FromHTML:
		var err error
		if tree, err = richtext.FromHTML(text); err != nil {
			return err
		}
	case config.FromTree:
		tree = &richtext.Node{}
		if err := json.Unmarshal([]byte(text), tree); err != nil {
			return errors.Wrap(err, "invalid editor tree")
		}
	default:
		tree = richtext.Parse(text)
	}

	switch strings.ToLower(config.To) {
	case "tree", "json":
		return writeJSON(out, tree)
	case "markdown", "md":
		_, err := fmt.Fprintln(out, richtext.Render(tree))
		return err
	case "html":
		html, err := richtext.TreeToHTML(tree)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(out, html)
		return err
	default:
		return errors.Errorf("unknown output format %q (expected tree, markdown or html)", config.To)
	}
}
