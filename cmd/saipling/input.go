package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// stdin is swapped out by tests.
var stdin io.Reader = os.Stdin

// readInput returns the contents of the file named by args[0], or stdin
// when no file or "-" is given.
func readInput(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", errors.Wrap(err, "failed to read stdin")
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", args[0])
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return errors.Wrap(encoder.Encode(v), "failed to encode JSON")
}
