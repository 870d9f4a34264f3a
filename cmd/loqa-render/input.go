package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var errNoText = errors.New("no text given: pass it as an argument, with --file, or on stdin")

// textInput resolves the text to render from an argument, a file or stdin.
type textInput struct {
	file string
}

func (t *textInput) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&t.file, "file", "f", "", "Read text from file (- for stdin)")
}

func (t *textInput) read(cmd *cobra.Command, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case len(args) > 0:
		data = []byte(args[0])
	case t.file == "" || t.file == "-":
		data, err = io.ReadAll(cmd.InOrStdin())
	default:
		data, err = os.ReadFile(t.file)
	}
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", errNoText
	}
	return text, nil
}
