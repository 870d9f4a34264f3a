package main

import (
	"fmt"
	"unicode/utf8"

	"github.com/loqalabs/loqa-render/internal/chunker"
	"github.com/spf13/cobra"
)

func newChunkCmd(opts *rootOptions) *cobra.Command {
	var (
		input     textInput
		maxLength int
	)
	cmd := &cobra.Command{
		Use:   "chunk [text]",
		Short: "Print the chunks text would be rendered in",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			text, err := input.read(cmd, args)
			if err != nil {
				return err
			}
			if maxLength <= 0 {
				maxLength = cfg.Render.MaxChunkLength
			}
			out := cmd.OutOrStdout()
			for i, chunk := range chunker.Split(text, maxLength) {
				fmt.Fprintf(out, "%03d [%d] %s\n", i, utf8.RuneCountInString(chunk), chunk)
			}
			return nil
		},
	}
	input.bind(cmd)
	cmd.Flags().IntVar(&maxLength, "max-length", 0, "Maximum chunk length in code points (config default when 0)")
	return cmd
}
