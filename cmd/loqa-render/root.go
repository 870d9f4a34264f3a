package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-render/internal/config"
	"github.com/loqalabs/loqa-render/internal/runtime"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "loqa-render",
		Short: "Render long text to speech, chunk by chunk",
		Long: `loqa-render splits text into sentence-sized chunks, renders each chunk
with the configured speech engine and fuses the result into one WAV file.

Commands:
  render   render text locally and print chunk files as they become ready
  chunk    show how text would be split
  history  list recorded render sessions
  submit   send a render request to a running loqad over the bus`,
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       runtime.Version,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file (defaults plus LOQA_* environment when empty)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(
		newRenderCmd(opts),
		newChunkCmd(opts),
		newHistoryCmd(opts),
		newSubmitCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if o.verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	return cfg, nil
}

// logger writes text logs to stderr so stdout carries only command output.
func (o *rootOptions) logger(cfg config.Config, stderr io.Writer) *slog.Logger {
	if stderr == nil {
		stderr = os.Stderr
	}
	return runtime.NewLogger(cfg.Telemetry, stderr, false)
}
