package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-render/internal/bootstrap"
	"github.com/loqalabs/loqa-render/internal/capability"
	"github.com/loqalabs/loqa-render/internal/eventstore"
	"github.com/loqalabs/loqa-render/internal/player"
	"github.com/loqalabs/loqa-render/internal/render"
	"github.com/loqalabs/loqa-render/internal/session"
	"github.com/spf13/cobra"
)

type renderFlags struct {
	input        textInput
	output       string
	voice        string
	language     string
	speed        float64
	blendVoice   string
	blendBalance int
	loadTimeout  time.Duration
}

func (f *renderFlags) request(text string, cmd *cobra.Command) session.Request {
	req := session.Request{
		Text:       text,
		Voice:      f.voice,
		Language:   f.language,
		Speed:      f.speed,
		OutputFile: f.output,
		BlendVoice: f.blendVoice,
	}
	if cmd.Flags().Changed("blend-balance") {
		balance := f.blendBalance
		req.BlendBalance = &balance
	}
	return req
}

func (f *renderFlags) bind(cmd *cobra.Command) {
	f.input.bind(cmd)
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Fused WAV file to write")
	cmd.Flags().StringVar(&f.voice, "voice", "", "Voice name (config default when empty)")
	cmd.Flags().StringVarP(&f.language, "language", "l", "", "Language display name, e.g. \"British English\"")
	cmd.Flags().Float64Var(&f.speed, "speed", 0, "Speech speed multiplier (config default when 0)")
	cmd.Flags().StringVar(&f.blendVoice, "blend-voice", "", "Second voice to blend with --voice (used only with --blend-balance)")
	cmd.Flags().IntVar(&f.blendBalance, "blend-balance", 50, "Weight of --blend-voice in the blend, 0 to 100")
	_ = cmd.MarkFlagRequired("output")
}

func newRenderCmd(opts *rootOptions) *cobra.Command {
	flags := &renderFlags{}
	cmd := &cobra.Command{
		Use:   "render [text]",
		Short: "Render text locally and print each chunk file as it becomes ready",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			text, err := flags.input.read(cmd, args)
			if err != nil {
				return err
			}
			log := opts.logger(cfg, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := capability.NewRegistry(log)
			bootstrap.Start(ctx, cfg, reg, log)
			loadCtx, cancelLoad := context.WithTimeout(ctx, flags.loadTimeout)
			err = reg.WaitSettled(loadCtx)
			cancelLoad()
			if err != nil {
				return fmt.Errorf("waiting for backends: %w", err)
			}

			store, err := eventstore.Open(ctx, cfg.EventStore, log)
			if err != nil {
				return fmt.Errorf("open event store: %w", err)
			}
			defer store.Close()

			ctrl := session.NewController(session.OptionsFromConfig(cfg.Render), reg, log)
			defer ctrl.Close()
			ctrl.AddListener(eventstore.NewRecorder(store, log))
			playlist := player.NewPlaylist(ctrl.Release, log)
			ctrl.AddListener(playlist)
			ctrl.AddListener(progress{w: cmd.ErrOrStderr()})

			return playSession(ctx, cmd.OutOrStdout(), ctrl, playlist, flags.request(text, cmd))
		},
	}
	flags.bind(cmd)
	cmd.Flags().DurationVar(&flags.loadTimeout, "load-timeout", 2*time.Minute, "How long to wait for the engine and G2P backends to load")
	return cmd
}

// playSession starts req and prints chunk paths in order until the session
// finishes. Interrupting ctx cancels the render.
func playSession(ctx context.Context, out io.Writer, ctrl *session.Controller, playlist *player.Playlist, req session.Request) error {
	ticket, err := ctrl.Render(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session %s: %d chunks\n", ticket.SessionID, ticket.Chunks)

	// After an interrupt Next keeps draining so the cancelled session settles.
	next, cancelled := ctx, false
	for {
		path, err := playlist.Next(next)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !cancelled && ctx.Err() != nil {
			ctrl.Cancel()
			next, cancelled = context.WithoutCancel(ctx), true
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, path)
	}

	finished, _ := playlist.Finished()
	fmt.Fprintln(out, finished.Result)
	if !finished.Success {
		if finished.Err != nil {
			return finished.Err
		}
		return errors.New(finished.Result)
	}
	return nil
}

// progress prints status lines to stderr.
type progress struct {
	w io.Writer
}

func (p progress) SessionStarted(session.Ticket)        {}
func (p progress) ChunkReady(string, render.ChunkReady) {}
func (p progress) SessionFinished(session.Finished)     {}

func (p progress) Status(_ string, message string) {
	fmt.Fprintln(p.w, message)
}
