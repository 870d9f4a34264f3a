package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-render/internal/bus"
	"github.com/loqalabs/loqa-render/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	var (
		flags   renderFlags
		wait    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit [text]",
		Short: "Send a render request to a running loqad",
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

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			busCfg := cfg.Bus
			if busCfg.Embedded {
				busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
			}
			client, err := bus.Connect(ctx, busCfg, "loqa-render-cli", log)
			if err != nil {
				return err
			}
			defer client.Close()

			req := flags.request(text, cmd)
			body := protocol.RenderRequest{
				Text:         req.Text,
				Voice:        req.Voice,
				Language:     req.Language,
				Speed:        req.Speed,
				OutputFile:   req.OutputFile,
				BlendVoice:   req.BlendVoice,
				BlendBalance: req.BlendBalance,
			}

			// Subscribe before requesting so no early event is missed.
			var events chan *nats.Msg
			if wait {
				events = make(chan *nats.Msg, 64)
				for _, subject := range []string{protocol.SubjectRenderChunk, protocol.SubjectRenderDone} {
					sub, err := client.Conn().ChanSubscribe(subject, events)
					if err != nil {
						return fmt.Errorf("subscribe %s: %w", subject, err)
					}
					defer sub.Unsubscribe()
				}
			}

			var accepted protocol.RenderAccepted
			if err := client.RequestJSON(ctx, protocol.SubjectRenderRequest, body, &accepted); err != nil {
				return err
			}
			if accepted.Error != "" {
				return errors.New(accepted.Error)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %s: %d chunks\n", accepted.SessionID, accepted.Chunks)
			if !wait {
				return nil
			}

			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case msg := <-events:
					switch msg.Subject {
					case protocol.SubjectRenderChunk:
						var ev protocol.ChunkReady
						if err := json.Unmarshal(msg.Data, &ev); err == nil && ev.SessionID == accepted.SessionID {
							fmt.Fprintln(out, ev.Path)
						}
					case protocol.SubjectRenderDone:
						var ev protocol.RenderFinished
						if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.SessionID != accepted.SessionID {
							continue
						}
						fmt.Fprintln(out, ev.Result)
						release := protocol.RenderRelease{TempDir: ev.TempDir}
						if err := client.PublishJSON(protocol.SubjectRenderRelease, release); err != nil {
							return err
						}
						if !ev.Success {
							return errors.New(ev.Result)
						}
						return nil
					}
				}
			}
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Follow the session until it finishes, then release its directory")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Give up after this long")
	return cmd
}
