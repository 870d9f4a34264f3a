// Package bootstrap brings the synthesis and G2P backends up in the
// background and reports each one to the capability registry.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-render/internal/capability"
	"github.com/loqalabs/loqa-render/internal/config"
	"github.com/loqalabs/loqa-render/internal/engine"
	"github.com/loqalabs/loqa-render/internal/g2p"
	"golang.org/x/sync/errgroup"
)

var ErrNotConfigured = errors.New("backend command not configured")

// Start loads every backend concurrently. The returned channel is closed once
// each backend is marked ready or failed.
func Start(ctx context.Context, cfg config.Config, reg *capability.Registry, log *slog.Logger) <-chan struct{} {
	log = log.With(slog.String("component", "bootstrap"))
	done := make(chan struct{})

	go func() {
		defer close(done)
		started := time.Now()
		var g errgroup.Group
		g.Go(func() error {
			synth, err := newEngine(cfg.Engine)
			if err != nil {
				reg.SetFailed(capability.Engine, err)
				return nil
			}
			reg.SetEngine(synth)
			return nil
		})
		for name, command := range g2pCommands(cfg.G2P) {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					reg.SetFailed(name, err)
					return nil
				}
				backend, err := newG2P(cfg.G2P.Mode, command)
				if err != nil {
					reg.SetFailed(name, err)
					return nil
				}
				reg.SetG2P(name, backend)
				return nil
			})
		}
		_ = g.Wait()
		log.Info("backends settled", slog.Duration("elapsed", time.Since(started)))
	}()
	return done
}

func g2pCommands(cfg config.G2PConfig) map[capability.Name]string {
	return map[capability.Name]string{
		capability.Espeak:   cfg.EspeakCommand,
		capability.Japanese: cfg.JACommand,
		capability.Chinese:  cfg.ZHCommand,
	}
}

func newEngine(cfg config.EngineConfig) (engine.Synthesizer, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	switch cfg.Mode {
	case "", "mock":
		return engine.NewMockSynth(cfg.SampleRate), nil
	case "exec":
		synth, err := engine.NewExecSynth(cfg.Command, cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		return engine.WithTimeout(synth, timeout), nil
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
}

func newG2P(mode, command string) (g2p.Backend, error) {
	switch mode {
	case "", "mock":
		return g2p.NewMockBackend(), nil
	case "exec":
		if strings.TrimSpace(command) == "" {
			return nil, ErrNotConfigured
		}
		return g2p.NewExecBackend(command)
	default:
		return nil, fmt.Errorf("unknown g2p mode %q", mode)
	}
}
