package bootstrap

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-render/internal/capability"
	"github.com/loqalabs/loqa-render/internal/config"
	"github.com/loqalabs/loqa-render/internal/g2p"
)

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("bootstrap did not finish")
	}
}

func TestStartMockBackendsAllReady(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	reg := capability.NewRegistry(log)
	waitDone(t, Start(context.Background(), config.Default(), reg, log))

	for _, s := range reg.Snapshot() {
		if s.State != capability.Ready {
			t.Fatalf("%s = %s", s.Name, s.State)
		}
	}
	for _, lang := range g2p.Languages {
		if _, err := reg.Require(lang); err != nil {
			t.Fatalf("Require(%s) error = %v", lang, err)
		}
	}
}

func TestStartExecMissingCommands(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	cfg := config.Default()
	cfg.Engine.Mode = "exec"
	cfg.Engine.Command = "definitely-not-a-real-engine-binary"
	cfg.G2P.Mode = "exec"
	cfg.G2P.EspeakCommand = "definitely-not-a-real-espeak-binary"

	reg := capability.NewRegistry(log)
	waitDone(t, Start(context.Background(), cfg, reg, log))

	for _, s := range reg.Snapshot() {
		if s.State != capability.Failed {
			t.Fatalf("%s = %s, want failed", s.Name, s.State)
		}
	}
	status := map[capability.Name]capability.Status{}
	for _, s := range reg.Snapshot() {
		status[s.Name] = s
	}
	if status[capability.Japanese].Detail != ErrNotConfigured.Error() {
		t.Fatalf("ja detail = %q", status[capability.Japanese].Detail)
	}
}
