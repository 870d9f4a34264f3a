package capability

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-render/internal/engine"
	"github.com/loqalabs/loqa-render/internal/g2p"
)

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.DiscardHandler))
}

func TestRequireReportsLoadingBackends(t *testing.T) {
	r := newTestRegistry()
	r.SetEngine(engine.NewMockSynth(24000))

	_, err := r.Require(g2p.AmericanEnglish)
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("Require() error = %v, want NotReadyError", err)
	}
	if len(notReady.Missing) != 1 || notReady.Missing[0].Name != Espeak || notReady.Missing[0].State != Loading {
		t.Fatalf("missing = %+v", notReady.Missing)
	}
}

func TestRequirePerLanguage(t *testing.T) {
	r := newTestRegistry()
	r.SetEngine(engine.NewMockSynth(24000))
	r.SetG2P(Espeak, g2p.NewMockBackend())
	r.SetFailed(Chinese, errors.New("pypinyin missing"))

	bundle, err := r.Require(g2p.French)
	if err != nil {
		t.Fatalf("Require(French) error = %v", err)
	}
	if bundle.Engine == nil || bundle.Generic == nil || bundle.Chinese != nil {
		t.Fatalf("unexpected bundle %+v", bundle)
	}

	if _, err := r.Require(g2p.Japanese); err == nil {
		t.Fatal("Japanese should wait for its backend")
	}

	_, err = r.Require(g2p.MandarinChinese)
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("Require(Mandarin) error = %v", err)
	}
	if notReady.Missing[0].State != Failed || notReady.Missing[0].Detail != "pypinyin missing" {
		t.Fatalf("missing = %+v", notReady.Missing)
	}
}

func TestWaitSettled(t *testing.T) {
	r := newTestRegistry()
	var seen []Status
	r.Watch(func(s Status) { seen = append(seen, s) })

	done := make(chan error, 1)
	go func() { done <- r.WaitSettled(context.Background()) }()

	r.SetEngine(engine.NewMockSynth(24000))
	r.SetG2P(Espeak, g2p.NewMockBackend())
	r.SetG2P(Japanese, g2p.NewMockBackend())
	r.SetFailed(Chinese, nil)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitSettled() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitSettled did not return")
	}
	if !r.Settled() {
		t.Fatal("registry should be settled")
	}
	if len(seen) != 4 {
		t.Fatalf("watched %d updates, want 4", len(seen))
	}
}

func TestWaitSettledHonoursContext(t *testing.T) {
	r := newTestRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.WaitSettled(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitSettled() error = %v", err)
	}
}

func TestSnapshotSorted(t *testing.T) {
	snap := newTestRegistry().Snapshot()
	if len(snap) != len(Names) {
		t.Fatalf("snapshot size = %d", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i-1].Name > snap[i].Name {
			t.Fatalf("snapshot not sorted: %v", snap)
		}
	}
}
