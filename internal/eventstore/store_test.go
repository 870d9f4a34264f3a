package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-render/internal/config"
	"github.com/loqalabs/loqa-render/internal/render"
	"github.com/loqalabs/loqa-render/internal/session"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "renders.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "ephemeral"})
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.RecordStart(context.Background(), Render{SessionID: "x"}); err != nil {
		t.Fatalf("record start: %v", err)
	}
	if _, err := es.GetRender(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRender() error = %v", err)
	}
}

func TestRecordAndQuery(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	if err := es.RecordStart(ctx, Render{SessionID: "s1", Language: "Japanese", Voice: "jf_alpha", Chunks: 2}); err != nil {
		t.Fatalf("record start: %v", err)
	}
	for i, typ := range []string{EventChunk, EventChunk} {
		if err := es.AppendEvent(ctx, Event{SessionID: "s1", Type: typ, ChunkIndex: i, Payload: []byte("hello")}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	if err := es.RecordFinish(ctx, "s1", "completed", "done"); err != nil {
		t.Fatalf("record finish: %v", err)
	}

	r, err := es.GetRender(ctx, "s1")
	if err != nil {
		t.Fatalf("get render: %v", err)
	}
	if r.State != "completed" || r.Message != "done" || r.Chunks != 2 || r.Language != "Japanese" {
		t.Fatalf("unexpected render %+v", r)
	}
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		t.Fatalf("timestamps missing: %+v", r)
	}

	events, err := es.ListSessionEvents(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[1].ChunkIndex != 1 || string(events[0].Payload) != "hello" {
		t.Fatalf("unexpected events %+v", events)
	}

	if err := es.RecordFinish(ctx, "missing", "failed", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RecordFinish(missing) error = %v", err)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.RecordStart(ctx, Render{SessionID: "old-session"}); err != nil {
		t.Fatalf("record start: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "old-session", Type: EventStatus}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.RecordStart(ctx, Render{SessionID: "new-session"}); err != nil {
		t.Fatalf("record start: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
	renders, err := es.ListRenders(ctx, 10)
	if err != nil {
		t.Fatalf("list renders: %v", err)
	}
	if len(renders) != 1 || renders[0].SessionID != "new-session" {
		t.Fatalf("renders = %+v", renders)
	}
}

func TestRecorderWritesSessionTimeline(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	rec := NewRecorder(es, newLogger())

	rec.SessionStarted(session.Ticket{SessionID: "s1", Chunks: 3, Language: "French", Voice: "ff_siwis"})
	rec.Status("s1", "Rendering chunk 1 of 3...")
	rec.ChunkReady("s1", render.ChunkReady{Index: 0, Total: 3, Path: "chunk_000.wav"})
	rec.SessionFinished(session.Finished{
		SessionID: "s1",
		State:     render.Failed,
		Result:    "Error rendering chunk 1 (Bonjour...): boom",
		Err:       &render.ChunkError{Index: 1, Fragment: "Bonjour", Err: errors.New("boom")},
	})

	r, err := es.GetRender(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get render: %v", err)
	}
	if r.State != "failed" || r.Message == "" {
		t.Fatalf("unexpected render %+v", r)
	}
	events, err := es.ListSessionEvents(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	want := []string{EventStarted, EventStatus, EventChunk, EventError, EventFinished}
	if len(events) != len(want) {
		t.Fatalf("events = %+v", events)
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Fatalf("event %d = %s, want %s", i, events[i].Type, typ)
		}
	}
	if events[3].ChunkIndex != 1 {
		t.Fatalf("error event chunk index = %d", events[3].ChunkIndex)
	}
}
