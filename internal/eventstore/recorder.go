package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-render/internal/render"
	"github.com/loqalabs/loqa-render/internal/session"
)

const (
	EventStarted  = "started"
	EventChunk    = "chunk"
	EventStatus   = "status"
	EventFinished = "finished"
	EventError    = "error"
)

const writeTimeout = 5 * time.Second

var _ session.Listener = (*Recorder)(nil)

// Recorder writes controller notifications into the store. Failed and
// cancelled renders also get an error event carrying the message.
type Recorder struct {
	store *Store
	log   *slog.Logger
}

func NewRecorder(store *Store, log *slog.Logger) *Recorder {
	return &Recorder{store: store, log: log.With(slog.String("component", "render-history"))}
}

func (r *Recorder) SessionStarted(t session.Ticket) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err := r.store.RecordStart(ctx, Render{
		SessionID: t.SessionID,
		Language:  t.Language,
		Voice:     t.Voice,
		Output:    t.Output,
		TempDir:   t.TempDir,
		Chunks:    t.Chunks,
		State:     render.Running.String(),
	})
	if err != nil {
		r.log.Warn("failed to record render start", slog.String("session_id", t.SessionID), slog.String("error", err.Error()))
		return
	}
	r.append(ctx, Event{SessionID: t.SessionID, Type: EventStarted, ChunkIndex: -1, Payload: encode(t)})
}

func (r *Recorder) ChunkReady(sessionID string, ev render.ChunkReady) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	r.append(ctx, Event{SessionID: sessionID, Type: EventChunk, ChunkIndex: ev.Index, Payload: encode(map[string]any{
		"index": ev.Index,
		"total": ev.Total,
		"path":  ev.Path,
	})})
}

func (r *Recorder) Status(sessionID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	r.append(ctx, Event{SessionID: sessionID, Type: EventStatus, ChunkIndex: -1, Payload: []byte(message)})
}

func (r *Recorder) SessionFinished(f session.Finished) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if !f.Success {
		r.append(ctx, Event{SessionID: f.SessionID, Type: EventError, ChunkIndex: chunkIndex(f.Err), Payload: []byte(f.Result)})
	}
	r.append(ctx, Event{SessionID: f.SessionID, Type: EventFinished, ChunkIndex: -1, Payload: encode(map[string]any{
		"success":  f.Success,
		"state":    f.State.String(),
		"result":   f.Result,
		"output":   f.Output,
		"temp_dir": f.TempDir,
	})})
	if err := r.store.RecordFinish(ctx, f.SessionID, f.State.String(), f.Result); err != nil {
		r.log.Warn("failed to record render finish", slog.String("session_id", f.SessionID), slog.String("error", err.Error()))
	}
	if err := r.store.Prune(ctx); err != nil {
		r.log.Warn("event store prune failed", slog.String("error", err.Error()))
	}
}

func (r *Recorder) append(ctx context.Context, evt Event) {
	if err := r.store.AppendEvent(ctx, evt); err != nil {
		r.log.Warn("failed to record render event",
			slog.String("session_id", evt.SessionID),
			slog.String("type", evt.Type),
			slog.String("error", err.Error()))
	}
}

func chunkIndex(err error) int {
	var chunkErr *render.ChunkError
	if errors.As(err, &chunkErr) {
		return chunkErr.Index
	}
	return -1
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
