package service

import (
	"time"

	"github.com/loqalabs/loqa-render/internal/capability"
	"github.com/loqalabs/loqa-render/internal/protocol"
	"github.com/loqalabs/loqa-render/internal/render"
	"github.com/loqalabs/loqa-render/internal/session"
)

var _ session.Listener = Events{}

// Events converts controller notifications into protocol messages and hands
// each one to Emit with its subject.
type Events struct {
	Emit func(subject string, v any)
}

func (e Events) SessionStarted(t session.Ticket) {
	e.Emit(protocol.SubjectRenderStarted, protocol.RenderAccepted{
		SessionID: t.SessionID,
		TempDir:   t.TempDir,
		Chunks:    t.Chunks,
		Timestamp: time.Now().UTC(),
	})
}

func (e Events) ChunkReady(sessionID string, ev render.ChunkReady) {
	e.Emit(protocol.SubjectRenderChunk, protocol.ChunkReady{
		SessionID: sessionID,
		Index:     ev.Index,
		Total:     ev.Total,
		Path:      ev.Path,
		Timestamp: time.Now().UTC(),
	})
}

func (e Events) Status(sessionID, message string) {
	e.Emit(protocol.SubjectRenderStatus, protocol.RenderStatus{SessionID: sessionID, Message: message, Timestamp: time.Now().UTC()})
}

func (e Events) SessionFinished(f session.Finished) {
	e.Emit(protocol.SubjectRenderDone, protocol.RenderFinished{
		SessionID: f.SessionID,
		Success:   f.Success,
		State:     f.State.String(),
		Result:    f.Result,
		Output:    f.Output,
		TempDir:   f.TempDir,
		Timestamp: time.Now().UTC(),
	})
}

// PublishCapability announces a backend readiness change.
func (e Events) PublishCapability(st capability.Status) {
	e.Emit(protocol.SubjectCapabilityStatus, protocol.CapabilityStatus{
		Name:      string(st.Name),
		State:     st.State.String(),
		Detail:    st.Detail,
		Timestamp: st.UpdatedAt,
	})
}
