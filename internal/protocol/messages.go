package protocol

import "time"

// RenderRequest asks the daemon to render text into OutputFile.
type RenderRequest struct {
	Text         string  `json:"text"`
	Voice        string  `json:"voice,omitempty"`
	Language     string  `json:"language,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
	OutputFile   string  `json:"output_file"`
	BlendVoice   string  `json:"blend_voice,omitempty"`
	BlendBalance *int    `json:"blend_balance,omitempty"`
}

// RenderAccepted is the reply to a RenderRequest. Error is set when the
// request was rejected and no session started.
type RenderAccepted struct {
	SessionID string    `json:"session_id,omitempty"`
	TempDir   string    `json:"temp_dir,omitempty"`
	Chunks    int       `json:"chunks"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChunkReady announces a chunk file the player can queue.
type ChunkReady struct {
	SessionID string    `json:"session_id"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// RenderStatus carries progress text for a session.
type RenderStatus struct {
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RenderFinished is published once per session. The receiver owns TempDir
// and frees it with a RenderRelease.
type RenderFinished struct {
	SessionID string    `json:"session_id"`
	Success   bool      `json:"success"`
	State     string    `json:"state"`
	Result    string    `json:"result"`
	Output    string    `json:"output,omitempty"`
	TempDir   string    `json:"temp_dir"`
	Timestamp time.Time `json:"timestamp"`
}

// RenderRelease asks the daemon to delete a finished session's directory.
type RenderRelease struct {
	TempDir string `json:"temp_dir"`
}

// CapabilityStatus reports a backend readiness change.
type CapabilityStatus struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope frames a bus message for the HTTP event stream.
type Envelope struct {
	Subject string `json:"subject"`
	Data    any    `json:"data"`
}

const (
	SubjectRenderRequest    = "render.request"
	SubjectRenderStarted    = "render.started"
	SubjectRenderCancel     = "render.cancel"
	SubjectRenderChunk      = "render.chunk"
	SubjectRenderStatus     = "render.status"
	SubjectRenderDone       = "render.done"
	SubjectRenderRelease    = "render.release"
	SubjectCapabilityStatus = "render.capability"
)
