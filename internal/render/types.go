// Package render runs one session's chunks through G2P, voice resolution,
// synthesis and fusion.
package render

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-render/internal/g2p"
	"github.com/loqalabs/loqa-render/internal/voice"
)

type State int

const (
	Idle State = iota
	Running
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

const (
	MessageNothingToRender = "nothing to render"
	MessageCancelled       = "Render cancelled by user."
)

// Chunk is one unit of work. Path is set once its audio file is written.
type Chunk struct {
	Index      int
	Text       string
	Phonemes   string
	IsPhonemes bool
	Path       string
}

// Outcome is the terminal result of a render. Output is set on Completed
// when audio was fused; Files lists the chunk files still on disk.
type Outcome struct {
	State   State
	Output  string
	Message string
	Err     error
	Chunks  int
	Files   []string
}

func (o Outcome) Success() bool { return o.State == Completed }

// Event is delivered on Renderer.Events.
type Event interface {
	event()
}

type ChunkReady struct {
	Index int
	Total int
	Path  string
}

type Status struct {
	Message string
}

type Finished struct {
	Outcome Outcome
}

func (ChunkReady) event() {}
func (Status) event()     {}
func (Finished) event()   {}

// ChunkError reports the chunk whose processing ended the session.
type ChunkError struct {
	Index    int
	Fragment string
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("Error rendering chunk %d (%s...): %v", e.Index, e.Fragment, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Converter turns chunk text into engine input.
type Converter interface {
	Convert(ctx context.Context, text string, lang g2p.Language) (g2p.Result, error)
}

// VoiceResolver produces the voice every chunk of a session is rendered with.
type VoiceResolver interface {
	Resolve(ctx context.Context, spec voice.Spec) (voice.Voice, error)
}
