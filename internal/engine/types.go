// Package engine holds the synthesis engine contract and its backends.
package engine

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-render/internal/audiofile"
	"github.com/loqalabs/loqa-render/internal/voice"
)

// Request contains parameters to synthesize one chunk.
type Request struct {
	Input      string
	Voice      voice.Voice
	Speed      float64
	IsPhonemes bool
}

// Synthesizer is the contract for producing audio. Implementations are shared
// across sessions and used sequentially.
type Synthesizer interface {
	Create(ctx context.Context, req Request) (audiofile.Clip, error)
	VoiceStyle(ctx context.Context, name string) (voice.Style, error)
}

// WithTimeout bounds every Create call on synth by d. A zero d returns synth.
func WithTimeout(synth Synthesizer, d time.Duration) Synthesizer {
	if d <= 0 {
		return synth
	}
	return timeoutSynth{Synthesizer: synth, timeout: d}
}

type timeoutSynth struct {
	Synthesizer
	timeout time.Duration
}

func (t timeoutSynth) Create(ctx context.Context, req Request) (audiofile.Clip, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Synthesizer.Create(ctx, req)
}
