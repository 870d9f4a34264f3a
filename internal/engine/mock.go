package engine

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"

	"github.com/loqalabs/loqa-render/internal/audiofile"
	"github.com/loqalabs/loqa-render/internal/voice"
)

const (
	mockStyleDims      = 8
	mockSamplesPerRune = 120
)

type mockSynth struct {
	sampleRate int
}

// NewMockSynth returns an engine that renders a tone whose length tracks the
// input and whose pitch is derived from the voice.
func NewMockSynth(sampleRate int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate}
}

func (m *mockSynth) Create(ctx context.Context, req Request) (audiofile.Clip, error) {
	if err := ctx.Err(); err != nil {
		return audiofile.Clip{}, err
	}
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return audiofile.Clip{}, errors.New("nothing to synthesize")
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}
	style := req.Voice.Style
	if style == nil {
		var err error
		if style, err = m.VoiceStyle(ctx, req.Voice.Name); err != nil {
			return audiofile.Clip{}, err
		}
	}
	freq := 120 + 200*math.Abs(float64(style[0]))
	n := int(float64(len([]rune(input))*mockSamplesPerRune) / speed)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(m.sampleRate)))
	}
	return audiofile.Clip{Samples: samples, SampleRate: m.sampleRate}, nil
}

func (m *mockSynth) VoiceStyle(_ context.Context, name string) (voice.Style, error) {
	if strings.TrimSpace(name) == "" {
		return nil, voice.ErrEmptyVoice
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	seed := h.Sum64()
	style := make(voice.Style, mockStyleDims)
	for i := range style {
		seed = seed*6364136223846793005 + 1442695040888963407
		style[i] = float32(seed>>40)/float32(1<<24)*2 - 1
	}
	return style, nil
}
