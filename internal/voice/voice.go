// Package voice resolves single voices and weighted two-voice blends into the
// voice handed to the synthesis engine.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyVoice    = errors.New("voice name must not be empty")
	ErrInvalidWeight = errors.New("blend weight must be between 0 and 100")
	ErrStyleMismatch = errors.New("voice styles have different dimensions")
)

// Style is a voice style embedding as exposed by the synthesis engine.
type Style []float32

// Spec names a voice, or a blend of Primary and Secondary where Weight is the
// percentage taken from Secondary.
type Spec struct {
	Primary   string
	Secondary string
	Weight    int
}

func Single(name string) Spec {
	return Spec{Primary: name}
}

func Blend(primary, secondary string, weight int) Spec {
	return Spec{Primary: primary, Secondary: secondary, Weight: weight}
}

func (s Spec) IsBlend() bool { return s.Secondary != "" }

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Primary) == "" {
		return ErrEmptyVoice
	}
	if s.IsBlend() && (s.Weight < 0 || s.Weight > 100) {
		return fmt.Errorf("%w: got %d", ErrInvalidWeight, s.Weight)
	}
	return nil
}

func (s Spec) String() string {
	if !s.IsBlend() {
		return s.Primary
	}
	return fmt.Sprintf("%s+%s@%d", s.Primary, s.Secondary, s.Weight)
}

// Voice is what the engine receives: either a name it looks up itself, or an
// explicit style embedding.
type Voice struct {
	Name  string
	Style Style
}

func (v Voice) Equal(other Voice) bool {
	if v.Name != other.Name || len(v.Style) != len(other.Style) {
		return false
	}
	for i := range v.Style {
		if v.Style[i] != other.Style[i] {
			return false
		}
	}
	return true
}

// StyleSource fetches a named voice's style embedding.
type StyleSource interface {
	VoiceStyle(ctx context.Context, name string) (Style, error)
}

type Resolver struct {
	source StyleSource
}

func NewResolver(source StyleSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve turns spec into a Voice. A blend at weight 0 or 100 resolves exactly
// like the corresponding single voice.
func (r *Resolver) Resolve(ctx context.Context, spec Spec) (Voice, error) {
	if err := spec.Validate(); err != nil {
		return Voice{}, err
	}
	if !spec.IsBlend() || spec.Weight == 0 {
		return Voice{Name: spec.Primary}, nil
	}
	if spec.Weight == 100 {
		return Voice{Name: spec.Secondary}, nil
	}
	if r.source == nil {
		return Voice{}, errors.New("voice blending requires a style source")
	}
	primary, err := r.source.VoiceStyle(ctx, spec.Primary)
	if err != nil {
		return Voice{}, fmt.Errorf("load voice %q: %w", spec.Primary, err)
	}
	secondary, err := r.source.VoiceStyle(ctx, spec.Secondary)
	if err != nil {
		return Voice{}, fmt.Errorf("load voice %q: %w", spec.Secondary, err)
	}
	style, err := Interpolate(primary, secondary, spec.Weight)
	if err != nil {
		return Voice{}, err
	}
	return Voice{Style: style}, nil
}

// Interpolate returns primary*(100-weight)/100 + secondary*weight/100.
func Interpolate(primary, secondary Style, weight int) (Style, error) {
	if weight < 0 || weight > 100 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWeight, weight)
	}
	if len(primary) != len(secondary) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrStyleMismatch, len(primary), len(secondary))
	}
	a := float64(100-weight) / 100
	b := float64(weight) / 100
	out := make(Style, len(primary))
	for i := range primary {
		out[i] = float32(float64(primary[i])*a + float64(secondary[i])*b)
	}
	return out, nil
}
