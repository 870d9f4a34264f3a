// Package g2p routes text to the grapheme-to-phoneme backend suited to its
// language and normalizes what the backends return.
package g2p

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrEmptyConversion means a backend produced no phonemes for non-empty
	// text. It is not retried.
	ErrEmptyConversion = errors.New("g2p conversion returned empty phoneme sequence")

	ErrBackendUnavailable = errors.New("g2p backend not available")
)

// Backend converts text to phonemes for the given language code.
type Backend interface {
	Phonemize(ctx context.Context, text, language string) (string, error)
}

// Result is the dispatcher output. IsPhonemes is false when Phonemes holds the
// raw text for the engine's own phonemizer.
type Result struct {
	Phonemes   string
	IsPhonemes bool
}

var japaneseScript = regexp.MustCompile(`[\x{3040}-\x{30FF}\x{4E00}-\x{9FFF}]`)

// Dispatcher picks a backend per language:
//   - English: text passes through unchanged.
//   - Japanese: kana/kanji text goes to the Japanese backend, romaji passes through.
//   - Mandarin Chinese: always the Chinese backend.
//   - anything else: the generic backend with the language code.
type Dispatcher struct {
	generic  Backend
	japanese Backend
	chinese  Backend
}

func NewDispatcher(generic, japanese, chinese Backend) *Dispatcher {
	return &Dispatcher{generic: generic, japanese: japanese, chinese: chinese}
}

func (d *Dispatcher) Convert(ctx context.Context, text string, lang Language) (Result, error) {
	switch {
	case lang.IsEnglish():
		return Result{Phonemes: text}, nil
	case lang == Japanese:
		if !japaneseScript.MatchString(text) {
			return Result{Phonemes: text}, nil
		}
		return d.run(ctx, d.japanese, text, lang)
	case lang == MandarinChinese:
		return d.run(ctx, d.chinese, text, lang)
	case lang.Code == "":
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, lang.Name)
	default:
		return d.run(ctx, d.generic, text, lang)
	}
}

func (d *Dispatcher) run(ctx context.Context, backend Backend, text string, lang Language) (Result, error) {
	if backend == nil {
		return Result{}, fmt.Errorf("%w for %s", ErrBackendUnavailable, lang.Name)
	}
	phonemes, err := backend.Phonemize(ctx, text, lang.Code)
	if err != nil {
		return Result{}, fmt.Errorf("g2p %s: %w", lang.Code, err)
	}
	phonemes = strings.TrimSpace(phonemes)
	if phonemes == "" {
		return Result{}, fmt.Errorf("%w (%s)", ErrEmptyConversion, lang.Code)
	}
	return Result{Phonemes: phonemes, IsPhonemes: true}, nil
}
