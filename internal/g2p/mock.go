package g2p

import (
	"context"
	"strings"
)

type mockBackend struct{}

// NewMockBackend returns a backend that lower-cases the text and tags it with
// the language code. Useful for wiring tests and local runs.
func NewMockBackend() Backend { return mockBackend{} }

func (mockBackend) Phonemize(ctx context.Context, text, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	return language + ":" + strings.ToLower(text), nil
}
