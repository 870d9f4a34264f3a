package g2p

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execBackend struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// NewExecBackend runs command once per conversion, writing a JSON request to
// stdin. The reply may be a JSON string, a [phonemes, ...] tuple or an object
// with a "phonemes" field.
func NewExecBackend(command string) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse g2p command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("g2p command empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("g2p command %q: %w", args[0], err)
	}
	return &execBackend{cmd: args}, nil
}

func (e *execBackend) Phonemize(ctx context.Context, text, language string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	input, err := json.Marshal(execRequest{Text: text, Language: language})
	if err != nil {
		return "", err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("g2p exec command failed: %w: %s", err, stderr.String())
	}
	return decodePhonemes(output)
}

// decodePhonemes normalizes the reply shapes backends are known to produce.
func decodePhonemes(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil
	}

	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		return plain, nil
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err == nil {
		if len(tuple) == 0 {
			return "", nil
		}
		var first string
		if err := json.Unmarshal(tuple[0], &first); err != nil {
			return "", fmt.Errorf("decode g2p tuple: %w", err)
		}
		return first, nil
	}

	var obj struct {
		Phonemes string `json:"phonemes"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("decode g2p response: %w", err)
	}
	if obj.Error != "" {
		return "", errors.New(obj.Error)
	}
	return obj.Phonemes, nil
}
