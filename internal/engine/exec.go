package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-render/internal/audiofile"
	"github.com/loqalabs/loqa-render/internal/voice"
	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd        []string
	sampleRate int
	mu         sync.Mutex
}

type execRequest struct {
	Op         string    `json:"op"`
	Input      string    `json:"input,omitempty"`
	Voice      string    `json:"voice,omitempty"`
	Style      []float32 `json:"style,omitempty"`
	Speed      float64   `json:"speed,omitempty"`
	IsPhonemes bool      `json:"is_phonemes,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
}

// execResponse is one stdout line. Audio may arrive over several lines; the
// last one carries final=true.
type execResponse struct {
	PCMBase64  string    `json:"pcm_base64"`
	SampleRate int       `json:"sample_rate"`
	Final      bool      `json:"final"`
	Style      []float32 `json:"style"`
	Error      string    `json:"error"`
}

// NewExecSynth drives an external engine process, one invocation per call,
// speaking JSON lines over stdin/stdout.
func NewExecSynth(command string, sampleRate int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("engine command %q: %w", args[0], err)
	}
	return &execSynth{cmd: args, sampleRate: sampleRate}, nil
}

func (e *execSynth) Create(ctx context.Context, req Request) (audiofile.Clip, error) {
	payload := execRequest{
		Op:         "create",
		Input:      req.Input,
		Voice:      req.Voice.Name,
		Style:      req.Voice.Style,
		Speed:      req.Speed,
		IsPhonemes: req.IsPhonemes,
		SampleRate: e.sampleRate,
	}
	var pcm []byte
	sampleRate := e.sampleRate
	final := false
	err := e.run(ctx, payload, func(resp execResponse) error {
		data, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			return err
		}
		pcm = append(pcm, data...)
		if resp.SampleRate > 0 {
			sampleRate = resp.SampleRate
		}
		final = final || resp.Final
		return nil
	})
	if err != nil {
		return audiofile.Clip{}, err
	}
	if !final {
		return audiofile.Clip{}, errors.New("engine exited before final audio frame")
	}
	return audiofile.FromPCM16(pcm, sampleRate)
}

func (e *execSynth) VoiceStyle(ctx context.Context, name string) (voice.Style, error) {
	var style voice.Style
	err := e.run(ctx, execRequest{Op: "style", Voice: name}, func(resp execResponse) error {
		style = append(style, resp.Style...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(style) == 0 {
		return nil, fmt.Errorf("engine returned no style for voice %q", name)
	}
	return style, nil
}

func (e *execSynth) run(ctx context.Context, payload execRequest, handle func(execResponse) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	var handleErr error
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || handleErr != nil {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			handleErr = fmt.Errorf("decode engine response: %w", err)
			continue
		}
		if resp.Error != "" {
			handleErr = errors.New(resp.Error)
			continue
		}
		handleErr = handle(resp)
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("engine command failed: %w: %s", err, stderr.String())
	}
	if handleErr != nil {
		return handleErr
	}
	return scanErr
}
