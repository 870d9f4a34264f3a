// Package session owns the render lifecycle: at most one renderer at a time,
// its temp directory, and the notifications listeners receive about it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-render/internal/capability"
	"github.com/loqalabs/loqa-render/internal/config"
	"github.com/loqalabs/loqa-render/internal/g2p"
	"github.com/loqalabs/loqa-render/internal/render"
	"github.com/loqalabs/loqa-render/internal/voice"
)

const tempDirPrefix = "temp_chunks_"

var (
	ErrClosed         = errors.New("render controller closed")
	ErrEmptyOutput    = errors.New("output file must not be empty")
	ErrInvalidSpeed   = errors.New("speed must be positive")
	ErrSessionRunning = errors.New("session is still running")
	ErrNotSessionDir  = errors.New("not a session temp directory")
)

// Request is a caller's render request. Empty Voice, Language and zero Speed
// fall back to the configured defaults. BlendBalance is the percentage taken
// from BlendVoice; without it BlendVoice is ignored.
type Request struct {
	Text         string  `json:"text"`
	Voice        string  `json:"voice,omitempty"`
	Language     string  `json:"language,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
	OutputFile   string  `json:"output_file"`
	BlendVoice   string  `json:"blend_voice,omitempty"`
	BlendBalance *int    `json:"blend_balance,omitempty"`
}

// Ticket identifies an accepted render.
type Ticket struct {
	SessionID string `json:"session_id"`
	TempDir   string `json:"temp_dir"`
	Output    string `json:"output"`
	Chunks    int    `json:"chunks"`
	Language  string `json:"language"`
	Voice     string `json:"voice"`
}

// Finished is delivered once per session. The caller owns TempDir from here
// on and frees it with Release.
type Finished struct {
	SessionID string
	Success   bool
	Result    string
	Output    string
	TempDir   string
	State     render.State
	Err       error
}

type Listener interface {
	SessionStarted(t Ticket)
	ChunkReady(sessionID string, ev render.ChunkReady)
	Status(sessionID, message string)
	SessionFinished(f Finished)
}

// Readiness hands out the backends for a language once they are loaded.
type Readiness interface {
	Require(lang g2p.Language) (capability.Bundle, error)
}

type Options struct {
	TempRoot        string
	MaxChunkLength  int
	StopTimeout     time.Duration
	DefaultVoice    string
	DefaultLanguage string
	DefaultSpeed    float64
}

func OptionsFromConfig(cfg config.RenderConfig) Options {
	return Options{
		TempRoot:        cfg.TempRoot,
		MaxChunkLength:  cfg.MaxChunkLength,
		StopTimeout:     time.Duration(cfg.StopTimeoutMS) * time.Millisecond,
		DefaultVoice:    cfg.DefaultVoice,
		DefaultLanguage: cfg.DefaultLanguage,
		DefaultSpeed:    cfg.DefaultSpeed,
	}
}

type run struct {
	id       string
	tempDir  string
	renderer *render.Renderer
	done     chan struct{}
}

type Controller struct {
	opts  Options
	ready Readiness
	log   *slog.Logger
	queue *dispatcher

	// renderMu serializes Render, Cancel and Close.
	renderMu sync.Mutex

	mu        sync.Mutex
	active    *run
	running   map[string]*run
	listeners []Listener
	closed    bool
}

func NewController(opts Options, ready Readiness, log *slog.Logger) *Controller {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 2 * time.Second
	}
	if opts.TempRoot == "" {
		opts.TempRoot = "."
	}
	if abs, err := filepath.Abs(opts.TempRoot); err == nil {
		opts.TempRoot = abs
	}
	if opts.DefaultSpeed <= 0 {
		opts.DefaultSpeed = 1
	}
	log = log.With(slog.String("component", "render-controller"))
	return &Controller{
		opts:    opts,
		ready:   ready,
		log:     log,
		queue:   newDispatcher(log),
		running: make(map[string]*run),
	}
}

func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Render validates req, stops any running session and starts a new one.
// Nothing is started when an error is returned.
func (c *Controller) Render(ctx context.Context, req Request) (Ticket, error) {
	job, bundle, err := c.prepare(req)
	if err != nil {
		return Ticket{}, err
	}

	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	if c.isClosed() {
		return Ticket{}, ErrClosed
	}
	c.stopActive()

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	job.SessionID = id
	job.TempDir = filepath.Join(c.opts.TempRoot, tempDirPrefix+id)
	if err := os.MkdirAll(job.TempDir, 0o755); err != nil {
		return Ticket{}, fmt.Errorf("create session directory: %w", err)
	}

	renderer := render.New(job, render.Deps{
		G2P:    bundle.Dispatcher(),
		Voices: voice.NewResolver(bundle.Engine),
		Engine: bundle.Engine,
		Logger: c.log,
	})
	r := &run{id: id, tempDir: job.TempDir, renderer: renderer, done: make(chan struct{})}
	ticket := Ticket{
		SessionID: id,
		TempDir:   job.TempDir,
		Output:    job.Output,
		Chunks:    len(renderer.Chunks()),
		Language:  job.Language.Name,
		Voice:     job.Voice.String(),
	}

	c.mu.Lock()
	c.active = r
	c.running[r.tempDir] = r
	c.mu.Unlock()

	c.notify(func(l Listener) { l.SessionStarted(ticket) })
	c.log.Info("render started",
		slog.String("session_id", id),
		slog.Int("chunks", ticket.Chunks),
		slog.String("language", ticket.Language),
		slog.String("voice", ticket.Voice))

	go c.pump(r)
	go renderer.Run(context.WithoutCancel(ctx))
	return ticket, nil
}

func (c *Controller) prepare(req Request) (render.Job, capability.Bundle, error) {
	output := strings.TrimSpace(req.OutputFile)
	if output == "" {
		return render.Job{}, capability.Bundle{}, ErrEmptyOutput
	}
	speed := req.Speed
	if speed == 0 {
		speed = c.opts.DefaultSpeed
	}
	if speed < 0 {
		return render.Job{}, capability.Bundle{}, fmt.Errorf("%w: got %v", ErrInvalidSpeed, req.Speed)
	}
	langName := req.Language
	if strings.TrimSpace(langName) == "" {
		langName = c.opts.DefaultLanguage
	}
	lang, err := g2p.ParseLanguage(langName)
	if err != nil {
		return render.Job{}, capability.Bundle{}, err
	}
	primary := req.Voice
	if strings.TrimSpace(primary) == "" {
		primary = c.opts.DefaultVoice
	}
	// A blend needs both a second voice and a balance; otherwise the primary
	// voice renders alone.
	spec := voice.Single(primary)
	if strings.TrimSpace(req.BlendVoice) != "" && req.BlendBalance != nil {
		spec = voice.Blend(primary, req.BlendVoice, *req.BlendBalance)
	}
	if err := spec.Validate(); err != nil {
		return render.Job{}, capability.Bundle{}, err
	}
	bundle, err := c.ready.Require(lang)
	if err != nil {
		return render.Job{}, capability.Bundle{}, err
	}
	return render.Job{
		Text:      req.Text,
		MaxLength: c.opts.MaxChunkLength,
		Language:  lang,
		Voice:     spec,
		Speed:     speed,
		Output:    output,
	}, bundle, nil
}

// pump forwards a renderer's events to the listeners and retires the run
// after its final event.
func (c *Controller) pump(r *run) {
	defer close(r.done)
	for ev := range r.renderer.Events() {
		switch ev := ev.(type) {
		case render.ChunkReady:
			c.notify(func(l Listener) { l.ChunkReady(r.id, ev) })
		case render.Status:
			c.notify(func(l Listener) { l.Status(r.id, ev.Message) })
		case render.Finished:
			c.finish(r, ev.Outcome)
		}
	}
}

func (c *Controller) finish(r *run, out render.Outcome) {
	c.mu.Lock()
	if c.active == r {
		c.active = nil
	}
	delete(c.running, r.tempDir)
	c.mu.Unlock()

	f := Finished{
		SessionID: r.id,
		Success:   out.Success(),
		Result:    out.Message,
		Output:    out.Output,
		TempDir:   r.tempDir,
		State:     out.State,
		Err:       out.Err,
	}
	c.notify(func(l Listener) { l.SessionFinished(f) })
}

// Cancel stops the running session, if any. It waits at most StopTimeout and
// detaches the worker either way.
func (c *Controller) Cancel() {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.stopActive()
}

func (c *Controller) stopActive() {
	c.mu.Lock()
	r := c.active
	c.active = nil
	c.mu.Unlock()
	if r == nil {
		return
	}

	r.renderer.Cancel()
	timer := time.NewTimer(c.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-r.done:
		c.log.Info("render stopped", slog.String("session_id", r.id))
	case <-timer.C:
		c.log.Warn("render worker did not finish within stop timeout",
			slog.String("session_id", r.id),
			slog.Duration("timeout", c.opts.StopTimeout))
	}
}

// Active reports the session currently owned by the controller.
func (c *Controller) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", false
	}
	return c.active.id, true
}

// Release deletes a finished session's temp directory.
func (c *Controller) Release(tempDir string) error {
	dir, err := c.sessionDir(tempDir)
	if err != nil {
		return err
	}
	c.mu.Lock()
	_, busy := c.running[dir]
	c.mu.Unlock()
	if busy {
		return fmt.Errorf("%w: %s", ErrSessionRunning, tempDir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	c.log.Debug("session directory released", slog.String("temp_dir", dir))
	return nil
}

func (c *Controller) sessionDir(tempDir string) (string, error) {
	if strings.TrimSpace(tempDir) == "" {
		return "", ErrNotSessionDir
	}
	dir, err := filepath.Abs(tempDir)
	if err != nil {
		return "", err
	}
	if filepath.Dir(dir) != c.opts.TempRoot || !strings.HasPrefix(filepath.Base(dir), tempDirPrefix) {
		return "", fmt.Errorf("%w: %s", ErrNotSessionDir, tempDir)
	}
	return dir, nil
}

// Close cancels the running session and delivers pending notifications.
func (c *Controller) Close() {
	c.renderMu.Lock()
	if c.isClosed() {
		c.renderMu.Unlock()
		return
	}
	c.stopActive()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.renderMu.Unlock()
	c.queue.close()
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) notify(fn func(Listener)) {
	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()
	if len(listeners) == 0 {
		return
	}
	c.queue.push(func() {
		for _, l := range listeners {
			fn(l)
		}
	})
}
