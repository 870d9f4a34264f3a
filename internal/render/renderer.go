package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-render/internal/audiofile"
	"github.com/loqalabs/loqa-render/internal/chunker"
	"github.com/loqalabs/loqa-render/internal/engine"
	"github.com/loqalabs/loqa-render/internal/fusion"
	"github.com/loqalabs/loqa-render/internal/g2p"
	"github.com/loqalabs/loqa-render/internal/voice"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const fragmentLength = 30

var (
	ErrAlreadyStarted = errors.New("renderer already started")
	ErrWorkerPanic    = errors.New("render worker panicked")
)

// Job describes one render session.
type Job struct {
	SessionID string
	Text      string
	MaxLength int
	Language  g2p.Language
	Voice     voice.Spec
	Speed     float64
	TempDir   string
	Output    string
}

// Deps are the process-wide backends a renderer borrows.
type Deps struct {
	G2P    Converter
	Voices VoiceResolver
	Engine engine.Synthesizer
	Logger *slog.Logger
}

// Renderer processes a job's chunks strictly in order. A Renderer runs once;
// every render constructs a new one.
type Renderer struct {
	job    Job
	deps   Deps
	log    *slog.Logger
	chunks []Chunk
	events chan Event

	cancelled atomic.Bool
	started   atomic.Bool

	mu         sync.Mutex
	state      State
	files      []string
	stopFusion context.CancelFunc

	voice    voice.Voice
	resolved bool

	fuseFiles func(ctx context.Context, files []string, output string) (fusion.Result, error)
}

func New(job Job, deps Deps) *Renderer {
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	texts := chunker.Split(job.Text, job.MaxLength)
	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{Index: i, Text: text}
	}
	return &Renderer{
		job:    job,
		deps:   deps,
		log:    log.With(slog.String("component", "renderer"), slog.String("session_id", job.SessionID)),
		chunks: chunks,
		// Sized so Run never blocks on a slow consumer: a status and a
		// chunk-ready per chunk, the fusion status and the final event.
		events:    make(chan Event, 2*len(chunks)+2),
		state:     Idle,
		fuseFiles: fusion.Fuse,
	}
}

// Events delivers progress in emission order and is closed after Finished.
func (r *Renderer) Events() <-chan Event { return r.events }

func (r *Renderer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Chunks returns a snapshot of the session's chunks.
func (r *Renderer) Chunks() []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Chunk(nil), r.chunks...)
}

// Files returns the chunk files produced so far, in index order.
func (r *Renderer) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

// Cancel requests cancellation. The chunk being synthesized finishes; no new
// chunk starts and fusion is skipped or aborted.
func (r *Renderer) Cancel() {
	if r.cancelled.Swap(true) {
		return
	}
	r.mu.Lock()
	stop := r.stopFusion
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (r *Renderer) Cancelled() bool { return r.cancelled.Load() }

// Run processes every chunk and fuses the result. It returns the same
// outcome carried by the Finished event.
func (r *Renderer) Run(ctx context.Context) Outcome {
	if !r.started.CompareAndSwap(false, true) {
		return Outcome{State: r.State(), Err: ErrAlreadyStarted, Message: ErrAlreadyStarted.Error()}
	}
	inst := loadInstruments()
	ctx, span := inst.tracer.Start(ctx, "render.session", trace.WithAttributes(
		attribute.String("session_id", r.job.SessionID),
		attribute.Int("chunks", len(r.chunks)),
		attribute.String("language", r.job.Language.Code),
	))
	defer span.End()

	r.setState(Running)
	outcome := r.runRecovered(ctx, inst)

	r.mu.Lock()
	r.state = outcome.State
	outcome.Files = append([]string(nil), r.files...)
	r.mu.Unlock()
	outcome.Chunks = len(r.chunks)

	span.SetAttributes(attribute.String("outcome", outcome.State.String()))
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Message)
	}
	inst.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("state", outcome.State.String())))

	switch outcome.State {
	case Failed:
		r.log.Warn("render failed", slog.String("error", outcome.Message))
	default:
		r.log.Info("render finished", slog.String("state", outcome.State.String()), slog.Int("chunks", outcome.Chunks))
	}

	r.events <- Finished{Outcome: outcome}
	close(r.events)
	return outcome
}

// runRecovered turns a panicking backend into a Failed outcome so the
// Finished event is still delivered.
func (r *Renderer) runRecovered(ctx context.Context, inst *instruments) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("%w: %v", ErrWorkerPanic, p)
			r.log.Error("render worker panicked", slog.String("error", err.Error()), slog.String("stack", string(debug.Stack())))
			out = Outcome{State: Failed, Err: err, Message: err.Error()}
		}
	}()
	return r.run(ctx, inst)
}

func (r *Renderer) run(ctx context.Context, inst *instruments) Outcome {
	total := len(r.chunks)
	if total == 0 {
		return Outcome{State: Completed, Message: MessageNothingToRender}
	}

	for i := range r.chunks {
		if r.cancelled.Load() {
			return r.cancel()
		}
		r.emit(Status{Message: fmt.Sprintf("Rendering chunk %d of %d...", i+1, total)})
		path, err := r.renderChunk(ctx, inst, i)
		if err != nil {
			chunkErr := &ChunkError{Index: i, Fragment: fragment(r.chunks[i].Text), Err: err}
			return Outcome{State: Failed, Err: chunkErr, Message: chunkErr.Error()}
		}
		r.mu.Lock()
		r.chunks[i].Path = path
		r.files = append(r.files, path)
		r.mu.Unlock()
		r.emit(ChunkReady{Index: i, Total: total, Path: path})
	}

	if r.cancelled.Load() {
		return r.cancel()
	}
	return r.fuse(ctx)
}

func (r *Renderer) renderChunk(ctx context.Context, inst *instruments, i int) (string, error) {
	started := time.Now()
	ctx, span := inst.tracer.Start(ctx, "render.chunk", trace.WithAttributes(attribute.Int("index", i)))
	defer span.End()

	path, err := r.synthesize(ctx, i)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	inst.chunks.Add(ctx, 1)
	inst.latency.Record(ctx, time.Since(started).Seconds())
	return path, nil
}

func (r *Renderer) synthesize(ctx context.Context, i int) (string, error) {
	chunk := r.chunks[i]
	converted, err := r.deps.G2P.Convert(ctx, chunk.Text, r.job.Language)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.chunks[i].Phonemes = converted.Phonemes
	r.chunks[i].IsPhonemes = converted.IsPhonemes
	r.mu.Unlock()

	v, err := r.sessionVoice(ctx)
	if err != nil {
		return "", err
	}
	clip, err := r.deps.Engine.Create(ctx, engine.Request{
		Input:      converted.Phonemes,
		Voice:      v,
		Speed:      r.job.Speed,
		IsPhonemes: converted.IsPhonemes,
	})
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	path := filepath.Join(r.job.TempDir, ChunkFileName(i))
	if err := audiofile.Write(path, clip); err != nil {
		return "", err
	}
	return path, nil
}

// sessionVoice resolves the voice on first use and reuses it for every later
// chunk.
func (r *Renderer) sessionVoice(ctx context.Context) (voice.Voice, error) {
	if r.resolved {
		return r.voice, nil
	}
	v, err := r.deps.Voices.Resolve(ctx, r.job.Voice)
	if err != nil {
		return voice.Voice{}, fmt.Errorf("resolve voice %s: %w", r.job.Voice, err)
	}
	r.voice = v
	r.resolved = true
	return v, nil
}

func (r *Renderer) fuse(ctx context.Context) Outcome {
	r.emit(Status{Message: "Fusing audio chunks..."})

	fuseCtx, stop := context.WithCancel(ctx)
	defer stop()
	r.mu.Lock()
	r.stopFusion = stop
	files := append([]string(nil), r.files...)
	r.mu.Unlock()
	// Cancel may have run between the last check and publishing stopFusion.
	if r.cancelled.Load() {
		return r.cancel()
	}

	res, err := r.fuseFiles(fuseCtx, files, r.job.Output)
	if err != nil {
		if r.cancelled.Load() {
			return r.cancel()
		}
		wrapped := fmt.Errorf("fuse audio chunks: %w", err)
		return Outcome{State: Failed, Err: wrapped, Message: wrapped.Error()}
	}
	// A cancel that landed during the final write still wins.
	if r.cancelled.Load() {
		if err := os.Remove(res.Output); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("failed to remove fused output", slog.String("path", res.Output), slog.String("error", err.Error()))
		}
		return r.cancel()
	}
	return Outcome{
		State:   Completed,
		Output:  res.Output,
		Message: fmt.Sprintf("Fused file created successfully: %s", res.Output),
	}
}

// cancel removes every chunk file written so far.
func (r *Renderer) cancel() Outcome {
	r.mu.Lock()
	files := r.files
	r.files = nil
	for i := range r.chunks {
		r.chunks[i].Path = ""
	}
	r.mu.Unlock()
	for _, path := range files {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("failed to remove chunk file", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	return Outcome{State: Cancelled, Message: MessageCancelled}
}

func (r *Renderer) emit(ev Event) {
	r.events <- ev
}

func (r *Renderer) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// ChunkFileName is the file name of chunk index inside a session directory.
func ChunkFileName(index int) string {
	return fmt.Sprintf("chunk_%03d.wav", index)
}

func fragment(text string) string {
	runes := []rune(text)
	if len(runes) > fragmentLength {
		runes = runes[:fragmentLength]
	}
	return string(runes)
}

type instruments struct {
	tracer   trace.Tracer
	chunks   metric.Int64Counter
	outcomes metric.Int64Counter
	latency  metric.Float64Histogram
}

var (
	instOnce sync.Once
	shared   *instruments
)

func loadInstruments() *instruments {
	instOnce.Do(func() {
		meter := otel.Meter("github.com/loqalabs/loqa-render/render")
		shared = &instruments{tracer: otel.Tracer("github.com/loqalabs/loqa-render/render")}
		var err error
		if shared.chunks, err = meter.Int64Counter("loqa.render.chunks", metric.WithDescription("Chunks synthesized")); err != nil {
			otel.Handle(err)
			shared.chunks = noop.Int64Counter{}
		}
		if shared.outcomes, err = meter.Int64Counter("loqa.render.sessions", metric.WithDescription("Finished render sessions by state")); err != nil {
			otel.Handle(err)
			shared.outcomes = noop.Int64Counter{}
		}
		if shared.latency, err = meter.Float64Histogram("loqa.render.chunk.duration", metric.WithDescription("Chunk synthesis latency"), metric.WithUnit("s")); err != nil {
			otel.Handle(err)
			shared.latency = noop.Float64Histogram{}
		}
	})
	return shared
}
