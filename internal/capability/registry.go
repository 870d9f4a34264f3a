package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-render/internal/engine"
	"github.com/loqalabs/loqa-render/internal/g2p"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Name string

const (
	Engine   Name = "engine"
	Espeak   Name = "g2p.espeak"
	Japanese Name = "g2p.ja"
	Chinese  Name = "g2p.zh"
)

// Names lists every backend the registry tracks.
var Names = []Name{Engine, Espeak, Japanese, Chinese}

type State int

const (
	Loading State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Status struct {
	Name      Name      `json:"name"`
	State     State     `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bundle is the set of backends a render in one language runs on.
type Bundle struct {
	Engine   engine.Synthesizer
	Generic  g2p.Backend
	Japanese g2p.Backend
	Chinese  g2p.Backend
}

func (b Bundle) Dispatcher() *g2p.Dispatcher {
	return g2p.NewDispatcher(b.Generic, b.Japanese, b.Chinese)
}

// NotReadyError lists the backends a language needs that are not ready.
type NotReadyError struct {
	Language g2p.Language
	Missing  []Status
}

func (e *NotReadyError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, s := range e.Missing {
		part := fmt.Sprintf("%s %s", s.Name, s.State)
		if s.Detail != "" {
			part += ": " + s.Detail
		}
		parts = append(parts, part)
	}
	return fmt.Sprintf("backends not ready for %s: %s", e.Language.Name, strings.Join(parts, "; "))
}

type entry struct {
	status  Status
	backend any
}

// Registry gates rendering on backend readiness. Backends are registered by
// the bootstrap as they come up.
type Registry struct {
	log     *slog.Logger
	mu      sync.RWMutex
	entries map[Name]*entry
	changed chan struct{}
	watch   []func(Status)
	meter   metric.Meter
}

func NewRegistry(log *slog.Logger) *Registry {
	r := &Registry{
		log:     log.With(slog.String("component", "capability-registry")),
		entries: make(map[Name]*entry, len(Names)),
		changed: make(chan struct{}),
		meter:   otel.Meter("github.com/loqalabs/loqa-render/capability"),
	}
	now := time.Now().UTC()
	for _, name := range Names {
		r.entries[name] = &entry{status: Status{Name: name, State: Loading, UpdatedAt: now}}
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return r
}

// Required returns the backends a render in lang depends on.
func Required(lang g2p.Language) []Name {
	names := []Name{Engine, Espeak}
	switch lang {
	case g2p.Japanese:
		names = append(names, Japanese)
	case g2p.MandarinChinese:
		names = append(names, Chinese)
	}
	return names
}

func (r *Registry) SetEngine(synth engine.Synthesizer) {
	r.update(Engine, Ready, "", synth)
}

func (r *Registry) SetG2P(name Name, backend g2p.Backend) {
	r.update(name, Ready, "", backend)
}

func (r *Registry) SetFailed(name Name, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	r.update(name, Failed, detail, nil)
}

// Watch registers fn to receive every status change.
func (r *Registry) Watch(fn func(Status)) {
	r.mu.Lock()
	r.watch = append(r.watch, fn)
	r.mu.Unlock()
}

func (r *Registry) update(name Name, state State, detail string, backend any) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		e = &entry{}
		r.entries[name] = e
	}
	e.status = Status{Name: name, State: state, Detail: detail, UpdatedAt: time.Now().UTC()}
	e.backend = backend
	status := e.status
	watchers := append([]func(Status){}, r.watch...)
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()

	if state == Failed {
		r.log.Warn("backend failed", slog.String("backend", string(name)), slog.String("error", detail))
	} else {
		r.log.Info("backend status", slog.String("backend", string(name)), slog.String("state", state.String()))
	}
	for _, fn := range watchers {
		fn(status)
	}
}

// Require returns the backends for lang, or a *NotReadyError naming every
// required backend that is still loading or failed.
func (r *Registry) Require(lang g2p.Language) (Bundle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []Status
	for _, name := range Required(lang) {
		e := r.entries[name]
		if e.status.State != Ready {
			missing = append(missing, e.status)
		}
	}
	if len(missing) > 0 {
		return Bundle{}, &NotReadyError{Language: lang, Missing: missing}
	}

	bundle := Bundle{}
	bundle.Engine, _ = r.entries[Engine].backend.(engine.Synthesizer)
	bundle.Generic, _ = r.entries[Espeak].backend.(g2p.Backend)
	bundle.Japanese, _ = r.entries[Japanese].backend.(g2p.Backend)
	bundle.Chinese, _ = r.entries[Chinese].backend.(g2p.Backend)
	return bundle, nil
}

// Snapshot returns the status of every backend sorted by name.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Settled reports whether no backend is still loading.
func (r *Registry) Settled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settledLocked()
}

func (r *Registry) settledLocked() bool {
	for _, e := range r.entries {
		if e.status.State == Loading {
			return false
		}
	}
	return true
}

// WaitSettled blocks until every backend is ready or failed.
func (r *Registry) WaitSettled(ctx context.Context) error {
	for {
		r.mu.RLock()
		settled := r.settledLocked()
		changed := r.changed
		r.mu.RUnlock()
		if settled {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Join(errors.New("backends still loading"), ctx.Err())
		case <-changed:
		}
	}
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	gauge, err := r.meter.Int64ObservableGauge("loqa.capabilities.ready", metric.WithDescription("Backends by readiness state"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		counts := r.snapshotCounts()
		for _, state := range []State{Loading, Ready, Failed} {
			obs.ObserveInt64(gauge, counts[state], metric.WithAttributes(attribute.String("state", state.String())))
		}
		return nil
	}, gauge)
	return err
}

func (r *Registry) snapshotCounts() map[State]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[State]int64, 3)
	for _, e := range r.entries {
		counts[e.status.State]++
	}
	return counts
}
