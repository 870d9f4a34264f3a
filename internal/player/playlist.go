// Package player keeps the playlist of chunk files for the session being
// rendered and frees the session directory once playback is through.
package player

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-render/internal/render"
	"github.com/loqalabs/loqa-render/internal/session"
)

var _ session.Listener = (*Playlist)(nil)

// Playlist implements session.Listener. A consumer pulls chunk paths with
// Next; when the finished session's last chunk has been consumed the session
// directory is handed to release.
type Playlist struct {
	release func(tempDir string) error
	log     *slog.Logger

	mu       sync.Mutex
	session  string
	items    []string
	pos      int
	finished *session.Finished
	released bool
	changed  chan struct{}
}

func NewPlaylist(release func(tempDir string) error, log *slog.Logger) *Playlist {
	return &Playlist{
		release: release,
		log:     log.With(slog.String("component", "player")),
		changed: make(chan struct{}),
	}
}

func (p *Playlist) SessionStarted(t session.Ticket) {
	p.mu.Lock()
	stale := p.pendingRelease()
	p.session = t.SessionID
	p.items = nil
	p.pos = 0
	p.finished = nil
	p.released = false
	p.broadcastLocked()
	p.mu.Unlock()

	if stale != "" {
		p.free(stale)
	}
}

func (p *Playlist) ChunkReady(sessionID string, ev render.ChunkReady) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sessionID != p.session {
		return
	}
	p.items = append(p.items, ev.Path)
	p.broadcastLocked()
}

func (p *Playlist) Status(string, string) {}

// SessionFinished records the current session's end. A session that was
// superseded before it finished is never played, so its directory is
// released at once.
func (p *Playlist) SessionFinished(f session.Finished) {
	p.mu.Lock()
	if f.SessionID != p.session {
		p.mu.Unlock()
		if f.TempDir != "" {
			p.free(f.TempDir)
		}
		return
	}
	p.finished = &f
	p.broadcastLocked()
	p.mu.Unlock()
}

// Items returns every chunk path queued for the current session.
func (p *Playlist) Items() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.items...)
}

// Next blocks until another chunk is queued. It returns io.EOF once the
// session has finished and every chunk was consumed, releasing the session
// directory first.
func (p *Playlist) Next(ctx context.Context) (string, error) {
	for {
		p.mu.Lock()
		if p.pos < len(p.items) {
			item := p.items[p.pos]
			p.pos++
			p.mu.Unlock()
			return item, nil
		}
		if p.finished != nil {
			dir := p.pendingRelease()
			p.mu.Unlock()
			if dir != "" {
				p.free(dir)
			}
			return "", io.EOF
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-changed:
		}
	}
}

// Finished returns the terminal notification of the current session, if any.
func (p *Playlist) Finished() (session.Finished, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished == nil {
		return session.Finished{}, false
	}
	return *p.finished, true
}

// pendingRelease claims the finished session's directory for release. The
// caller must hold p.mu.
func (p *Playlist) pendingRelease() string {
	if p.finished == nil || p.released || p.finished.TempDir == "" {
		return ""
	}
	p.released = true
	return p.finished.TempDir
}

func (p *Playlist) free(dir string) {
	if p.release == nil {
		return
	}
	if err := p.release(dir); err != nil {
		p.log.Warn("failed to release session directory", slog.String("temp_dir", dir), slog.String("error", err.Error()))
		return
	}
	p.log.Debug("session directory released", slog.String("temp_dir", dir))
}

func (p *Playlist) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}
