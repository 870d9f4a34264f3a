package player

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-render/internal/render"
	"github.com/loqalabs/loqa-render/internal/session"
)

type releases struct{ dirs []string }

func (r *releases) release(dir string) error {
	r.dirs = append(r.dirs, dir)
	return nil
}

func newPlaylist() (*Playlist, *releases) {
	rel := &releases{}
	return NewPlaylist(rel.release, slog.New(slog.DiscardHandler)), rel
}

func TestPlaylistPlaysInOrderThenReleases(t *testing.T) {
	p, rel := newPlaylist()
	p.SessionStarted(session.Ticket{SessionID: "a"})
	p.ChunkReady("a", render.ChunkReady{Index: 0, Path: "c0"})
	p.ChunkReady("a", render.ChunkReady{Index: 1, Path: "c1"})

	ctx := context.Background()
	for _, want := range []string{"c0", "c1"} {
		got, err := p.Next(ctx)
		if err != nil || got != want {
			t.Fatalf("Next() = %q, %v; want %q", got, err, want)
		}
	}

	p.SessionFinished(session.Finished{SessionID: "a", Success: true, TempDir: "dir-a"})
	if len(rel.dirs) != 0 {
		t.Fatal("release must wait for playback to finish")
	}
	if _, err := p.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want EOF", err)
	}
	if _, err := p.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want EOF", err)
	}
	if len(rel.dirs) != 1 || rel.dirs[0] != "dir-a" {
		t.Fatalf("released = %v", rel.dirs)
	}
}

func TestPlaylistNextWaitsForChunks(t *testing.T) {
	p, _ := newPlaylist()
	p.SessionStarted(session.Ticket{SessionID: "a"})

	got := make(chan string, 1)
	go func() {
		item, _ := p.Next(context.Background())
		got <- item
	}()
	time.Sleep(10 * time.Millisecond)
	p.ChunkReady("a", render.ChunkReady{Index: 0, Path: "c0"})

	select {
	case item := <-got:
		if item != "c0" {
			t.Fatalf("Next() = %q", item)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not wake up")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next() error = %v", err)
	}
}

func TestPlaylistResetsOnNewSession(t *testing.T) {
	p, rel := newPlaylist()
	p.SessionStarted(session.Ticket{SessionID: "a"})
	p.ChunkReady("a", render.ChunkReady{Index: 0, Path: "a0"})
	p.SessionFinished(session.Finished{SessionID: "a", TempDir: "dir-a"})

	p.SessionStarted(session.Ticket{SessionID: "b"})
	if len(p.Items()) != 0 {
		t.Fatalf("items = %v, want empty", p.Items())
	}
	if len(rel.dirs) != 1 || rel.dirs[0] != "dir-a" {
		t.Fatalf("previous session should be released, got %v", rel.dirs)
	}

	p.ChunkReady("a", render.ChunkReady{Index: 1, Path: "a1"})
	p.ChunkReady("b", render.ChunkReady{Index: 0, Path: "b0"})
	if items := p.Items(); len(items) != 1 || items[0] != "b0" {
		t.Fatalf("items = %v", items)
	}
	p.SessionFinished(session.Finished{SessionID: "a", TempDir: "dir-a"})
	if _, ok := p.Finished(); ok {
		t.Fatal("stale finish should be ignored")
	}
}

func TestPlaylistReleasesSupersededSession(t *testing.T) {
	p, rel := newPlaylist()
	p.SessionStarted(session.Ticket{SessionID: "a"})
	p.ChunkReady("a", render.ChunkReady{Index: 0, Path: "a0"})
	p.SessionStarted(session.Ticket{SessionID: "b"})

	// The stopped worker of "a" reports after "b" has taken over.
	p.SessionFinished(session.Finished{SessionID: "a", State: render.Cancelled, TempDir: "dir-a"})
	if len(rel.dirs) != 1 || rel.dirs[0] != "dir-a" {
		t.Fatalf("released = %v, want [dir-a]", rel.dirs)
	}
	if _, ok := p.Finished(); ok {
		t.Fatal("superseded session must not finish the current one")
	}

	p.ChunkReady("b", render.ChunkReady{Index: 0, Path: "b0"})
	got, err := p.Next(context.Background())
	if err != nil || got != "b0" {
		t.Fatalf("Next() = %q, %v; want b0", got, err)
	}
}
