package natsserver

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-render/internal/config"
	"github.com/nats-io/nats.go"
)

func TestStartDisabledReturnsNil(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: false}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if srv != nil || srv.ClientURL() != "" {
		t.Fatalf("expected no server, got %v", srv)
	}
	srv.Shutdown()
}

func TestStartEmbeddedOnRandomPort(t *testing.T) {
	cfg := config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}
	srv, err := Start(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()
	if url := srv.ClientURL(); !strings.HasPrefix(url, "nats://127.0.0.1:") {
		t.Fatalf("client url = %q", url)
	}
}

func TestStartEmbeddedRequiresToken(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: true, Port: -1, Token: "s3cret"}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()

	if nc, err := nats.Connect(srv.ClientURL()); err == nil {
		nc.Close()
		t.Fatal("expected anonymous connection to be rejected")
	}
	nc, err := nats.Connect(srv.ClientURL(), nats.Token("s3cret"))
	if err != nil {
		t.Fatalf("connect with token: %v", err)
	}
	nc.Close()
}
