package runtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-render/internal/protocol"
	"github.com/loqalabs/loqa-render/internal/service"
)

const (
	streamBuffer     = 256
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// streamHub fans controller notifications out to websocket subscribers. A
// subscriber that falls behind loses messages instead of stalling the others.
type streamHub struct {
	service.Events

	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan protocol.Envelope]struct{}
}

func newStreamHub(log *slog.Logger) *streamHub {
	h := &streamHub{
		log: log.With(slog.String("component", "stream")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[chan protocol.Envelope]struct{}),
	}
	h.Events = service.Events{Emit: h.broadcast}
	return h
}

func (h *streamHub) broadcast(subject string, v any) {
	env := protocol.Envelope{Subject: subject, Data: v}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- env:
		default:
			h.log.Debug("stream subscriber is full, dropping message", slog.String("subject", subject))
		}
	}
}

func (h *streamHub) subscribe() (<-chan protocol.Envelope, func()) {
	ch := make(chan protocol.Envelope, streamBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}
}

func (h *streamHub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *streamHub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := h.subscribe()
	defer unsubscribe()

	// The read side only tracks liveness; client frames are discarded.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-req.Context().Done():
			return
		case env := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(env); err != nil {
				h.log.Debug("stream write failed", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
