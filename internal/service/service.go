// Package service exposes the render controller on the NATS bus.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-render/internal/bus"
	"github.com/loqalabs/loqa-render/internal/config"
	"github.com/loqalabs/loqa-render/internal/protocol"
	"github.com/loqalabs/loqa-render/internal/session"
	"github.com/nats-io/nats.go"
)

// Controller is the part of session.Controller the service drives.
type Controller interface {
	Render(ctx context.Context, req session.Request) (session.Ticket, error)
	Cancel()
	Release(tempDir string) error
}

var _ session.Listener = (*Service)(nil)

// Service answers render requests on the bus and republishes controller
// notifications as bus events.
type Service struct {
	cfg    config.ServiceConfig
	bus    *bus.Client
	ctrl   Controller
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	Events
}

func NewService(parent context.Context, cfg config.ServiceConfig, busClient *bus.Client, ctrl Controller, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:    cfg,
		bus:    busClient,
		ctrl:   ctrl,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "render-service")),
	}
	s.Events = Events{Emit: s.publish}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectRenderRequest: s.handleRequest,
		protocol.SubjectRenderCancel:  s.handleCancel,
		protocol.SubjectRenderRelease: s.handleRelease,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			s.unsubscribe()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return s.bus.Conn().Flush()
}

func (s *Service) Close() {
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || (len(s.subs) > 0 && s.bus.Healthy()) }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.RenderRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode render request", slogError(err))
		s.reply(msg, protocol.RenderAccepted{Error: err.Error(), Timestamp: time.Now().UTC()})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticket, err := s.ctrl.Render(s.ctx, session.Request{
			Text:         req.Text,
			Voice:        req.Voice,
			Language:     req.Language,
			Speed:        req.Speed,
			OutputFile:   req.OutputFile,
			BlendVoice:   req.BlendVoice,
			BlendBalance: req.BlendBalance,
		})
		accepted := protocol.RenderAccepted{Timestamp: time.Now().UTC()}
		if err != nil {
			s.logger.Warn("render request rejected", slogError(err))
			accepted.Error = err.Error()
		} else {
			accepted.SessionID = ticket.SessionID
			accepted.TempDir = ticket.TempDir
			accepted.Chunks = ticket.Chunks
		}
		s.reply(msg, accepted)
	}()
}

func (s *Service) handleCancel(*nats.Msg) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.ctrl.Cancel()
	}()
}

func (s *Service) handleRelease(msg *nats.Msg) {
	var req protocol.RenderRelease
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode release request", slogError(err))
		return
	}
	if err := s.ctrl.Release(req.TempDir); err != nil {
		s.logger.Warn("failed to release session directory", slog.String("temp_dir", req.TempDir), slogError(err))
	}
}

func (s *Service) reply(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to marshal reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", slogError(err))
	}
}

func (s *Service) publish(subject string, v any) {
	if !s.cfg.Enabled {
		return
	}
	if err := s.bus.PublishJSON(subject, v); err != nil {
		s.logger.Warn("failed to publish", slog.String("subject", subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
