package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/loqalabs/loqa-render/internal/capability"
	"github.com/loqalabs/loqa-render/internal/eventstore"
	"github.com/loqalabs/loqa-render/internal/g2p"
	"github.com/loqalabs/loqa-render/internal/session"
	"github.com/loqalabs/loqa-render/internal/voice"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func (r *Runtime) router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)

	mux.Get("/healthz", r.handleHealth)
	mux.Get("/readyz", r.handleReady)
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics)
	}

	mux.Route("/v1", func(v1 chi.Router) {
		v1.Get("/capabilities", r.handleCapabilities)
		v1.Post("/releases", r.handleRelease)
		v1.Handle("/stream", r.stream)
		v1.Route("/renders", func(rr chi.Router) {
			rr.Get("/", r.handleListRenders)
			rr.Post("/", r.handleCreateRender)
			rr.Delete("/active", r.handleCancelRender)
			rr.Get("/{sessionID}", r.handleGetRender)
			rr.Get("/{sessionID}/events", r.handleRenderEvents)
		})
	})
	return otelhttp.NewHandler(mux, r.cfg.RuntimeName)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	r.writeJSON(w, http.StatusOK, r.registry.Snapshot())
}

func (r *Runtime) handleCreateRender(w http.ResponseWriter, req *http.Request) {
	var body session.Request
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		r.writeError(w, http.StatusBadRequest, err)
		return
	}
	ticket, err := r.controller.Render(req.Context(), body)
	if err != nil {
		r.writeError(w, renderErrorStatus(err), err)
		return
	}
	r.writeJSON(w, http.StatusAccepted, ticket)
}

func renderErrorStatus(err error) int {
	var notReady *capability.NotReadyError
	switch {
	case errors.As(err, &notReady), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, g2p.ErrUnknownLanguage),
		errors.Is(err, session.ErrEmptyOutput),
		errors.Is(err, session.ErrInvalidSpeed),
		errors.Is(err, voice.ErrEmptyVoice),
		errors.Is(err, voice.ErrInvalidWeight):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (r *Runtime) handleCancelRender(w http.ResponseWriter, _ *http.Request) {
	r.controller.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleRelease(w http.ResponseWriter, req *http.Request) {
	var body struct {
		TempDir string `json:"temp_dir"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		r.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := r.controller.Release(body.TempDir); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrNotSessionDir):
			status = http.StatusBadRequest
		case errors.Is(err, session.ErrSessionRunning):
			status = http.StatusConflict
		}
		r.writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleListRenders(w http.ResponseWriter, req *http.Request) {
	renders, err := r.store.ListRenders(req.Context(), queryInt(req, "limit"))
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if renders == nil {
		renders = []eventstore.Render{}
	}
	r.writeJSON(w, http.StatusOK, renders)
}

func (r *Runtime) handleGetRender(w http.ResponseWriter, req *http.Request) {
	rec, err := r.store.GetRender(req.Context(), chi.URLParam(req, "sessionID"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, eventstore.ErrNotFound) {
			status = http.StatusNotFound
		}
		r.writeError(w, status, err)
		return
	}
	r.writeJSON(w, http.StatusOK, rec)
}

func (r *Runtime) handleRenderEvents(w http.ResponseWriter, req *http.Request) {
	events, err := r.store.ListSessionEvents(req.Context(), chi.URLParam(req, "sessionID"), queryInt(req, "limit"))
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	r.writeJSON(w, http.StatusOK, events)
}

func queryInt(req *http.Request, key string) int {
	n, err := strconv.Atoi(req.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

func (r *Runtime) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		r.logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}

func (r *Runtime) writeError(w http.ResponseWriter, status int, err error) {
	r.writeJSON(w, status, map[string]string{"error": err.Error()})
}
