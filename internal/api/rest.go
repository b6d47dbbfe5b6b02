package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/devghori1264/agingwms/internal/events"
	"github.com/devghori1264/agingwms/internal/gateway"
	"github.com/devghori1264/agingwms/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Handler is the HTTP shim over the command gateway plus a server-sent
// event feed.
type Handler struct {
	gw  *gateway.Gateway
	hub *events.Hub
	log *zap.Logger

	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

func NewHandler(gw *gateway.Gateway, hub *events.Hub, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{gw: gw, hub: hub, log: log.Named("http"), Heartbeat: 15 * time.Second}
}

// Router builds the chi router for the shim.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/ping", h.handlePing)
	r.Get("/events", h.handleEvents)
	r.Route("/slots", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Put("/", h.handleWrite)
			r.Delete("/", h.handleClear)
			r.Post("/move", h.handleMove)
			r.Post("/jobs", h.handleStart)
			r.Post("/pause", h.handlePause)
			r.Post("/resume", h.handleResume)
			r.Post("/stop", h.handleStop)
		})
	})
	return r
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"msg": "pong from agingd"})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	h.reply(w, h.gw.ListSlots(r.Context()), http.StatusOK)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.reply(w, h.gw.GetSlot(r.Context(), chi.URLParam(r, "id")), http.StatusOK)
}

func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req gateway.WriteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.SlotID = chi.URLParam(r, "id")
	h.reply(w, h.gw.WriteSlot(r.Context(), req), http.StatusOK)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge"))
	h.reply(w, h.gw.ClearSlot(r.Context(), chi.URLParam(r, "id"), purge), http.StatusOK)
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	var req gateway.MoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.reply(w, h.gw.MoveSlot(r.Context(), chi.URLParam(r, "id"), req.TargetID), http.StatusOK)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var spec models.JobSpec
	if !decodeBody(w, r, &spec) {
		return
	}
	spec.SlotID = chi.URLParam(r, "id")
	h.reply(w, h.gw.StartJob(r.Context(), spec), http.StatusAccepted)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.reply(w, h.gw.PauseJob(r.Context(), chi.URLParam(r, "id")), http.StatusOK)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.reply(w, h.gw.ResumeJob(r.Context(), chi.URLParam(r, "id")), http.StatusOK)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	var req gateway.StopRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	h.reply(w, h.gw.StopJob(r.Context(), chi.URLParam(r, "id"), req.Reason), http.StatusOK)
}

// handleEvents streams events as SSE until the client goes away. ?slot=
// narrows the feed to one slot.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Internal", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.hub.Subscribe(256, r.URL.Query().Get("slot"))
	defer sub.Close()
	beat := time.NewTicker(h.Heartbeat)
	defer beat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-beat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			name, payload := "telemetry", any(ev.Telemetry)
			if ev.StepState != nil {
				name, payload = "stepstate", ev.StepState
			}
			b, err := json.Marshal(payload)
			if err != nil {
				h.log.Warn("encode sse event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) reply(w http.ResponseWriter, res gateway.Result, okStatus int) {
	if res.Success {
		writeJSON(w, okStatus, res)
		return
	}
	writeJSON(w, StatusFor(res.Code), res)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// StatusFor maps a gateway result code to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case "ArgumentError":
		return http.StatusBadRequest
	case "NotFound":
		return http.StatusNotFound
	case "InvalidState", "ConcurrencyConflict", "ConcurrencyExhausted":
		return http.StatusConflict
	case "Timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "ArgumentError", "invalid JSON payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, gateway.Result{Code: code, Message: msg})
}
