// File: internal/api/handlers.go
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tabrelay/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handlers maps HTTP requests onto the dispatcher.
type Handlers struct {
	log        *zap.Logger
	dispatcher *Dispatcher
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, dispatcher *Dispatcher) *Handlers {
	return &Handlers{
		log:        logger.Named("handlers"),
		dispatcher: dispatcher,
	}
}

// RegisterRoutes mounts the session API on r. The metrics endpoint is only
// mounted when withMetrics is set.
func (h *Handlers) RegisterRoutes(r chi.Router, withMetrics bool) {
	r.Get("/healthz", h.HandleHealthCheck)
	if withMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Post("/session", h.HandleCreateSession)
	r.Get("/sessions", h.HandleListSessions)
	r.Route("/session/{sessionID}", func(r chi.Router) {
		r.Get("/actions", h.HandleGetActions)
		r.Post("/execute", h.HandleExecute)
		r.Delete("/", h.HandleCloseSession)
	})
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleCreateSession opens a tab at the requested URL.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.URL == "" {
		h.respondWithError(w, http.StatusBadRequest, "Field 'url' is required.")
		return
	}

	resp, err := h.dispatcher.CreateSession(r.Context(), req.URL)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrCapacity), errors.Is(err, session.ErrShutdown):
			status = http.StatusServiceUnavailable
		case errors.Is(err, session.ErrThrottled):
			status = http.StatusTooManyRequests
		}
		h.log.Error("Failed to create session", zap.String("url", req.URL), zap.Error(err))
		h.respondWithError(w, status, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// HandleGetActions lists what can be done on the session's current page.
func (h *Handlers) HandleGetActions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	actions, err := h.dispatcher.Actions(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.respondWithError(w, http.StatusNotFound, "Session not found. It may have expired.")
			return
		}
		h.log.Error("Failed to analyze page", zap.String("session_id", id), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Error analyzing page: %v", err))
		return
	}
	h.respondJSON(w, http.StatusOK, actions)
}

// HandleExecute runs one action against the session.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	resp, err := h.dispatcher.Execute(r.Context(), id, req.ActionRequest())
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.respondWithError(w, http.StatusNotFound, "Session not found.")
			return
		}
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// HandleCloseSession always acknowledges, whether or not the id was live.
func (h *Handlers) HandleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	h.dispatcher.CloseSession(r.Context(), id)
	h.respondJSON(w, http.StatusOK, CloseSessionResponse{Status: "closed", SessionID: id})
}

// HandleListSessions returns every live session, oldest first.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, SessionsResponse{Sessions: h.dispatcher.Sessions()})
}

// respondWithError sends a {"detail": ...} JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, ErrorResponse{Detail: message})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
