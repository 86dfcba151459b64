// Package gateway provides the HTTP API for session management,
// message dispatch and auto-reply registration.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wagate/wagate/pkg/autoreply"
	"github.com/wagate/wagate/pkg/credstore"
	"github.com/wagate/wagate/pkg/dispatch"
	"github.com/wagate/wagate/pkg/session"
)

// Handler provides the gateway REST API.
type Handler struct {
	mux        *http.ServeMux
	manager    *session.Manager
	dispatcher *dispatch.Service
	responder  *autoreply.Responder
	authMiddle func(http.Handler) http.Handler
}

// Config configures a Handler.
type Config struct {
	Manager    *session.Manager
	Dispatcher *dispatch.Service
	Responder  *autoreply.Responder

	// AuthMiddleware optionally wraps every route.
	AuthMiddleware func(http.Handler) http.Handler
}

// NewHandler creates the API handler.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		mux:        http.NewServeMux(),
		manager:    cfg.Manager,
		dispatcher: cfg.Dispatcher,
		responder:  cfg.Responder,
		authMiddle: cfg.AuthMiddleware,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authMiddle != nil {
		h.authMiddle(h.mux).ServeHTTP(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all API routes.
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /api/sessions", h.createSession)
	h.mux.HandleFunc("GET /api/sessions/{id}", h.sessionStatus)
	h.mux.HandleFunc("DELETE /api/sessions/{id}", h.logoutSession)
	h.mux.HandleFunc("POST /api/messages", h.sendMessage)
	h.mux.HandleFunc("POST /api/auto-replies", h.registerAutoReply)
}

type createSessionRequest struct {
	SessionID string `json:"session_id"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Challenge string `json:"challenge,omitempty"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	handle, err := h.manager.Create(r.Context(), req.SessionID)
	if err != nil {
		slog.Error("create session failed", "session_id", req.SessionID, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: handle.ID(),
		Status:    handle.State().String(),
	})
}

func (h *Handler) sessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	handle, ok := h.manager.Registry().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: handle.ID(),
		Status:    handle.State().String(),
		Challenge: handle.Challenge(),
	})
}

func (h *Handler) logoutSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.manager.Logout(r.Context(), id); err != nil {
		slog.Error("logout failed", "session_id", id, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	SessionID string             `json:"session_id"`
	Number    string             `json:"number"`
	Message   string             `json:"message,omitempty"`
	Media     *dispatch.MediaRef `json:"media,omitempty"`
}

type sendMessageResponse struct {
	AckID string `json:"ack_id"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Number == "" {
		writeError(w, http.StatusBadRequest, "session_id and number are required")
		return
	}

	ack, err := h.dispatcher.Send(r.Context(), req.SessionID, req.Number, dispatch.Payload{
		Text:  req.Message,
		Media: req.Media,
	})
	if err != nil {
		slog.Warn("dispatch failed", "session_id", req.SessionID, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sendMessageResponse{AckID: ack.ID})
}

type autoReplyRequest struct {
	SessionID string `json:"session_id"`
	Trigger   string `json:"trigger"`
	Response  string `json:"response"`
}

func (h *Handler) registerAutoReply(w http.ResponseWriter, r *http.Request) {
	var req autoReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Trigger == "" || req.Response == "" {
		writeError(w, http.StatusBadRequest, "session_id, trigger and response are required")
		return
	}
	if _, ok := h.manager.Registry().Get(req.SessionID); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	h.responder.Table().Set(req.Trigger, req.Response)
	writeJSON(w, http.StatusOK, map[string]string{"message": "auto-reply registered"})
}

// statusFor maps component error kinds to HTTP status codes. Callers
// can distinguish retry-later kinds (503, 502) from fix-the-request
// kinds (400, 404, 409).
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, credstore.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, dispatch.ErrUnsupportedPayload), errors.Is(err, dispatch.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrFetchFailed), errors.Is(err, dispatch.ErrSendFailed),
		errors.Is(err, session.ErrConnectFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
