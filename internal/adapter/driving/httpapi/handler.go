// Package httpapi exposes the local control surface: a small JSON API for
// call intents plus a websocket stream of call-state snapshots, meant for
// a UI process running next to this one.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Decode-Labs-Web3/dehive-call/internal/core/domain"
	"github.com/Decode-Labs-Web3/dehive-call/internal/core/service"
)

type Handler struct {
	calls *service.CallService
	log   zerolog.Logger
}

func NewHandler(calls *service.CallService) *Handler {
	return &Handler{
		calls: calls,
		log:   log.With().Str("component", "httpapi").Logger(),
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/call", func(r chi.Router) {
		r.Get("/state", h.getState)
		r.Post("/start", h.startCall)
		r.Post("/accept", h.acceptCall)
		r.Post("/decline", h.declineCall)
		r.Post("/end", h.endCall)
		r.Post("/ack-error", h.ackError)
		r.Post("/mic", h.toggleMic)
		r.Post("/camera", h.toggleCamera)
	})

	r.Get("/ws", h.ServeWS)

	return r
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.calls.State())
}

type startCallRequest struct {
	TargetUserID string `json:"target_user_id"`
}

func (h *Handler) startCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetUserID == "" {
		writeError(w, http.StatusBadRequest, "target_user_id is required")
		return
	}
	h.calls.StartCall(domain.UserID(req.TargetUserID))
	writeJSON(w, http.StatusAccepted, h.calls.State())
}

func (h *Handler) acceptCall(w http.ResponseWriter, r *http.Request) {
	h.calls.AcceptCall()
	writeJSON(w, http.StatusAccepted, h.calls.State())
}

func (h *Handler) declineCall(w http.ResponseWriter, r *http.Request) {
	h.calls.DeclineCall()
	writeJSON(w, http.StatusAccepted, h.calls.State())
}

func (h *Handler) endCall(w http.ResponseWriter, r *http.Request) {
	h.calls.EndCall()
	writeJSON(w, http.StatusAccepted, h.calls.State())
}

func (h *Handler) ackError(w http.ResponseWriter, r *http.Request) {
	h.calls.AcknowledgeError()
	writeJSON(w, http.StatusAccepted, h.calls.State())
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func decodeToggle(r *http.Request) (bool, bool) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		return false, false
	}
	return *req.Enabled, true
}

func (h *Handler) toggleMic(w http.ResponseWriter, r *http.Request) {
	enabled, ok := decodeToggle(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	h.calls.ToggleMic(enabled)
	writeJSON(w, http.StatusAccepted, h.calls.State())
}

func (h *Handler) toggleCamera(w http.ResponseWriter, r *http.Request) {
	enabled, ok := decodeToggle(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	h.calls.ToggleCamera(enabled)
	writeJSON(w, http.StatusAccepted, h.calls.State())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error while writing response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
