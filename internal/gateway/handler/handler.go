// Package handler exposes the chat service over HTTP and websocket.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"quorum/internal/gateway/service/chat"
	llmclient "quorum/internal/llm/client"
	"quorum/internal/pipeline"
)

// Handler serves the session API. It holds the chat service as its single
// dependency.
type Handler struct {
	svc    *chat.Service
	logger *log.Logger
}

func New(svc *chat.Service, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Mount registers every route on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.PutSettings)
			r.Get("/messages", h.ListMessages)
			r.Post("/messages", h.PostMessage)
			r.Post("/cancel", h.Cancel)
			r.Get("/transcript", h.Transcript)
			r.Get("/artifacts", h.ListArtifacts)
			r.Get("/ws", h.Watch)
		})
	})
	r.Get("/debug/run-logs", h.RunLogs)
	r.Post("/debug/frontend-trace", h.FrontendTrace)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handler: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// writeServiceError maps a chat service error onto a status code.
func writeServiceError(w http.ResponseWriter, err error) {
	code := chat.ErrorCode(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrEmptyQuery), errors.Is(err, chat.ErrInvalidSettings):
		status = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrBusy):
		status = http.StatusConflict
	}
	writeError(w, status, code, llmclient.ErrorMessage(err))
}

func sessionID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "id"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid json body")
		return false
	}
	return true
}
