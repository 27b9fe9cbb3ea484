package handler

import (
	"fmt"
	"net/http"

	"quorum/internal/gateway/repository/conversation"
	"quorum/internal/gateway/service/chat"
	llmclient "quorum/internal/llm/client"
)

type sessionResponse struct {
	SessionID string             `json:"session_id"`
	Settings  llmclient.Settings `json:"settings"`
}

// CreateSession starts a session seeded with the server's default settings.
// POST /api/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.CreateSession(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: sess.ID, Settings: sess.Settings.Masked()})
}

// GET /api/sessions/{id}/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.Settings(r.Context(), sessionID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings.Masked())
}

// PUT /api/sessions/{id}/settings
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var in chat.SettingsUpdate
	if !decodeJSON(w, r, &in) {
		return
	}
	settings, err := h.svc.UpdateSettings(r.Context(), sessionID(r), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings.Masked())
}

// GET /api/sessions/{id}/messages
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.Messages(r.Context(), sessionID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type postMessageRequest struct {
	Query string `json:"query"`
}

type postMessageResponse struct {
	RunID  string     `json:"run_id"`
	Answer string     `json:"answer"`
	Stages []string   `json:"stages"`
	Error  *errorBody `json:"error,omitempty"`
}

// PostMessage runs the pipeline and answers once the exchange is stored. A
// failed run still answers 200; the error text replaces the answer.
// POST /api/sessions/{id}/messages
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var in postMessageRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	sub, err := h.svc.Submit(r.Context(), sessionID(r), in.Query)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var out chat.Outcome
	select {
	case out = <-sub.Done:
	case <-r.Context().Done():
		// client left; the run keeps going and is stored
		return
	}
	resp := postMessageResponse{RunID: out.RunID, Answer: out.Answer, Stages: out.Stages}
	if resp.Stages == nil {
		resp.Stages = []string{}
	}
	if out.Err != nil {
		msg := llmclient.ErrorMessage(out.Err)
		resp.Answer = msg
		resp.Error = &errorBody{Code: chat.ErrorCode(out.Err), Message: msg}
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/sessions/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	canceled, err := h.svc.Cancel(r.Context(), sessionID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"canceled": canceled})
}

// Transcript redirects to a presigned URL when the artifact store can serve
// one and streams the markdown as an attachment otherwise.
// GET /api/sessions/{id}/transcript
func (h *Handler) Transcript(w http.ResponseWriter, r *http.Request) {
	tr, err := h.svc.Transcript(r.Context(), sessionID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if tr.URL != "" {
		http.Redirect(w, r, tr.URL, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", tr.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(tr.Content); err != nil {
		h.logger.Printf("handler: write transcript: %v", err)
	}
}

// GET /api/sessions/{id}/artifacts
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	names, err := h.svc.Artifacts(r.Context(), sessionID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": names})
}
