package handler

import (
	"net/http"
	"strings"
)

// FrontendTrace records a client-side event into a run's trace.
// POST /debug/frontend-trace
func (h *Handler) FrontendTrace(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Timestamp string         `json:"timestamp"`
		RunID     string         `json:"run_id"`
		Stage     string         `json:"stage"`
		Level     string         `json:"level"`
		Fields    map[string]any `json:"fields"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	runID := strings.TrimSpace(in.RunID)
	stage := strings.TrimSpace(in.Stage)
	if runID == "" || stage == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", "run_id and stage are required")
		return
	}
	fields := map[string]any{}
	for k, v := range in.Fields {
		fields[k] = v
	}
	if lvl := strings.TrimSpace(in.Level); lvl != "" {
		fields["level"] = lvl
	}
	if ts := strings.TrimSpace(in.Timestamp); ts != "" {
		fields["frontend_timestamp"] = ts
	}
	h.svc.Traces().Append(runID, "frontend", stage, fields)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// RunLogs returns the recorded stage trace of a run.
// GET /debug/run-logs?run_id=
func (h *Handler) RunLogs(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.URL.Query().Get("run_id"))
	if runID == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", "run_id is required")
		return
	}
	events, err := h.svc.Traces().Read(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"events": events,
	})
}
