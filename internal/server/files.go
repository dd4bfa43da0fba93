package server

import (
	"encoding/json"
	"net/http"

	"github.com/resolvix/collector/internal/model"
	"github.com/resolvix/collector/internal/supervisor"
)

// addRequest is the body of POST /api/config/monitored_files/add.
type addRequest struct {
	Files []model.MonitoredFileSpec `json:"files"`
}

// removeRequest is the body of DELETE /api/config/monitored_files/remove.
type removeRequest struct {
	Labels []string `json:"labels"`
}

// handleAdd applies the add response matrix: 200 when every spec landed,
// 207 on partial success, 400 when nothing was added or the body was
// unusable.
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":  "error",
			"message": "invalid JSON body: " + err.Error(),
		})
		return
	}
	if len(req.Files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":       "error",
			"message":      "no files supplied",
			"failed_files": []supervisor.FailedSpec{},
		})
		return
	}

	res := s.cfg.Supervisor.Add(req.Files)
	failed := res.Failed
	if failed == nil {
		failed = []supervisor.FailedSpec{}
	}

	switch {
	case len(res.Failed) == 0:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "success",
			"added_files": res.Added,
			"monitoring":  true,
		})
	case len(res.Added) > 0:
		writeJSON(w, http.StatusMultiStatus, map[string]any{
			"status":       "partial",
			"added_files":  res.Added,
			"failed_files": failed,
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":       "error",
			"message":      "no files could be added",
			"failed_files": failed,
		})
	}
}

// handleRemove applies the remove response matrix.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":  "error",
			"message": "invalid JSON body: " + err.Error(),
		})
		return
	}
	if len(req.Labels) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":  "error",
			"message": "no labels supplied",
		})
		return
	}

	res := s.cfg.Supervisor.Remove(req.Labels)
	body := map[string]any{
		"removed_labels": orEmpty(res.Removed),
		"not_found":      orEmpty(res.NotFound),
		"cannot_remove":  orEmpty(res.CannotRemove),
	}

	switch {
	case len(res.Removed) == len(req.Labels):
		body["status"] = "success"
		writeJSON(w, http.StatusOK, body)
	case len(res.Removed) > 0:
		body["status"] = "partial"
		writeJSON(w, http.StatusMultiStatus, body)
	default:
		body["status"] = "error"
		writeJSON(w, http.StatusBadRequest, body)
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
