package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lailatov/runner/internal/task"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		ActiveTasks: s.store.CountActive(),
		Version:     Version,
	})
}

func (s *Server) handleTaskSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, taskSchemaJSON)
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := validateSubmission(decoded); err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid task: %v", err))
		return
	}

	var req SubmitTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	t := &task.Task{
		ID:             req.TaskID,
		RepoURL:        req.RepoURL,
		Branch:         req.Branch,
		BaseBranch:     req.BaseBranch,
		Title:          req.Title,
		Instruction:    req.Description,
		RiskTier:       req.RiskTier,
		Complexity:     req.Complexity,
		Engine:         req.Engine,
		Model:          req.Model,
		MaxTurns:       req.MaxTurns,
		TimeoutSeconds: req.TimeoutSeconds,
		EnvVars:        req.EnvVars,
		Constitution:   req.Constitution,
		CallbackURL:    req.CallbackURL,
		GitHubToken:    req.GitHubToken,
		MaxCostUSD:     req.MaxCostUSD,
		SandboxMode:    req.SandboxMode,
		SandboxImage:   req.SandboxImage,
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	st, err := s.store.CreateIfAbsent(t)
	if err != nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("task %s already exists", t.ID))
		return
	}

	s.audit.Record("task.submitted", t.ID, map[string]any{
		"repo":   t.RepoURL,
		"branch": t.Branch,
		"engine": t.Engine,
	})
	s.executor.Launch(st)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id": t.ID,
		"status":  string(task.StatusPending),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(st))
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %s not found", id))
		return
	}
	if st.Status().Terminal() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("task %s is already %s", id, st.Status()))
		return
	}
	st.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{
		"task_id": id,
		"status":  "cancelling",
	})
}

// statusResponse flattens a state and its (possibly absent) result.
func statusResponse(st *task.State) TaskStatusResponse {
	resp := TaskStatusResponse{
		TaskID:       st.Task.ID,
		Status:       string(st.Status()),
		FilesChanged: []string{},
	}
	if res := st.Result(); res != nil {
		resp.Engine = res.Engine
		resp.Model = res.Model
		if res.FilesChanged != nil {
			resp.FilesChanged = res.FilesChanged
		}
		resp.CostUSD = res.CostUSD
		resp.NumTurns = res.NumTurns
		resp.DurationMS = res.DurationMS
		resp.CommitSHA = res.CommitSHA
		resp.ErrorMessage = res.ErrorMessage
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
