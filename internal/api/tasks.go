package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/slideforge/slideforge/internal/app/tasks"
)

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req tasks.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	task, err := s.tasks.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"task_id": task.ID,
		"status":  "created",
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := tasks.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeDetail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.tasks.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.tasks.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "task_id": id})
}

func (s *Server) handleTaskMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	all, err := s.tasks.Messages(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "messages": all})
}

func (s *Server) handleSampleMessages(w http.ResponseWriter, r *http.Request) {
	id, sampleID := chi.URLParam(r, "id"), chi.URLParam(r, "sample_id")
	msgs, err := s.tasks.SampleMessages(r.Context(), id, sampleID)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "sample_id": sampleID, "messages": msgs})
}
