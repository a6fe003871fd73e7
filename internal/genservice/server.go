// Package genservice is a standalone implementation of the generation
// service contract: it streams agent activity as server-sent events, tracks
// per-run progress and serves uploads, templates and outputs. Backed by
// ScriptedAgent it lets the backend run end to end without the real agent
// pipeline.
package genservice

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/logger"
)

// Server serves the generation service API.
type Server struct {
	agent     Agent
	workspace string
	log       logger.Logger

	mu   sync.RWMutex
	runs map[string]*domain.SyncResult
}

func NewServer(agent Agent, workspace string, log logger.Logger) *Server {
	return &Server{
		agent:     agent,
		workspace: workspace,
		log:       log.With("component", "genservice"),
		runs:      make(map[string]*domain.SyncResult),
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"name": "slideforge generation service", "status": "running"})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Post("/generate/sync", s.handleGenerateSync)
		r.Get("/task/{id}", s.handleRunStatus)
		r.Get("/templates", s.handleTemplates)
		r.Post("/upload", s.handleUpload)
		r.Get("/download/{id}", s.handleDownload)
	})
	return r
}

// ─── Run bookkeeping ────────────────────────────────────────────────────────

func (s *Server) setRun(id string, fn func(*domain.SyncResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		run = &domain.SyncResult{TaskID: id}
		s.runs[id] = run
	}
	fn(run)
}

func (s *Server) run(id string) (domain.SyncResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.SyncResult{}, false
	}
	return *run, true
}

func decodeRequest(r *http.Request) (domain.GenerateRequest, error) {
	var req domain.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return req, domain.ErrInvalidPrompt
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	if req.ConvertType == "" {
		req.ConvertType = "freeform"
	}
	if req.Template == "auto" {
		req.Template = ""
	}
	return req, nil
}

// ─── POST /api/generate ─────────────────────────────────────────────────────

type sseWriter struct {
	w       *bufio.Writer
	flusher http.Flusher
}

func (sw *sseWriter) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", event, data)
	if err := sw.w.Flush(); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

func progressPayload(ev domain.ProgressEvent) map[string]any {
	return map[string]any{
		"type":             "progress",
		"progress":         ev.Progress,
		"slides_generated": ev.SlidesGenerated,
		"total_slides":     ev.TotalSlides,
		"phase":            ev.Phase,
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sse := &sseWriter{w: bufio.NewWriter(w), flusher: flusher}
	log := s.log.With("run_id", req.TaskID)
	log.Info("generation started", "convert_type", req.ConvertType)

	tracker := NewTracker()
	s.setRun(req.TaskID, func(run *domain.SyncResult) { run.Status = "running" })

	emit := func(step Step) error {
		for _, tc := range step.ToolCalls {
			if ev, ok := tracker.ToolCall(tc.Name); ok {
				if err := s.progress(sse, req.TaskID, ev); err != nil {
					return err
				}
			}
		}
		if step.Role == "tool" && step.Content != "" {
			if ev, ok := tracker.ToolResult(step.Content); ok {
				if err := s.progress(sse, req.TaskID, ev); err != nil {
					return err
				}
			}
		}
		msg := map[string]any{"type": "message", "role": step.Role, "content": step.Content}
		if len(step.ToolCalls) > 0 {
			msg["tool_calls"] = step.ToolCalls
		}
		return sse.send("message", msg)
	}

	result, err := s.agent.Run(r.Context(), req, emit)
	if err != nil {
		log.Warn("generation failed", "error", err)
		s.setRun(req.TaskID, func(run *domain.SyncResult) {
			run.Status = string(domain.StatusFailed)
			run.Error = err.Error()
		})
		_ = sse.send("error", map[string]any{"type": "error", "error": err.Error()})
		return
	}

	if result.FilePath != "" {
		_ = s.progress(sse, req.TaskID, tracker.Complete())
		s.setRun(req.TaskID, func(run *domain.SyncResult) {
			run.Status = string(domain.StatusCompleted)
			run.FilePath = result.FilePath
		})
	}
	_ = sse.send("stats", map[string]any{"type": "stats", "token_stats": result.TokenStats})
	if result.FilePath == "" {
		s.setRun(req.TaskID, func(run *domain.SyncResult) {
			run.Status = string(domain.StatusFailed)
			run.Error = "No file generated"
		})
		_ = sse.send("error", map[string]any{"type": "error", "error": "No file generated"})
		return
	}
	_ = sse.send("complete", map[string]any{"type": "file", "file_path": result.FilePath, "message": "Presentation generated"})
	log.Info("generation completed", "file_path", result.FilePath)
}

func (s *Server) progress(sse *sseWriter, id string, ev domain.ProgressEvent) error {
	s.setRun(id, func(run *domain.SyncResult) { run.Progress = ev.Progress })
	return sse.send("progress", progressPayload(ev))
}

// ─── POST /api/generate/sync ────────────────────────────────────────────────

func (s *Server) handleGenerateSync(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.setRun(req.TaskID, func(run *domain.SyncResult) { run.Status = "running" })
	result, err := s.agent.Run(r.Context(), req, func(Step) error { return nil })
	if err == nil && result.FilePath == "" {
		err = errors.New("No file generated")
	}
	var out domain.SyncResult
	s.setRun(req.TaskID, func(run *domain.SyncResult) {
		if err != nil {
			run.Status = string(domain.StatusFailed)
			run.Error = err.Error()
		} else {
			run.Status = string(domain.StatusCompleted)
			run.Progress = 100
			run.FilePath = result.FilePath
		}
		out = *run
	})
	writeJSON(w, http.StatusOK, out)
}

// ─── GET /api/task/{id} ─────────────────────────────────────────────────────

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	run, ok := s.run(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ─── GET /api/templates ─────────────────────────────────────────────────────

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	templates := s.agent.Templates()
	if templates == nil {
		templates = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// ─── POST /api/upload ───────────────────────────────────────────────────────

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	dir := filepath.Join(s.workspace, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "Upload failed: "+err.Error())
		return
	}
	id := uuid.NewString()
	path := filepath.Join(dir, id+filepath.Ext(header.Filename))
	out, err := os.Create(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Upload failed: "+err.Error())
		return
	}
	size, err := io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		writeError(w, http.StatusInternalServerError, "Upload failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"file_id":  id,
		"filename": header.Filename,
		"path":     path,
		"size":     size,
	})
}

// ─── GET /api/download/{id} ─────────────────────────────────────────────────

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	run, ok := s.run(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if run.FilePath == "" {
		writeError(w, http.StatusNotFound, "No file generated for this task")
		return
	}
	if _, err := os.Stat(run.FilePath); err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	w.Header().Set("Content-Type", ContentType(run.FilePath))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(run.FilePath)))
	http.ServeFile(w, r, run.FilePath)
}

// ContentType returns the media type for a generated presentation.
func ContentType(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".pdf") {
		return "application/pdf"
	}
	return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
