package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/slideforge/slideforge/internal/domain"
)

// remoteWorkspace is where the generation service sees the shared volume.
const remoteWorkspace = "/opt/workspace"

const templatesKey = "templates"

// allowedUploads maps each accepted extension to the sniffed content types
// that may carry it. Office formats are matched through their container
// type since mimetype reports the container when it cannot tell more.
var allowedUploads = map[string][]string{
	".pdf":  {"application/pdf"},
	".txt":  {"text/plain"},
	".doc":  {"application/x-ole-storage"},
	".ppt":  {"application/x-ole-storage"},
	".docx": {"application/zip"},
	".pptx": {"application/zip"},
}

// UploadedFile describes one stored upload.
type UploadedFile struct {
	FileID       string `json:"file_id"`
	Filename     string `json:"filename"`
	SafeFilename string `json:"safe_filename"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	ContentType  string `json:"content_type"`
}

func (s *Server) uploadDir() string { return filepath.Join(s.cfg.Workspace, "uploads") }

// ─── POST /api/upload ───────────────────────────────────────────────────────

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeDetail(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	// Validate everything before writing anything.
	for _, h := range headers {
		if _, ok := allowedUploads[strings.ToLower(filepath.Ext(h.Filename))]; !ok {
			writeError(w, fmt.Errorf("%w: %q, allowed: .pdf .doc .docx .txt .pptx .ppt",
				domain.ErrUnsupportedFileType, filepath.Ext(h.Filename)))
			return
		}
	}

	if err := os.MkdirAll(s.uploadDir(), 0o755); err != nil {
		writeDetail(w, http.StatusInternalServerError, "Upload failed: "+err.Error())
		return
	}

	files := make([]UploadedFile, 0, len(headers))
	for _, h := range headers {
		f, err := s.saveUpload(h)
		if err != nil {
			for _, done := range files {
				os.Remove(done.Path)
			}
			if errors.Is(err, domain.ErrUnsupportedFileType) {
				writeError(w, err)
				return
			}
			writeDetail(w, http.StatusInternalServerError, "Upload failed: "+err.Error())
			return
		}
		files = append(files, f)
	}

	s.log.Info("files uploaded", "count", len(files))
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "files": files})
}

func (s *Server) saveUpload(h *multipart.FileHeader) (UploadedFile, error) {
	ext := strings.ToLower(filepath.Ext(h.Filename))
	src, err := h.Open()
	if err != nil {
		return UploadedFile{}, err
	}
	defer src.Close()

	mt, err := mimetype.DetectReader(src)
	if err != nil {
		return UploadedFile{}, fmt.Errorf("sniff %s: %w", h.Filename, err)
	}
	if !contentMatches(mt, allowedUploads[ext]) {
		return UploadedFile{}, fmt.Errorf("%w: %s looks like %s", domain.ErrUnsupportedFileType, h.Filename, mt.String())
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return UploadedFile{}, err
	}

	id := uuid.NewString()
	safe := id + ext
	path := filepath.Join(s.uploadDir(), safe)
	dst, err := os.Create(path)
	if err != nil {
		return UploadedFile{}, err
	}
	size, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return UploadedFile{}, err
	}

	return UploadedFile{
		FileID:       id,
		Filename:     h.Filename,
		SafeFilename: safe,
		Path:         path,
		Size:         size,
		ContentType:  mt.String(),
	}, nil
}

// contentMatches reports whether mt or one of its parents is in want.
func contentMatches(mt *mimetype.MIME, want []string) bool {
	for m := mt; m != nil; m = m.Parent() {
		for _, w := range want {
			if m.Is(w) {
				return true
			}
		}
	}
	return false
}

// ─── GET /api/download/{id} ─────────────────────────────────────────────────

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var path string
	if v := r.URL.Query().Get("sample"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil || i < 0 || i >= len(task.Samples) {
			writeDetail(w, http.StatusBadRequest, "Invalid sample index: "+v)
			return
		}
		// GeneratedFilePaths only lists successes, so it is not indexed by sample.
		path = task.Samples[i].FilePath
		if path == "" {
			writeDetail(w, http.StatusNotFound, "No file generated for this sample")
			return
		}
	} else {
		path = task.Options.GeneratedFilePath
	}
	if path == "" {
		writeDetail(w, http.StatusNotFound, "No file generated for this task")
		return
	}

	path = s.localPath(path)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		writeError(w, fmt.Errorf("%w: %s", domain.ErrGenerationFileNotFound, path))
		return
	}

	name := filepath.Base(path)
	w.Header().Set("Content-Type", downloadType(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

// localPath maps a path under the generation service's workspace mount onto
// the local workspace.
func (s *Server) localPath(p string) string {
	if rest, ok := strings.CutPrefix(p, remoteWorkspace); ok {
		return s.cfg.Workspace + rest
	}
	return p
}

func downloadType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".pptx", ".ppt":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	}
	return "application/octet-stream"
}

// ─── GET /api/templates ─────────────────────────────────────────────────────

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if names, ok := s.templates.Get(templatesKey); ok {
		writeJSON(w, http.StatusOK, map[string]any{"templates": names})
		return
	}

	names, err := s.gen.Templates(r.Context())
	if err != nil {
		s.log.Warn("list templates failed", "error", err)
		writeError(w, fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err))
		return
	}
	s.templates.Add(templatesKey, names)
	writeJSON(w, http.StatusOK, map[string]any{"templates": names})
}
