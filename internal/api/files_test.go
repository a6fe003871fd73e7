package api

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slideforge/slideforge/internal/domain"
)

func upload(t *testing.T, env *testEnv, files map[string][]byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	mw.Close()

	resp, err := http.Post(env.url("/api/upload"), mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func TestAPI_Upload(t *testing.T) {
	env := newTestEnv(t, false)

	resp := upload(t, env, map[string][]byte{"notes.txt": []byte("Quarterly results\nRevenue up")})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Status string         `json:"status"`
		Files  []UploadedFile `json:"files"`
	}
	decodeBody(t, resp, &out)
	if out.Status != "success" || len(out.Files) != 1 {
		t.Fatalf("response = %+v", out)
	}
	f := out.Files[0]
	if f.Filename != "notes.txt" || f.SafeFilename != f.FileID+".txt" {
		t.Errorf("file = %+v", f)
	}
	if f.Path != filepath.Join(env.workspace, "uploads", f.SafeFilename) {
		t.Errorf("path = %s", f.Path)
	}
	data, err := os.ReadFile(f.Path)
	if err != nil || string(data) != "Quarterly results\nRevenue up" {
		t.Errorf("stored content = %q, err %v", data, err)
	}
	if f.Size != int64(len(data)) {
		t.Errorf("size = %d, want %d", f.Size, len(data))
	}
}

func TestAPI_Upload_Rejects(t *testing.T) {
	env := newTestEnv(t, false)

	cases := map[string][]byte{
		"tool.exe":  []byte("MZ\x90\x00"),
		"fake.pdf":  []byte("just some text"),
		"fake.pptx": []byte("just some text"),
	}
	for name, data := range cases {
		resp := upload(t, env, map[string][]byte{name: data})
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}
	entries, _ := os.ReadDir(filepath.Join(env.workspace, "uploads"))
	if len(entries) != 0 {
		t.Errorf("rejected uploads left %d files behind", len(entries))
	}

	resp, err := http.Post(env.url("/api/upload"), "text/plain", bytes.NewReader([]byte("x")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-multipart status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_Upload_PDF(t *testing.T) {
	env := newTestEnv(t, false)
	resp := upload(t, env, map[string][]byte{"paper.pdf": []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n")})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func seedGenerated(t *testing.T, env *testEnv) string {
	t.Helper()
	out := filepath.Join(env.workspace, "20260101", "abc")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(out, "deck.pptx"), []byte("pptx-bytes"), 0o644)
	os.WriteFile(filepath.Join(out, "poster.pdf"), []byte("pdf-bytes"), 0o644)

	// Sample 1 failed; the success list holds only samples 0 and 2.
	task := domain.NewTask("done", "x", 3, time.Now())
	task.Status = domain.StatusCompleted
	task.Samples[0].Status = domain.StatusCompleted
	task.Samples[0].FilePath = "/opt/workspace/20260101/abc/deck.pptx"
	task.Samples[1].Status = domain.StatusFailed
	task.Samples[2].Status = domain.StatusCompleted
	task.Samples[2].FilePath = "/opt/workspace/20260101/abc/poster.pdf"
	task.Options.GeneratedFilePath = "/opt/workspace/20260101/abc/deck.pptx"
	task.Options.GeneratedFilePaths = []string{
		"/opt/workspace/20260101/abc/deck.pptx",
		"/opt/workspace/20260101/abc/poster.pdf",
	}
	if err := env.db.Create(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	return task.ID
}

func TestAPI_Download(t *testing.T) {
	env := newTestEnv(t, false)
	id := seedGenerated(t, env)

	check := func(query, wantType, wantBody string) {
		t.Helper()
		resp := get(t, env.url("/api/download/"+id+query))
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", query, resp.StatusCode)
		}
		if got := resp.Header.Get("Content-Type"); got != wantType {
			t.Errorf("%s: Content-Type = %q, want %q", query, got, wantType)
		}
		body, _ := io.ReadAll(resp.Body)
		if string(body) != wantBody {
			t.Errorf("%s: body = %q, want %q", query, body, wantBody)
		}
	}
	pptx := "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	check("", pptx, "pptx-bytes")
	check("?sample=0", pptx, "pptx-bytes")
	check("?sample=2", "application/pdf", "pdf-bytes")

	resp := get(t, env.url("/api/download/"+id+"?sample=1"))
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("failed sample: status = %d body %q, want 404", resp.StatusCode, body)
	}

	for _, q := range []string{"?sample=3", "?sample=-1", "?sample=x"} {
		resp := get(t, env.url("/api/download/"+id+q))
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestAPI_Download_Missing(t *testing.T) {
	env := newTestEnv(t, false)

	resp := get(t, env.url("/api/download/ghost"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown task status = %d, want 404", resp.StatusCode)
	}

	id := createTask(t, env, `{"prompt":"x"}`)
	resp = get(t, env.url("/api/download/"+id))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("no file status = %d, want 404", resp.StatusCode)
	}

	task := domain.NewTask("gone", "x", 1, time.Now())
	task.Options.GeneratedFilePath = "/opt/workspace/nowhere.pptx"
	env.db.Create(context.Background(), task)
	resp = get(t, env.url("/api/download/gone"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", resp.StatusCode)
	}
}
