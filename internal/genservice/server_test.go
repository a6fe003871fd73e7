package genservice

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/infra/genclient"
	"github.com/slideforge/slideforge/internal/logger"
)

type brokenAgent struct{}

func (brokenAgent) Templates() []string { return nil }

func (brokenAgent) Run(_ context.Context, _ domain.GenerateRequest, emit func(Step) error) (Result, error) {
	if err := emit(Step{Role: "assistant", Content: "thinking"}); err != nil {
		return Result{}, err
	}
	return Result{}, errors.New("model quota exhausted")
}

func newStub(t *testing.T, agent Agent) (*httptest.Server, *genclient.Client, string) {
	t.Helper()
	workspace := t.TempDir()
	if agent == nil {
		a := NewScriptedAgent(workspace)
		a.Pages = 3
		agent = a
	}
	srv := httptest.NewServer(NewServer(agent, workspace, logger.NewForTests()).Handler())
	t.Cleanup(srv.Close)
	return srv, genclient.New(genclient.Config{BaseURL: srv.URL}, logger.NewForTests()), workspace
}

func collect(ch <-chan domain.Event) []domain.Event {
	var out []domain.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestServer_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("Should stream a full run the client can normalize", func(t *testing.T) {
		srv, client, _ := newStub(t, nil)
		require.NoError(t, client.Health(ctx))

		events := collect(client.Generate(ctx, domain.GenerateRequest{TaskID: "run-1", Prompt: "Intro to Go", ConvertType: "freeform"}))
		require.NotEmpty(t, events)

		var progress []int
		var file string
		var stats map[string]any
		messages := 0
		for _, ev := range events {
			switch e := ev.(type) {
			case domain.MessageEvent:
				messages++
			case domain.ProgressEvent:
				progress = append(progress, e.Progress)
			case domain.FileEvent:
				file = e.FilePath
			case domain.StatsEvent:
				stats = e.TokenStats
			case domain.ErrorEvent:
				t.Fatalf("unexpected error event: %s", e.Message)
			}
		}
		assert.Equal(t, []int{20, 43, 66, 90, 90, 100}, progress)
		assert.Greater(t, messages, 5)
		assert.Contains(t, stats, "design_agent")
		require.NotEmpty(t, file)
		assert.Equal(t, "presentation.pptx", filepath.Base(file))
		_, ok := events[len(events)-1].(domain.FileEvent)
		assert.True(t, ok, "the file event ends the stream")

		status, err := client.RunStatus(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, "completed", status.Status)
		assert.Equal(t, 100, status.Progress)

		resp, err := http.Get(srv.URL + "/api/download/run-1")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, ContentType(file), resp.Header.Get("Content-Type"))
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), "Intro to Go")
	})

	t.Run("Should report agent failures as an error event", func(t *testing.T) {
		_, client, _ := newStub(t, brokenAgent{})
		events := collect(client.Generate(ctx, domain.GenerateRequest{TaskID: "run-2", Prompt: "x"}))
		require.Len(t, events, 2)
		assert.Equal(t, domain.ErrorEvent{Message: "model quota exhausted"}, events[1])

		status, err := client.RunStatus(ctx, "run-2")
		require.NoError(t, err)
		assert.Equal(t, "failed", status.Status)
	})

	t.Run("Should reject an empty prompt", func(t *testing.T) {
		srv, _, _ := newStub(t, nil)
		resp, err := http.Post(srv.URL+"/api/generate", "application/json", strings.NewReader(`{"prompt":" "}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_Auxiliary(t *testing.T) {
	ctx := context.Background()

	t.Run("Should run synchronously", func(t *testing.T) {
		_, client, _ := newStub(t, nil)
		res, err := client.GenerateSync(ctx, domain.GenerateRequest{TaskID: "sync-1", Prompt: "Poster", PowerpointType: "A1"})
		require.NoError(t, err)
		assert.Equal(t, "completed", res.Status)
		assert.Equal(t, ".pdf", filepath.Ext(res.FilePath))

		_, client, _ = newStub(t, brokenAgent{})
		res, err = client.GenerateSync(ctx, domain.GenerateRequest{TaskID: "sync-2", Prompt: "x"})
		require.NoError(t, err)
		assert.Equal(t, "failed", res.Status)
		assert.Equal(t, "model quota exhausted", res.Error)
	})

	t.Run("Should store uploads in the workspace", func(t *testing.T) {
		_, client, workspace := newStub(t, nil)
		local := filepath.Join(t.TempDir(), "notes.pdf")
		require.NoError(t, os.WriteFile(local, []byte("%PDF-1.4"), 0o644))

		remote, err := client.Upload(ctx, local)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(workspace, "uploads"), filepath.Dir(remote))
		assert.Equal(t, ".pdf", filepath.Ext(remote))
		data, err := os.ReadFile(remote)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4", string(data))
	})

	t.Run("Should list templates", func(t *testing.T) {
		_, client, _ := newStub(t, nil)
		names, err := client.Templates(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"default", "academic", "business"}, names)
	})

	t.Run("Should return not found for unknown runs", func(t *testing.T) {
		srv, client, _ := newStub(t, nil)
		_, err := client.RunStatus(ctx, "ghost")
		assert.ErrorIs(t, err, domain.ErrTaskNotFound)

		resp, err := http.Get(srv.URL + "/api/download/ghost")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
