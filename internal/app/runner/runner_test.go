package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/hub"
	"github.com/slideforge/slideforge/internal/infra/genclient"
	"github.com/slideforge/slideforge/internal/infra/redisstore"
	"github.com/slideforge/slideforge/internal/logger"
)

type fixture struct {
	gen   *genclient.MockGenerator
	store *redisstore.Store
	pub   *hub.Recorder
	task  *domain.Task
}

func setup(t *testing.T, samples int, script func(int, domain.GenerateRequest) []domain.Event) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	store := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour, logger.NewForTests())
	t.Cleanup(func() { _ = store.Close() })

	task := domain.NewTask("task-1", "quarterly review", samples, time.Now())
	require.NoError(t, store.Create(context.Background(), task))
	return &fixture{
		gen:   genclient.NewMockGenerator(script),
		store: store,
		pub:   &hub.Recorder{},
		task:  task,
	}
}

func (f *fixture) runner(opts ...Option) *Runner {
	return New(f.gen, f.store, f.pub, logger.NewForTests(), opts...)
}

func (f *fixture) job(i int) Job {
	return Job{
		TaskID:  f.task.ID,
		Index:   i,
		Total:   len(f.task.Samples),
		Sample:  f.task.Samples[i],
		Request: domain.GenerateRequest{TaskID: f.task.ID, Prompt: f.task.Prompt, ConvertType: "freeform"},
	}
}

type reports struct {
	mu  sync.Mutex
	all []domain.Sample
}

func (r *reports) fn(_ int, s domain.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, s)
}

func (r *reports) statuses() []domain.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TaskStatus
	for _, s := range r.all {
		if len(out) == 0 || out[len(out)-1] != s.Status {
			out = append(out, s.Status)
		}
	}
	return out
}

func TestRunner_Stream(t *testing.T) {
	ctx := context.Background()

	t.Run("Should complete a single sample from a successful stream", func(t *testing.T) {
		f := setup(t, 1, func(int, domain.GenerateRequest) []domain.Event {
			return genclient.Transcript("/opt/workspace/corr/deck.pptx")
		})
		var rep reports
		out := f.runner(WithIDGenerator(func() string { return "corr-1" })).Run(ctx, f.job(0), rep.fn)

		require.NoError(t, out.Err)
		assert.True(t, out.Succeeded())
		assert.Equal(t, domain.StatusCompleted, out.Sample.Status)
		assert.Equal(t, 100, out.Sample.Progress)
		assert.Equal(t, "/opt/workspace/corr/deck.pptx", out.Sample.FilePath)
		require.NotNil(t, out.Sample.Artifact)
		assert.Equal(t, domain.ArtifactPPT, out.Sample.Artifact.Type)
		assert.Equal(t, "pptx", out.Sample.Artifact.Language)
		assert.Equal(t, map[string]any{"total": float64(42)}, out.TokenStats)
		assert.Equal(t, []domain.TaskStatus{domain.StatusRunning, domain.StatusCompleted}, rep.statuses())

		reqs := f.gen.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "corr-1", reqs[0].TaskID)
		assert.Equal(t, "quarterly review", reqs[0].Prompt)
	})

	t.Run("Should persist and publish formatted messages", func(t *testing.T) {
		f := setup(t, 1, func(int, domain.GenerateRequest) []domain.Event {
			return genclient.Transcript("/x/deck.pdf")
		})
		out := f.runner().Run(ctx, f.job(0), nil)
		require.NoError(t, out.Err)
		assert.Equal(t, "pdf", out.Sample.Artifact.Language)

		msgs, err := f.store.Messages(ctx, f.task.ID, f.task.Samples[0].ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "🤖 **Assistant**: Researching the topic", msgs[0])
		assert.Equal(t, msgs[0]+"\n\n"+msgs[1], out.Sample.Content)

		chunks := f.pub.OfType(domain.NotifyChunk)
		require.Len(t, chunks, 2)
		first := chunks[0].(domain.ChunkNotification)
		assert.Equal(t, msgs[0], first.Content)
		assert.Equal(t, "assistant", first.Role)
		assert.Equal(t, f.task.Samples[0].ID, first.SampleID)
		second := chunks[1].(domain.ChunkNotification)
		require.Len(t, second.ToolCalls, 1)
		assert.Equal(t, "generate_slide", second.ToolCalls[0].Name)

		progress := f.pub.OfType(domain.NotifyProgress)
		require.Len(t, progress, 2)
		assert.Equal(t, 90, progress[1].(domain.ProgressNotification).Progress)
		assert.Equal(t, "convert", progress[1].(domain.ProgressNotification).Phase)
	})

	t.Run("Should skip messages that format to nothing", func(t *testing.T) {
		f := setup(t, 1, func(int, domain.GenerateRequest) []domain.Event {
			return []domain.Event{
				domain.MessageEvent{Role: "assistant", Content: "Function(x)"},
				domain.FileEvent{FilePath: "/x/a.pptx"},
			}
		})
		out := f.runner().Run(ctx, f.job(0), nil)
		require.NoError(t, out.Err)
		assert.Empty(t, f.pub.OfType(domain.NotifyChunk))
		assert.Empty(t, out.Sample.Content)
	})

	t.Run("Should fail when the stream ends without a file", func(t *testing.T) {
		f := setup(t, 1, func(int, domain.GenerateRequest) []domain.Event {
			return []domain.Event{domain.MessageEvent{Content: "thinking"}}
		})
		out := f.runner().Run(ctx, f.job(0), nil)
		assert.ErrorIs(t, out.Err, domain.ErrNoFileGenerated)
		assert.Equal(t, domain.StatusFailed, out.Sample.Status)
	})

	t.Run("Should stop at the first error event", func(t *testing.T) {
		f := setup(t, 1, func(int, domain.GenerateRequest) []domain.Event {
			return []domain.Event{
				domain.ProgressEvent{Progress: 10},
				domain.ErrorEvent{Message: "agent crashed"},
				domain.FileEvent{FilePath: "/x/late.pptx"},
			}
		})
		out := f.runner().Run(ctx, f.job(0), nil)
		require.Error(t, out.Err)
		assert.Equal(t, "agent crashed", out.Err.Error())
		assert.Equal(t, domain.StatusFailed, out.Sample.Status)
		assert.Empty(t, out.Sample.FilePath)
		assert.Equal(t, 10, out.Sample.Progress)
	})

	t.Run("Should clamp out of range progress", func(t *testing.T) {
		f := setup(t, 1, func(int, domain.GenerateRequest) []domain.Event {
			return []domain.Event{domain.ProgressEvent{Progress: 250}}
		})
		var rep reports
		f.runner().Run(ctx, f.job(0), rep.fn)
		assert.Equal(t, 100, f.pub.OfType(domain.NotifyProgress)[0].(domain.ProgressNotification).Progress)
	})

	t.Run("Should report cancellation as a cancelled failure", func(t *testing.T) {
		f := setup(t, 1, func(int, domain.GenerateRequest) []domain.Event {
			return []domain.Event{domain.ProgressEvent{Progress: 5}}
		})
		f.gen.Hold = true

		runCtx, cancel := context.WithCancel(ctx)
		f.pub.OnPublish = func(n domain.Notification) {
			if n.Type() == domain.NotifyProgress {
				cancel()
			}
		}
		out := f.runner().Run(runCtx, f.job(0), nil)
		assert.ErrorIs(t, out.Err, domain.ErrTaskCancelled)
		assert.Equal(t, domain.StatusFailed, out.Sample.Status)
	})
}

func TestRunner_MultiSample(t *testing.T) {
	ctx := context.Background()

	t.Run("Should label chunks with the sample number", func(t *testing.T) {
		f := setup(t, 2, func(int, domain.GenerateRequest) []domain.Event {
			return genclient.Transcript("/x/deck.pptx")
		})
		out := f.runner().Run(ctx, f.job(1), nil)
		require.NoError(t, out.Err)

		var contents []string
		for _, n := range f.pub.OfType(domain.NotifyChunk) {
			c := n.(domain.ChunkNotification)
			assert.Equal(t, "task-1-sample-1", c.SampleID)
			contents = append(contents, c.Content)
		}
		require.Len(t, contents, 4)
		assert.Equal(t, "🔄 Sample 2 started", contents[0])
		assert.Equal(t, "[Sample 2] 🤖 **Assistant**: Researching the topic", contents[1])
		assert.Equal(t, "✅ Sample 2 completed", contents[3])

		msgs, err := f.store.Messages(ctx, "task-1", "task-1-sample-1")
		require.NoError(t, err)
		assert.Equal(t, "🤖 **Assistant**: Researching the topic", msgs[0])
	})

	t.Run("Should name the sample in a missing file failure", func(t *testing.T) {
		f := setup(t, 3, func(int, domain.GenerateRequest) []domain.Event { return nil })
		out := f.runner().Run(ctx, f.job(2), nil)
		require.Error(t, out.Err)
		assert.Equal(t, "Sample 3: no file generated", out.Err.Error())
		last := f.pub.Last().(domain.ChunkNotification)
		assert.Equal(t, "❌ Sample 3 failed: Sample 3: no file generated", last.Content)
	})

	t.Run("Should use a fresh correlation id per run", func(t *testing.T) {
		f := setup(t, 2, func(int, domain.GenerateRequest) []domain.Event {
			return genclient.Transcript("/x/deck.pptx")
		})
		r := f.runner()
		r.Run(ctx, f.job(0), nil)
		r.Run(ctx, f.job(1), nil)

		reqs := f.gen.Requests()
		require.Len(t, reqs, 2)
		assert.NotEqual(t, reqs[0].TaskID, reqs[1].TaskID)
		assert.NotEqual(t, "task-1", reqs[0].TaskID)
	})
}

func TestRunner_Sync(t *testing.T) {
	ctx := context.Background()

	t.Run("Should complete from a blocking call", func(t *testing.T) {
		f := setup(t, 1, nil)
		out := f.runner(WithMode(ModeSync)).Run(ctx, f.job(0), nil)
		require.NoError(t, out.Err)
		assert.Equal(t, domain.StatusCompleted, out.Sample.Status)
		assert.Contains(t, out.Sample.FilePath, "out.pptx")
	})

	t.Run("Should surface the service error", func(t *testing.T) {
		f := setup(t, 1, nil)
		f.gen.Sync = func(req domain.GenerateRequest) (*domain.SyncResult, error) {
			return &domain.SyncResult{TaskID: req.TaskID, Status: "failed", Error: "render failed"}, nil
		}
		out := f.runner(WithMode(ModeSync)).Run(ctx, f.job(0), nil)
		assert.EqualError(t, out.Err, "render failed")
	})

	t.Run("Should surface transport errors", func(t *testing.T) {
		f := setup(t, 1, nil)
		f.gen.Sync = func(domain.GenerateRequest) (*domain.SyncResult, error) {
			return nil, errors.New("connection refused")
		}
		out := f.runner(WithMode(ModeSync)).Run(ctx, f.job(0), nil)
		assert.EqualError(t, out.Err, "connection refused")
		assert.Equal(t, domain.StatusFailed, out.Sample.Status)
	})
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeSync, ParseMode("SYNC"))
	assert.Equal(t, ModeStream, ParseMode(""))
	assert.Equal(t, ModeStream, ParseMode("bogus"))
}
