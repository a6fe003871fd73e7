package redisstore

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/logger"
)

var fixedNow = time.Unix(1700000000, 0)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := New(client, 24*time.Hour, logger.NewForTests())
	s.SetClock(func() time.Time { return fixedNow })
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func newTask(id string, created time.Time, samples int) *domain.Task {
	return domain.NewTask(id, "prompt "+id, samples, created)
}

func TestOpen(t *testing.T) {
	t.Run("Should connect using host and port", func(t *testing.T) {
		mr := miniredis.RunT(t)
		port, err := strconv.Atoi(mr.Port())
		require.NoError(t, err)

		cfg := DefaultConfig()
		cfg.Host = mr.Host()
		cfg.Port = port
		s, err := Open(context.Background(), cfg, logger.NewForTests())
		require.NoError(t, err)
		defer s.Close()
		assert.NoError(t, s.Ping(context.Background()))
	})

	t.Run("Should give up after the configured retries", func(t *testing.T) {
		cfg := Config{URL: "redis://127.0.0.1:1/0", ConnectRetries: 1, RetryBackoff: time.Millisecond, PingTimeout: 100 * time.Millisecond}
		_, err := Open(context.Background(), cfg, logger.NewForTests())
		assert.Error(t, err)
	})

	t.Run("Should reject a malformed URL", func(t *testing.T) {
		_, err := Open(context.Background(), Config{URL: "::not a url"}, logger.NewForTests())
		assert.Error(t, err)
	})
}

func TestStore_CreateGet(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	t.Run("Should round trip a task and set the TTL", func(t *testing.T) {
		task := newTask("t1", fixedNow, 2)
		task.Options.Template = "corp"
		require.NoError(t, s.Create(ctx, task))

		got, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, task, got)
		assert.Equal(t, 24*time.Hour, mr.TTL("task:t1"))
		assert.Equal(t, 24*time.Hour, mr.TTL("tasks"))
	})

	t.Run("Should return not found for a missing task", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	})

	t.Run("Should return not found once the TTL elapses", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, newTask("short", fixedNow, 1)))
		mr.FastForward(25 * time.Hour)
		_, err := s.Get(ctx, "short")
		assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	})
}

func TestStore_Update(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newTask("t1", fixedNow.Add(-time.Hour), 1)))

	t.Run("Should merge only the listed fields", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, "t1", domain.TaskUpdate{Status: domain.Ptr(domain.StatusRunning)}))
		require.NoError(t, s.Update(ctx, "t1", domain.TaskUpdate{Progress: domain.Ptr(40)}))

		got, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRunning, got.Status)
		assert.Equal(t, 40, got.Progress)
		assert.Equal(t, "prompt t1", got.Prompt)
		assert.InDelta(t, domain.Timestamp(fixedNow), got.UpdatedAt, 0.001)
	})

	t.Run("Should be idempotent", func(t *testing.T) {
		u := domain.TaskUpdate{
			Status:   domain.Ptr(domain.StatusCompleted),
			Artifact: &domain.Artifact{Type: domain.ArtifactPPT, Content: "/x.pptx"},
		}
		require.NoError(t, s.Update(ctx, "t1", u))
		once, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		require.NoError(t, s.Update(ctx, "t1", u))
		twice, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	})

	t.Run("Should refresh the TTL", func(t *testing.T) {
		mr.FastForward(10 * time.Hour)
		require.NoError(t, s.Update(ctx, "t1", domain.TaskUpdate{Progress: domain.Ptr(50)}))
		assert.Equal(t, 24*time.Hour, mr.TTL("task:t1"))
	})

	t.Run("Should not resurrect a missing task", func(t *testing.T) {
		err := s.Update(ctx, "ghost", domain.TaskUpdate{Progress: domain.Ptr(1)})
		assert.ErrorIs(t, err, domain.ErrTaskNotFound)
		assert.False(t, mr.Exists("task:ghost"))
	})
}

func TestStore_List(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	for i := range 3 {
		id := "t" + strconv.Itoa(i)
		require.NoError(t, s.Create(ctx, newTask(id, fixedNow.Add(time.Duration(i)*time.Minute), 1)))
	}

	t.Run("Should list newest first", func(t *testing.T) {
		tasks, err := s.List(ctx, 50)
		require.NoError(t, err)
		require.Len(t, tasks, 3)
		assert.Equal(t, "t2", tasks[0].ID)
		assert.Equal(t, "t0", tasks[2].ID)
	})

	t.Run("Should honor the limit", func(t *testing.T) {
		tasks, err := s.List(ctx, 2)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "t2", tasks[0].ID)
	})

	t.Run("Should prune index entries whose record expired", func(t *testing.T) {
		mr.Del("task:t1")
		tasks, err := s.List(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, tasks, 2)
		members, err := mr.ZMembers("tasks")
		require.NoError(t, err)
		assert.NotContains(t, members, "t1")
	})
}

func TestStore_Delete(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()
	task := newTask("t1", fixedNow, 2)
	require.NoError(t, s.Create(ctx, task))
	require.NoError(t, s.AppendMessage(ctx, "t1", task.Samples[0].ID, "hello"))
	require.NoError(t, s.AppendMessage(ctx, "t1", task.Samples[1].ID, "world"))

	require.NoError(t, s.Delete(ctx, "t1"))

	assert.False(t, mr.Exists("task:t1"))
	assert.False(t, mr.Exists("task:t1:messages:t1-sample-0"))
	assert.False(t, mr.Exists("task:t1:messages:t1-sample-1"))
	tasks, err := s.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	assert.ErrorIs(t, s.Delete(ctx, "t1"), domain.ErrTaskNotFound)
}

func TestStore_Messages(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, "t1", "s0", "a"))
	require.NoError(t, s.AppendMessage(ctx, "t1", "s1", "x"))
	require.NoError(t, s.AppendMessage(ctx, "t1", "s0", "b"))
	require.NoError(t, s.AppendMessage(ctx, "t2", "s0", "other"))

	t.Run("Should keep per-sample logs separate and ordered", func(t *testing.T) {
		msgs, err := s.Messages(ctx, "t1", "s0")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, msgs)
		assert.Equal(t, 24*time.Hour, mr.TTL("task:t1:messages:s0"))
	})

	t.Run("Should group all messages of a task by sample", func(t *testing.T) {
		all, err := s.AllMessages(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, map[string][]string{"s0": {"a", "b"}, "s1": {"x"}}, all)
	})

	t.Run("Should return an empty log for an unknown sample", func(t *testing.T) {
		msgs, err := s.Messages(ctx, "t1", "s9")
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}
