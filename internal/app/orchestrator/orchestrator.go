// Package orchestrator drives a task from idle to a terminal state: it fans
// the task out into one runner per sample, keeps the store current while the
// samples run and folds their outcomes into the final task record.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slideforge/slideforge/internal/app/runner"
	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/infra/metrics"
	"github.com/slideforge/slideforge/internal/logger"
)

const (
	defaultConvertType    = "freeform"
	defaultPowerpointType = "16:9"
)

// Config holds orchestrator tunables.
type Config struct {
	// FlushInterval is how often sample snapshots are persisted while
	// samples run.
	FlushInterval time.Duration
	// FallbackStep is the delay between simulated progress steps when the
	// generation service is unreachable.
	FallbackStep time.Duration
	// Workspace is the shared directory holding uploads and outputs.
	Workspace string
}

func DefaultConfig() Config {
	return Config{
		FlushInterval: 2 * time.Second,
		FallbackStep:  500 * time.Millisecond,
		Workspace:     "workspace",
	}
}

// Orchestrator is safe for concurrent use; the queue feeds it one task at a
// time but cancellation arrives from request goroutines.
type Orchestrator struct {
	cfg    Config
	store  domain.TaskStore
	gen    domain.Generator
	pub    domain.Publisher
	runner *runner.Runner
	log    logger.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func New(cfg Config, store domain.TaskStore, gen domain.Generator, pub domain.Publisher, r *runner.Runner, log logger.Logger) *Orchestrator {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		gen:     gen,
		pub:     pub,
		runner:  r,
		log:     log.With("component", "orchestrator"),
		running: make(map[string]context.CancelFunc),
	}
}

// Cancel stops an in-flight run of taskID. It reports whether one was found.
func (o *Orchestrator) Cancel(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.running[taskID]
	if ok {
		cancel()
	}
	return ok
}

// Abandon fails a task that was accepted but will never be processed.
func (o *Orchestrator) Abandon(ctx context.Context, taskID, reason string) {
	ctx = logger.ContextWithLogger(ctx, o.log.With("task_id", taskID))
	o.fail(ctx, taskID, reason)
}

// Running returns the number of tasks currently being processed.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

func (o *Orchestrator) track(taskID string, cancel context.CancelFunc) func() {
	o.mu.Lock()
	o.running[taskID] = cancel
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.running, taskID)
		o.mu.Unlock()
		cancel()
	}
}

// Process runs task to completion. Whatever happens, including a panic in
// any step, the task ends completed or failed and subscribers are told.
// The returned error is the failure already recorded on the task.
func (o *Orchestrator) Process(ctx context.Context, task *domain.Task) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer o.track(task.ID, cancel)()

	log := o.log.With("task_id", task.ID)
	ctx = logger.ContextWithLogger(ctx, log)
	start := time.Now()
	metrics.TasksActive.Inc()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			o.fail(ctx, task.ID, err.Error())
		}
		metrics.TasksActive.Dec()
		metrics.TaskDuration.Observe(time.Since(start).Seconds())
	}()

	if err := o.store.Update(ctx, task.ID, domain.TaskUpdate{Status: domain.Ptr(domain.StatusRunning)}); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	o.pub.Publish(ctx, task.ID, domain.StatusNotification{TaskID: task.ID, Status: domain.StatusRunning, Progress: task.Progress})

	if err := o.gen.Health(ctx); err != nil {
		log.Warn("generation service unavailable, using fallback", "error", err)
		return o.fallback(ctx, task)
	}

	if len(task.Samples) == 0 {
		return domain.ErrNoSamples
	}
	req := o.buildRequest(ctx, task)
	return o.fanOut(ctx, task, req)
}

// buildRequest derives the generation request shared by every sample.
func (o *Orchestrator) buildRequest(ctx context.Context, task *domain.Task) domain.GenerateRequest {
	req := domain.GenerateRequest{
		TaskID:         task.ID,
		Prompt:         task.Prompt,
		Attachments:    []string{},
		Template:       task.Options.Template,
		ConvertType:    task.OutputType,
		PowerpointType: task.Options.PowerpointType,
	}
	if task.Pages != "" && task.Pages != domain.PagesAuto {
		if n, err := strconv.Atoi(task.Pages); err == nil && n > 0 {
			req.NumPages = &n
		}
	}
	if req.NumPages == nil && task.Options.NumPages != nil {
		req.NumPages = domain.Ptr(*task.Options.NumPages)
	}
	if req.ConvertType == "" {
		req.ConvertType = task.Options.ConvertType
	}
	if req.ConvertType == "" {
		req.ConvertType = defaultConvertType
	}
	if req.PowerpointType == "" {
		req.PowerpointType = defaultPowerpointType
	}
	req.Attachments = append(req.Attachments, task.Options.Attachments...)

	if task.UploadedFileID != "" {
		if path, ok := o.findUpload(task.UploadedFileID); ok {
			remote, err := o.gen.Upload(ctx, path)
			if err != nil {
				logger.FromContext(ctx).Warn("upload attachment, using local path", "path", path, "error", err)
				remote = path
			}
			req.Attachments = append(req.Attachments, remote)
		} else {
			logger.FromContext(ctx).Warn("uploaded file not found", "file_id", task.UploadedFileID)
		}
	}
	return req
}

func (o *Orchestrator) findUpload(id string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(o.cfg.Workspace, "uploads", id+"*"))
	if err != nil {
		return "", false
	}
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() {
			return m, true
		}
	}
	return "", false
}

func (o *Orchestrator) fanOut(ctx context.Context, task *domain.Task, req domain.GenerateRequest) error {
	n := len(task.Samples)
	if n > 1 {
		o.pub.Publish(ctx, task.ID, domain.ChunkNotification{
			TaskID:  task.ID,
			Content: fmt.Sprintf("🚀 Starting %d samples", n),
		})
	}

	snap := newSnapshot(task.Samples)
	stopFlush := o.startFlusher(ctx, task.ID, snap)

	outcomes := make([]runner.Outcome, n)
	var g errgroup.Group
	for i := range task.Samples {
		job := runner.Job{
			TaskID:  task.ID,
			Index:   i,
			Total:   n,
			Sample:  task.Samples[i],
			Request: req,
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s := snap.get(i)
					s.Status = domain.StatusFailed
					snap.set(i, s)
					outcomes[i] = runner.Outcome{Index: i, Sample: s, Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			outcomes[i] = o.runner.Run(ctx, job, snap.set)
			return nil
		})
	}
	_ = g.Wait()
	stopFlush()

	return o.aggregate(ctx, task, outcomes)
}

// aggregate writes the terminal record. At least one successful sample
// completes the task, even when others failed.
func (o *Orchestrator) aggregate(ctx context.Context, task *domain.Task, outcomes []runner.Outcome) error {
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx)

	n := len(outcomes)
	samples := make([]domain.Sample, n)
	var (
		succeeded []runner.Outcome
		failed    int
	)
	stats := map[string]map[string]any{}
	for i, out := range outcomes {
		samples[i] = out.Sample
		if !out.Succeeded() {
			failed++
			continue
		}
		succeeded = append(succeeded, out)
		if out.TokenStats != nil {
			stats[fmt.Sprintf("sample_%d", i)] = out.TokenStats
		}
	}

	if len(succeeded) == 0 {
		msg := fmt.Sprintf("all %d samples failed", n)
		if n == 1 {
			msg = outcomes[0].Err.Error()
		}
		u := domain.TaskUpdate{
			Status:  domain.Ptr(domain.StatusFailed),
			Error:   &msg,
			Samples: samples,
		}
		o.finish(ctx, task.ID, u, "failed")
		o.pub.Publish(ctx, task.ID, domain.ErrorNotification{TaskID: task.ID, Error: msg})
		log.Warn("task failed", "error", msg)
		return nil
	}

	progress := int(math.Round(100 * float64(len(succeeded)) / float64(n)))
	first := succeeded[0].Sample

	opts := task.Options.Clone()
	opts.GeneratedFilePath = first.FilePath
	opts.GeneratedFilePaths = make([]string, 0, len(succeeded))
	for _, out := range succeeded {
		if out.Sample.FilePath != "" {
			opts.GeneratedFilePaths = append(opts.GeneratedFilePaths, out.Sample.FilePath)
		}
	}
	if len(stats) > 0 {
		opts.TokenStats = stats
	}
	opts.SuccessfulCount = domain.Ptr(len(succeeded))
	opts.FailedCount = domain.Ptr(failed)

	u := domain.TaskUpdate{
		Status:   domain.Ptr(domain.StatusCompleted),
		Progress: &progress,
		Artifact: first.Artifact,
		Options:  &opts,
		Samples:  samples,
	}
	o.finish(ctx, task.ID, u, "completed")

	summary := fmt.Sprintf("✅ Done: %d/%d succeeded", len(succeeded), n)
	if failed > 0 {
		summary += fmt.Sprintf(", %d failed", failed)
	}
	o.pub.Publish(ctx, task.ID, domain.CompleteNotification{
		TaskID:   task.ID,
		Content:  summary,
		Progress: progress,
		Artifact: first.Artifact.Clone(),
	})
	log.Info("task completed", "succeeded", len(succeeded), "failed", failed, "progress", progress)
	return nil
}

// finish writes a terminal update. A record deleted mid-run stays deleted.
func (o *Orchestrator) finish(ctx context.Context, taskID string, u domain.TaskUpdate, outcome string) {
	metrics.TasksFinished.WithLabelValues(outcome).Inc()
	if err := o.store.Update(ctx, taskID, u); err != nil {
		logger.FromContext(ctx).Warn("write terminal state", "outcome", outcome, "error", err)
	}
}

// fail is the safety net for errors that escaped the normal flow.
func (o *Orchestrator) fail(ctx context.Context, taskID, msg string) {
	ctx = context.WithoutCancel(ctx)
	logger.FromContext(ctx).Error("task processing failed", "error", msg)
	o.finish(ctx, taskID, domain.TaskUpdate{Status: domain.Ptr(domain.StatusFailed), Error: &msg}, "failed")
	o.pub.Publish(ctx, taskID, domain.ErrorNotification{TaskID: taskID, Error: msg})
}
