// Package runner drives one sample of a task through the generation
// service: it consumes the normalized event stream, keeps the sample's
// state current, persists the formatted message log and republishes
// progress to live subscribers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/infra/metrics"
	"github.com/slideforge/slideforge/internal/logger"
)

// Mode selects how the generation service is called.
type Mode string

const (
	ModeStream Mode = "stream"
	ModeSync   Mode = "sync"
)

// ParseMode maps a config value to a Mode, defaulting to streaming.
func ParseMode(s string) Mode {
	if strings.EqualFold(s, string(ModeSync)) {
		return ModeSync
	}
	return ModeStream
}

// Job is the work for one sample.
type Job struct {
	TaskID  string
	Index   int
	Total   int
	Sample  domain.Sample
	Request domain.GenerateRequest
}

func (j Job) multi() bool { return j.Total > 1 }

// Outcome is the final state of one sample run.
type Outcome struct {
	Index      int
	Sample     domain.Sample
	TokenStats map[string]any
	Err        error
}

func (o Outcome) Succeeded() bool { return o.Err == nil }

// Reporter receives a copy of the sample after every state change.
type Reporter func(index int, s domain.Sample)

// Option configures a Runner.
type Option func(*Runner)

// WithMode selects streaming or blocking generation.
func WithMode(m Mode) Option {
	return func(r *Runner) { r.mode = m }
}

// WithIDGenerator replaces the correlation id source.
func WithIDGenerator(f func() string) Option {
	return func(r *Runner) { r.newID = f }
}

// Runner executes sample jobs. It holds no per-run state and is safe for
// concurrent use.
type Runner struct {
	gen   domain.Generator
	store domain.TaskStore
	pub   domain.Publisher
	log   logger.Logger
	mode  Mode
	newID func() string
}

func New(gen domain.Generator, store domain.TaskStore, pub domain.Publisher, log logger.Logger, opts ...Option) *Runner {
	r := &Runner{
		gen:   gen,
		store: store,
		pub:   pub,
		log:   log.With("component", "runner"),
		mode:  ModeStream,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run is the mutable state of a single invocation.
type run struct {
	*Runner
	job    Job
	sample domain.Sample
	report Reporter
	window Window
	log    logger.Logger
	// notifications must reach subscribers even after the run is cancelled
	pubCtx context.Context
}

// Run executes job and returns its outcome. It never panics on generation
// failures; every failure is folded into Outcome.Err and the sample is left
// in a terminal state.
func (r *Runner) Run(ctx context.Context, job Job, report Reporter) Outcome {
	if report == nil {
		report = func(int, domain.Sample) {}
	}
	req := job.Request
	req.TaskID = r.newID()

	st := &run{
		Runner: r,
		job:    job,
		sample: job.Sample,
		report: report,
		log:    r.log.With("task_id", job.TaskID, "sample_id", job.Sample.ID, "correlation_id", req.TaskID),
		pubCtx: context.WithoutCancel(ctx),
	}

	st.sample.Status = domain.StatusRunning
	st.emit()
	if job.multi() {
		st.chunk(fmt.Sprintf("🔄 Sample %d started", job.Index+1))
	}
	st.log.Debug("sample started", "mode", r.mode)

	var (
		file  string
		stats map[string]any
		err   error
	)
	if r.mode == ModeSync {
		file, err = st.generateSync(ctx, req)
	} else {
		file, stats, err = st.stream(ctx, req)
	}
	if err == nil && file == "" {
		err = st.noFile()
	}
	if err != nil && ctx.Err() != nil {
		err = domain.ErrTaskCancelled
	}

	if err != nil {
		return st.fail(err)
	}
	return st.succeed(file, stats)
}

func (st *run) stream(ctx context.Context, req domain.GenerateRequest) (string, map[string]any, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		file  string
		stats map[string]any
	)
	for ev := range st.gen.Generate(ctx, req) {
		switch e := ev.(type) {
		case domain.MessageEvent:
			st.message(ctx, e)
		case domain.ProgressEvent:
			st.progress(e)
		case domain.FileEvent:
			file = e.FilePath
			st.log.Info("output file generated", "file_path", file)
		case domain.StatsEvent:
			stats = e.TokenStats
		case domain.ErrorEvent:
			return file, stats, errors.New(e.Message)
		}
	}
	return file, stats, ctx.Err()
}

func (st *run) generateSync(ctx context.Context, req domain.GenerateRequest) (string, error) {
	res, err := st.gen.GenerateSync(ctx, req)
	if err != nil {
		return "", err
	}
	if res.Status != string(domain.StatusCompleted) {
		if res.Error != "" {
			return "", errors.New(res.Error)
		}
		return "", st.noFile()
	}
	st.sample.Progress = domain.ClampProgress(res.Progress)
	return res.FilePath, nil
}

func (st *run) noFile() error {
	if st.job.multi() {
		return fmt.Errorf("Sample %d: %w", st.job.Index+1, domain.ErrNoFileGenerated)
	}
	return domain.ErrNoFileGenerated
}

func (st *run) message(ctx context.Context, e domain.MessageEvent) {
	text := FormatMessage(e)
	if text == "" {
		return
	}
	st.sample.Content = st.window.Add(text)
	st.emit()

	if err := st.store.AppendMessage(ctx, st.job.TaskID, st.sample.ID, text); err != nil {
		st.log.Warn("append message log", "error", err)
	}

	content := text
	if st.job.multi() {
		content = fmt.Sprintf("[Sample %d] %s", st.job.Index+1, text)
	}
	st.pub.Publish(st.pubCtx, st.job.TaskID, domain.ChunkNotification{
		TaskID:    st.job.TaskID,
		SampleID:  st.sample.ID,
		Content:   content,
		Role:      e.Role,
		ToolCalls: e.ToolCalls,
	})
}

func (st *run) progress(e domain.ProgressEvent) {
	st.sample.Progress = domain.ClampProgress(e.Progress)
	st.emit()
	st.pub.Publish(st.pubCtx, st.job.TaskID, domain.ProgressNotification{
		TaskID:          st.job.TaskID,
		SampleID:        st.sample.ID,
		Progress:        st.sample.Progress,
		Phase:           e.Phase,
		SlidesGenerated: e.SlidesGenerated,
		TotalSlides:     e.TotalSlides,
	})
}

func (st *run) succeed(file string, stats map[string]any) Outcome {
	st.sample.Status = domain.StatusCompleted
	st.sample.Progress = 100
	st.sample.FilePath = file
	st.sample.Artifact = &domain.Artifact{
		Type:     domain.ArtifactPPT,
		Content:  "Presentation ready: " + filepath.Base(file),
		Language: FormatOf(file),
	}
	st.emit()
	metrics.SamplesFinished.WithLabelValues("completed").Inc()
	if st.job.multi() {
		st.chunk(fmt.Sprintf("✅ Sample %d completed", st.job.Index+1))
	}
	st.log.Info("sample completed", "file_path", file)
	return Outcome{Index: st.job.Index, Sample: st.sample, TokenStats: stats}
}

func (st *run) fail(err error) Outcome {
	st.sample.Status = domain.StatusFailed
	st.emit()
	metrics.SamplesFinished.WithLabelValues("failed").Inc()
	if st.job.multi() {
		st.chunk(fmt.Sprintf("❌ Sample %d failed: %s", st.job.Index+1, err))
	}
	st.log.Warn("sample failed", "error", err)
	return Outcome{Index: st.job.Index, Sample: st.sample, Err: err}
}

func (st *run) chunk(content string) {
	st.pub.Publish(st.pubCtx, st.job.TaskID, domain.ChunkNotification{
		TaskID:   st.job.TaskID,
		SampleID: st.sample.ID,
		Content:  content,
	})
}

func (st *run) emit() {
	s := st.sample
	s.Artifact = s.Artifact.Clone()
	st.report(st.job.Index, s)
}

// FormatOf returns the artifact language hint for an output path.
func FormatOf(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".pdf") {
		return "pdf"
	}
	return "pptx"
}
