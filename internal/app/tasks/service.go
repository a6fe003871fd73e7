// Package tasks is the application service behind the task API: it admits
// new tasks, hands them to the queue and serves reads, message history and
// deletion.
package tasks

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/logger"
)

const (
	DefaultListLimit   = 50
	DefaultOutputType  = "freeform"
	DefaultMaxSamples  = 4
	defaultSampleCount = 1
)

// Config bounds what a client may request.
type Config struct {
	MaxSampleCount     int
	DefaultSampleCount int
}

func DefaultConfig() Config {
	return Config{MaxSampleCount: DefaultMaxSamples, DefaultSampleCount: defaultSampleCount}
}

// Submitter accepts admitted tasks for background processing.
type Submitter interface {
	Submit(task *domain.Task) error
}

// Canceller stops in-flight processing of a task.
type Canceller interface {
	Cancel(taskID string) bool
}

// CreateRequest is a client's request for a new task.
type CreateRequest struct {
	Prompt         string         `json:"prompt"`
	SampleCount    int            `json:"sample_count"`
	Pages          string         `json:"pages,omitempty"`
	OutputType     string         `json:"output_type,omitempty"`
	UploadedFileID string         `json:"uploaded_file_id,omitempty"`
	Options        domain.Options `json:"options"`
}

// Service is safe for concurrent use.
type Service struct {
	cfg    Config
	store  domain.TaskStore
	queue  Submitter
	cancel Canceller
	log    logger.Logger

	now   func() time.Time
	newID func() string
}

func NewService(cfg Config, store domain.TaskStore, queue Submitter, cancel Canceller, log logger.Logger) *Service {
	if cfg.MaxSampleCount <= 0 {
		cfg.MaxSampleCount = DefaultMaxSamples
	}
	if cfg.DefaultSampleCount <= 0 {
		cfg.DefaultSampleCount = defaultSampleCount
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		queue:  queue,
		cancel: cancel,
		log:    log.With("component", "tasks"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// MaxSampleCount returns the configured per-task sample limit.
func (s *Service) MaxSampleCount() int { return s.cfg.MaxSampleCount }

// Create validates req, stores a new idle task and queues it.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Task, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, domain.ErrInvalidPrompt
	}

	count := req.SampleCount
	if count == 0 {
		count = s.cfg.DefaultSampleCount
	}
	if count < 1 {
		return nil, domain.ErrInvalidSampleCount
	}
	if count > s.cfg.MaxSampleCount {
		return nil, fmt.Errorf("%w: maximum is %d", domain.ErrSampleCountExceeded, s.cfg.MaxSampleCount)
	}

	pages, err := normalizePages(req.Pages)
	if err != nil {
		return nil, err
	}

	task := domain.NewTask(s.newID(), req.Prompt, count, s.now())
	task.Pages = pages
	task.OutputType = req.OutputType
	if task.OutputType == "" {
		task.OutputType = DefaultOutputType
	}
	task.UploadedFileID = req.UploadedFileID
	task.Options = req.Options.Clone()

	if err := s.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("store task: %w", err)
	}
	if err := s.queue.Submit(task.Clone()); err != nil {
		msg := err.Error()
		if uerr := s.store.Update(ctx, task.ID, domain.TaskUpdate{Status: domain.Ptr(domain.StatusFailed), Error: &msg}); uerr != nil {
			s.log.Warn("mark unqueued task failed", "task_id", task.ID, "error", uerr)
		}
		return nil, fmt.Errorf("queue task: %w", err)
	}

	s.log.Info("task created", "task_id", task.ID, "samples", count, "pages", pages)
	return task, nil
}

func normalizePages(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" || strings.EqualFold(p, domain.PagesAuto) {
		return domain.PagesAuto, nil
	}
	n, err := strconv.Atoi(p)
	if err != nil || n < 1 {
		return "", domain.ErrInvalidPages
	}
	return strconv.Itoa(n), nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Task, error) {
	return s.store.Get(ctx, id)
}

// List returns up to limit tasks, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.store.List(ctx, limit)
}

// Delete removes a task and stops it if it is still running. A run stopped
// this way does not bring the record back.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	if s.cancel != nil && s.cancel.Cancel(id) {
		s.log.Info("cancelled running task", "task_id", id)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("task deleted", "task_id", id)
	return nil
}

// Messages returns every sample's message log for a task.
func (s *Service) Messages(ctx context.Context, id string) (map[string][]string, error) {
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	all, err := s.store.AllMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, sm := range task.Samples {
		if _, ok := all[sm.ID]; !ok {
			all[sm.ID] = []string{}
		}
	}
	return all, nil
}

// SampleMessages returns one sample's message log.
func (s *Service) SampleMessages(ctx context.Context, id, sampleID string) ([]string, error) {
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := task.SampleByID(sampleID); err != nil {
		return nil, err
	}
	return s.store.Messages(ctx, id, sampleID)
}
