package genclient

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/infra/metrics"
)

// ─── Mock Generator (for testing without a generation service) ──────────────

// MockGenerator implements domain.Generator from scripted events.
type MockGenerator struct {
	// Script returns the events for the n-th Generate call (0-based).
	Script func(call int, req domain.GenerateRequest) []domain.Event
	// Sync answers GenerateSync; nil reports a completed run writing out.pptx.
	Sync func(req domain.GenerateRequest) (*domain.SyncResult, error)
	// Delay is slept before each scripted event.
	Delay time.Duration
	// Hold keeps the stream open after the script until ctx is done.
	Hold bool

	mu          sync.Mutex
	unhealthy   bool
	uploadErr   error
	templates   []string
	requests    []domain.GenerateRequest
	uploads     []string
	healthCalls int
}

var _ domain.Generator = (*MockGenerator)(nil)

func NewMockGenerator(script func(call int, req domain.GenerateRequest) []domain.Event) *MockGenerator {
	return &MockGenerator{Script: script, templates: []string{"default"}}
}

// SetHealthy toggles the health probe result.
func (m *MockGenerator) SetHealthy(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unhealthy = !ok
}

// FailUploads makes every Upload return err.
func (m *MockGenerator) FailUploads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadErr = err
}

func (m *MockGenerator) SetTemplates(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates = names
}

// Requests returns every generation request seen so far.
func (m *MockGenerator) Requests() []domain.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.GenerateRequest(nil), m.requests...)
}

// Uploads returns the local paths passed to Upload.
func (m *MockGenerator) Uploads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.uploads...)
}

func (m *MockGenerator) HealthCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthCalls
}

func (m *MockGenerator) Health(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthCalls++
	if m.unhealthy {
		return domain.ErrGenerationUnavailable
	}
	return nil
}

func (m *MockGenerator) Generate(ctx context.Context, req domain.GenerateRequest) <-chan domain.Event {
	m.mu.Lock()
	call := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	var events []domain.Event
	if m.Script != nil {
		events = m.Script(call, req)
	}

	ch := make(chan domain.Event, 1)
	go func() {
		defer close(ch)
		for _, ev := range events {
			metrics.StreamEvents.WithLabelValues(string(ev.Kind())).Inc()
			if m.Delay > 0 {
				select {
				case <-time.After(m.Delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if m.Hold {
			<-ctx.Done()
		}
	}()
	return ch
}

func (m *MockGenerator) GenerateSync(ctx context.Context, req domain.GenerateRequest) (*domain.SyncResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Sync != nil {
		return m.Sync(req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &domain.SyncResult{
		TaskID:   req.TaskID,
		Status:   string(domain.StatusCompleted),
		Progress: 100,
		FilePath: "/opt/workspace/" + req.TaskID + "/out.pptx",
	}, nil
}

func (m *MockGenerator) Upload(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, path)
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	if path == "" {
		return "", errors.New("empty upload path")
	}
	return "/opt/workspace/uploads/" + filepath.Base(path), nil
}

func (m *MockGenerator) Templates(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unhealthy {
		return nil, domain.ErrGenerationUnavailable
	}
	return append([]string(nil), m.templates...), nil
}

// Transcript is a minimal successful stream ending in file.
func Transcript(file string) []domain.Event {
	return []domain.Event{
		domain.MessageEvent{Role: "assistant", Content: "Researching the topic"},
		domain.ProgressEvent{Progress: 20, Phase: "research"},
		domain.MessageEvent{Role: "assistant", ToolCalls: []domain.ToolCall{{Name: "generate_slide", Arguments: `{"index":1}`}}},
		domain.ProgressEvent{Progress: 90, Phase: "convert", SlidesGenerated: 1, TotalSlides: 1},
		domain.FileEvent{FilePath: file},
		domain.StatsEvent{TokenStats: map[string]any{"total": float64(42)}},
	}
}
