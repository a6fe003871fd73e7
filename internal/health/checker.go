// Package health runs periodic checks over the backend's dependencies and
// attempts simple recoveries when one fails.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/slideforge/slideforge/internal/infra/metrics"
	"github.com/slideforge/slideforge/internal/logger"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Report is the aggregate served on the status endpoint.
type Report struct {
	Healthy bool     `json:"healthy"`
	Checks  []Status `json:"checks"`
}

// Pinger is satisfied by every task store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober is satisfied by the generation client.
type Prober interface {
	Health(ctx context.Context) error
}

// Purger is implemented by stores that expire records lazily.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	log      logger.Logger
}

// NewChecker creates a checker for the task store, the generation service
// and the workspace directory. Stores that implement Purger also get a
// retention sweep on every round.
func NewChecker(store Pinger, gen Prober, workspace string, interval time.Duration, log logger.Logger) *Checker {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	log = log.With("component", "health")
	c := &Checker{interval: interval, log: log}

	c.checks = append(c.checks,
		Check{
			Name:    "store",
			CheckFn: store.Ping,
		},
		Check{
			Name:    "generation",
			CheckFn: gen.Health,
		},
		Check{
			Name: "workspace",
			CheckFn: func(ctx context.Context) error {
				return checkWorkspace(workspace)
			},
			RecoverFn: func(ctx context.Context) error {
				return os.MkdirAll(workspace, 0o755)
			},
		},
	)

	if p, ok := store.(Purger); ok {
		c.checks = append(c.checks, Check{
			Name: "retention",
			CheckFn: func(ctx context.Context) error {
				n, err := p.PurgeExpired(ctx)
				if err != nil {
					return err
				}
				if n > 0 {
					log.Info("purged expired tasks", "count", n)
				}
				return nil
			},
		})
	}
	return c
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce executes every check and stores the results.
func (c *Checker) RunOnce(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			if c.log != nil {
				c.log.Warn("health check failed", "check", check.Name, "error", err)
			}
			if check.RecoverFn != nil {
				metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
				_ = check.RecoverFn(ctx)
			}
		} else {
			s.Healthy = true
		}
		gauge := 0.0
		if s.Healthy {
			gauge = 1
		}
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(gauge)
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// Report returns the latest results with their aggregate.
func (c *Checker) Report() Report {
	return Report{Healthy: c.IsHealthy(), Checks: c.Statuses()}
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkWorkspace(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check workspace: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace %s is not a directory", dir)
	}
	return nil
}
