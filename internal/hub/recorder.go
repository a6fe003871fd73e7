package hub

import (
	"context"
	"sync"

	"github.com/slideforge/slideforge/internal/domain"
)

// Recorder is a Publisher that keeps every notification in publish order.
// The CLI uses it for offline runs; tests use it to observe the pipeline.
type Recorder struct {
	mu   sync.Mutex
	sent []domain.Notification
	// OnPublish, if set, is called after a notification is recorded.
	OnPublish func(n domain.Notification)
}

var _ domain.Publisher = (*Recorder)(nil)

func (r *Recorder) Publish(_ context.Context, _ string, n domain.Notification) {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	fn := r.OnPublish
	r.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (r *Recorder) Broadcast(ctx context.Context, n domain.Notification) {
	r.Publish(ctx, "", n)
}

// All returns a copy of every recorded notification.
func (r *Recorder) All() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.sent...)
}

// OfType returns the recorded notifications of type t.
func (r *Recorder) OfType(t domain.NotificationType) []domain.Notification {
	var out []domain.Notification
	for _, n := range r.All() {
		if n.Type() == t {
			out = append(out, n)
		}
	}
	return out
}

// Last returns the most recent notification, or nil.
func (r *Recorder) Last() domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}
