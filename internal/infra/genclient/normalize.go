package genclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/infra/metrics"
	"github.com/slideforge/slideforge/internal/logger"
)

// payload is the union of every data shape the generation service sends.
type payload struct {
	Type            string            `json:"type"`
	Role            string            `json:"role"`
	Content         string            `json:"content"`
	ToolCalls       []domain.ToolCall `json:"tool_calls"`
	Progress        float64           `json:"progress"`
	SlidesGenerated int               `json:"slides_generated"`
	TotalSlides     int               `json:"total_slides"`
	Phase           string            `json:"phase"`
	FilePath        string            `json:"file_path"`
	TokenStats      map[string]any    `json:"token_stats"`
	Error           string            `json:"error"`
	Message         string            `json:"message"`
}

// ParseBlock converts one SSE block into a normalized event. The event line
// selects the tag, with the payload's "type" field as a fallback. A block
// with no data yields no event. A data payload that is not a JSON object
// degrades to a plain message carrying the raw text when the block is
// untagged or tagged message, and is dropped otherwise.
func ParseBlock(block string) (domain.Event, bool) {
	var name string
	var data []string
	for _, line := range strings.Split(block, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(line[len("data:"):], " "))
		}
	}
	raw := strings.TrimSpace(strings.Join(data, "\n"))
	if raw == "" {
		return nil, false
	}

	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		if name == "" || name == "message" {
			return domain.MessageEvent{Role: "assistant", Content: raw}, true
		}
		return nil, false
	}
	if name == "" {
		name = p.Type
	}

	switch name {
	case "message":
		role := p.Role
		if role == "" {
			role = "assistant"
		}
		return domain.MessageEvent{Role: role, Content: p.Content, ToolCalls: p.ToolCalls}, true
	case "progress":
		return domain.ProgressEvent{
			Progress:        domain.ClampProgress(int(math.Round(p.Progress))),
			SlidesGenerated: p.SlidesGenerated,
			TotalSlides:     p.TotalSlides,
			Phase:           p.Phase,
		}, true
	case "complete", "file":
		return domain.FileEvent{FilePath: p.FilePath}, true
	case "stats":
		return domain.StatsEvent{TokenStats: p.TokenStats}, true
	case "error":
		msg := p.Error
		if msg == "" {
			msg = p.Content
		}
		if msg == "" {
			msg = p.Message
		}
		if msg == "" {
			msg = "unknown error"
		}
		return domain.ErrorEvent{Message: msg}, true
	}
	return nil, false
}

// Normalize decodes an SSE stream from r and sends every normalized event
// to out. Malformed blocks are dropped and counted. It returns nil when the
// stream ends cleanly, ctx.Err() if ctx is cancelled, and the read error
// otherwise.
func Normalize(ctx context.Context, r io.Reader, out chan<- domain.Event, log logger.Logger) error {
	dec := NewDecoder(r)
	for {
		block, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		ev, ok := ParseBlock(block)
		if !ok {
			metrics.StreamMalformed.Inc()
			log.Debug("dropping unparseable SSE block", "block", truncate(block, 200))
			continue
		}
		metrics.StreamEvents.WithLabelValues(string(ev.Kind())).Inc()
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
