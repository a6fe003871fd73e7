package domain

import (
	"encoding/json"
	"fmt"
)

// ─── Live Notifications ─────────────────────────────────────────────────────
// UI-facing projection of task lifecycle and normalized events, delivered
// to live subscribers of a task.

type NotificationType string

const (
	NotifyStatus       NotificationType = "status"
	NotifyChunk        NotificationType = "chunk"
	NotifyComplete     NotificationType = "complete"
	NotifyError        NotificationType = "error"
	NotifyProgress     NotificationType = "progress"
	NotifySubscribed   NotificationType = "subscribed"
	NotifyUnsubscribed NotificationType = "unsubscribed"
)

// Notification is the closed union of server-to-client messages.
type Notification interface {
	Type() NotificationType
	Task() string
	isNotification()
}

type StatusNotification struct {
	TaskID   string
	Status   TaskStatus
	Progress int
}

type ChunkNotification struct {
	TaskID    string
	SampleID  string
	Content   string
	Role      string
	ToolCalls []ToolCall
}

// CompleteNotification is the terminal success notice for a task.
type CompleteNotification struct {
	TaskID   string
	Content  string
	Progress int
	Artifact *Artifact
}

// ErrorNotification is the terminal failure notice for a task. It is also
// used, with an empty TaskID, to reject malformed client input.
type ErrorNotification struct {
	TaskID   string
	SampleID string
	Error    string
}

type ProgressNotification struct {
	TaskID          string
	SampleID        string
	Progress        int
	Phase           string
	SlidesGenerated int
	TotalSlides     int
}

type SubscribedNotification struct{ TaskID string }

type UnsubscribedNotification struct{ TaskID string }

func (StatusNotification) Type() NotificationType       { return NotifyStatus }
func (ChunkNotification) Type() NotificationType        { return NotifyChunk }
func (CompleteNotification) Type() NotificationType     { return NotifyComplete }
func (ErrorNotification) Type() NotificationType        { return NotifyError }
func (ProgressNotification) Type() NotificationType     { return NotifyProgress }
func (SubscribedNotification) Type() NotificationType   { return NotifySubscribed }
func (UnsubscribedNotification) Type() NotificationType { return NotifyUnsubscribed }

func (n StatusNotification) Task() string       { return n.TaskID }
func (n ChunkNotification) Task() string        { return n.TaskID }
func (n CompleteNotification) Task() string     { return n.TaskID }
func (n ErrorNotification) Task() string        { return n.TaskID }
func (n ProgressNotification) Task() string     { return n.TaskID }
func (n SubscribedNotification) Task() string   { return n.TaskID }
func (n UnsubscribedNotification) Task() string { return n.TaskID }

func (StatusNotification) isNotification()       {}
func (ChunkNotification) isNotification()        {}
func (CompleteNotification) isNotification()     {}
func (ErrorNotification) isNotification()        {}
func (ProgressNotification) isNotification()     {}
func (SubscribedNotification) isNotification()   {}
func (UnsubscribedNotification) isNotification() {}

// IsTerminal reports whether n ends the notification stream of its task.
func IsTerminal(n Notification) bool {
	switch n.(type) {
	case CompleteNotification, ErrorNotification:
		return true
	}
	return false
}

// ─── Wire Form ──────────────────────────────────────────────────────────────

type wireNotification struct {
	Type            NotificationType `json:"type"`
	TaskID          string           `json:"task_id,omitempty"`
	SampleID        string           `json:"sample_id,omitempty"`
	Content         string           `json:"content,omitempty"`
	Status          TaskStatus       `json:"status,omitempty"`
	Progress        *int             `json:"progress,omitempty"`
	Error           string           `json:"error,omitempty"`
	Artifact        *Artifact        `json:"artifact,omitempty"`
	Role            string           `json:"role,omitempty"`
	ToolCalls       []ToolCall       `json:"tool_calls,omitempty"`
	Phase           string           `json:"phase,omitempty"`
	SlidesGenerated int              `json:"slides_generated,omitempty"`
	TotalSlides     int              `json:"total_slides,omitempty"`
}

// EncodeNotification renders n as the JSON text frame sent to clients.
func EncodeNotification(n Notification) ([]byte, error) {
	w := wireNotification{Type: n.Type(), TaskID: n.Task()}
	switch v := n.(type) {
	case StatusNotification:
		w.Status = v.Status
		w.Progress = Ptr(v.Progress)
	case ChunkNotification:
		w.SampleID = v.SampleID
		w.Content = v.Content
		w.Role = v.Role
		w.ToolCalls = v.ToolCalls
	case CompleteNotification:
		w.Status = StatusCompleted
		w.Content = v.Content
		w.Progress = Ptr(v.Progress)
		w.Artifact = v.Artifact
	case ErrorNotification:
		w.SampleID = v.SampleID
		w.Error = v.Error
		if v.TaskID != "" {
			w.Status = StatusFailed
		}
	case ProgressNotification:
		w.SampleID = v.SampleID
		w.Progress = Ptr(v.Progress)
		w.Phase = v.Phase
		w.SlidesGenerated = v.SlidesGenerated
		w.TotalSlides = v.TotalSlides
	case SubscribedNotification, UnsubscribedNotification:
	default:
		return nil, fmt.Errorf("encode notification: unknown type %T", n)
	}
	return json.Marshal(w)
}

// DecodeNotification parses a frame produced by EncodeNotification.
func DecodeNotification(data []byte) (Notification, error) {
	var w wireNotification
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	progress := 0
	if w.Progress != nil {
		progress = *w.Progress
	}
	switch w.Type {
	case NotifyStatus:
		return StatusNotification{TaskID: w.TaskID, Status: w.Status, Progress: progress}, nil
	case NotifyChunk:
		return ChunkNotification{TaskID: w.TaskID, SampleID: w.SampleID, Content: w.Content, Role: w.Role, ToolCalls: w.ToolCalls}, nil
	case NotifyComplete:
		return CompleteNotification{TaskID: w.TaskID, Content: w.Content, Progress: progress, Artifact: w.Artifact}, nil
	case NotifyError:
		return ErrorNotification{TaskID: w.TaskID, SampleID: w.SampleID, Error: w.Error}, nil
	case NotifyProgress:
		return ProgressNotification{
			TaskID: w.TaskID, SampleID: w.SampleID, Progress: progress,
			Phase: w.Phase, SlidesGenerated: w.SlidesGenerated, TotalSlides: w.TotalSlides,
		}, nil
	case NotifySubscribed:
		return SubscribedNotification{TaskID: w.TaskID}, nil
	case NotifyUnsubscribed:
		return UnsubscribedNotification{TaskID: w.TaskID}, nil
	}
	return nil, fmt.Errorf("decode notification: unknown type %q", w.Type)
}
