package domain

import "context"

// ─── Boundary Interfaces ────────────────────────────────────────────────────
// Implemented by infra packages, consumed by app packages.

// TaskStore is the durable task record with bounded retention. Reads of a
// missing or expired task return ErrTaskNotFound.
type TaskStore interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Update(ctx context.Context, id string, u TaskUpdate) error
	// List returns at most limit tasks, newest first.
	List(ctx context.Context, limit int) ([]*Task, error)
	Delete(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, taskID, sampleID, message string) error
	Messages(ctx context.Context, taskID, sampleID string) ([]string, error)
	// AllMessages maps sample id to that sample's message log.
	AllMessages(ctx context.Context, taskID string) (map[string][]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Publisher fans notifications out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, taskID string, n Notification)
	Broadcast(ctx context.Context, n Notification)
}

// GenerateRequest is the body sent to the generation service.
type GenerateRequest struct {
	TaskID         string   `json:"task_id"`
	Prompt         string   `json:"prompt"`
	Attachments    []string `json:"attachments"`
	NumPages       *int     `json:"num_pages"`
	Template       string   `json:"template,omitempty"`
	ConvertType    string   `json:"convert_type"`
	PowerpointType string   `json:"powerpoint_type"`
}

// SyncResult is the response of a blocking generation call.
type SyncResult struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	FilePath string `json:"file_path,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Generator is the client side of the generation service.
type Generator interface {
	Health(ctx context.Context) error
	// Generate streams normalized events. Transport failures arrive as a
	// single ErrorEvent, after which the channel is closed.
	Generate(ctx context.Context, req GenerateRequest) <-chan Event
	GenerateSync(ctx context.Context, req GenerateRequest) (*SyncResult, error)
	Upload(ctx context.Context, path string) (string, error)
	Templates(ctx context.Context) ([]string, error)
}
