package domain

// ─── Normalized Events ──────────────────────────────────────────────────────
// The closed set of events the generation service stream is reduced to.
// Consumers switch on the concrete type; the unexported marker keeps the set
// closed to this package.

type EventKind string

const (
	EventMessage  EventKind = "message"
	EventProgress EventKind = "progress"
	EventFile     EventKind = "file"
	EventStats    EventKind = "stats"
	EventError    EventKind = "error"
)

// Event is one normalized unit of generation progress.
type Event interface {
	Kind() EventKind
	isEvent()
}

// ToolCall is a tool invocation reported by the agent.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

type MessageEvent struct {
	Role      string
	Content   string
	ToolCalls []ToolCall
}

type ProgressEvent struct {
	Progress        int
	SlidesGenerated int
	TotalSlides     int
	Phase           string
}

// FileEvent is emitted once the generation service has produced its output.
type FileEvent struct {
	FilePath string
}

type StatsEvent struct {
	TokenStats map[string]any
}

type ErrorEvent struct {
	Message string
}

func (MessageEvent) Kind() EventKind  { return EventMessage }
func (ProgressEvent) Kind() EventKind { return EventProgress }
func (FileEvent) Kind() EventKind     { return EventFile }
func (StatsEvent) Kind() EventKind    { return EventStats }
func (ErrorEvent) Kind() EventKind    { return EventError }

func (MessageEvent) isEvent()  {}
func (ProgressEvent) isEvent() {}
func (FileEvent) isEvent()     {}
func (StatsEvent) isEvent()    {}
func (ErrorEvent) isEvent()    {}
