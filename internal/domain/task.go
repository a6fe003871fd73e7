package domain

import (
	"fmt"
	"time"
)

// ─── Task Status ────────────────────────────────────────────────────────────

// TaskStatus is shared by tasks and samples. A sample tracks its own status
// independently of its siblings.
type TaskStatus string

const (
	StatusIdle       TaskStatus = "idle"
	StatusRunning    TaskStatus = "running"
	StatusCollecting TaskStatus = "collecting" // wire vocabulary only, never entered
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// IsTerminal returns true if the status is a final state.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is part of the status vocabulary.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusCollecting, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ─── Artifact ───────────────────────────────────────────────────────────────

type ArtifactType string

const (
	ArtifactHTML     ArtifactType = "html"
	ArtifactCode     ArtifactType = "code"
	ArtifactMarkdown ArtifactType = "markdown"
	ArtifactPPT      ArtifactType = "ppt"
)

// Artifact is the typed output of a sample. For ppt artifacts Content holds
// the produced file path and Language the file format ("pptx" or "pdf").
type Artifact struct {
	Type     ArtifactType `json:"type"`
	Content  string       `json:"content"`
	Language string       `json:"language,omitempty"`
}

// ─── Task & Sample ──────────────────────────────────────────────────────────

// Sample is one independent generation run belonging to a Task.
type Sample struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Status    TaskStatus `json:"status"`
	Progress  int        `json:"progress"`
	FilePath  string     `json:"file_path,omitempty"`
	Artifact  *Artifact  `json:"artifact,omitempty"`
	CreatedAt float64    `json:"created_at"`
}

// Task is one user-submitted generation request. The length of Samples is
// fixed at creation.
type Task struct {
	ID             string     `json:"id"`
	Prompt         string     `json:"prompt"`
	Status         TaskStatus `json:"status"`
	Samples        []Sample   `json:"samples"`
	Progress       int        `json:"progress"`
	CreatedAt      float64    `json:"created_at"`
	UpdatedAt      float64    `json:"updated_at"`
	Error          string     `json:"error,omitempty"`
	Artifact       *Artifact  `json:"artifact,omitempty"`
	Options        Options    `json:"options"`
	Pages          string     `json:"pages,omitempty"`
	OutputType     string     `json:"output_type,omitempty"`
	UploadedFileID string     `json:"uploaded_file_id,omitempty"`
}

// PagesAuto lets the generation service pick the page count.
const PagesAuto = "auto"

// SampleID returns the stable identity of the i-th sample of a task.
func SampleID(taskID string, i int) string {
	return fmt.Sprintf("%s-sample-%d", taskID, i)
}

// Timestamp converts t to fractional unix seconds, the persisted time format.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// ClampProgress bounds a percentage to [0, 100].
func ClampProgress(v int) int {
	return min(max(v, 0), 100)
}

// NewTask builds an idle task with sampleCount idle samples.
func NewTask(id, prompt string, sampleCount int, now time.Time) *Task {
	ts := Timestamp(now)
	samples := make([]Sample, sampleCount)
	for i := range samples {
		samples[i] = Sample{
			ID:        SampleID(id, i),
			Status:    StatusIdle,
			CreatedAt: ts,
		}
	}
	return &Task{
		ID:        id,
		Prompt:    prompt,
		Status:    StatusIdle,
		Samples:   samples,
		CreatedAt: ts,
		UpdatedAt: ts,
		Pages:     PagesAuto,
	}
}

// IsMultiSample reports whether the task fans out to more than one sample.
func (t *Task) IsMultiSample() bool {
	return len(t.Samples) > 1
}

// Clone returns a deep copy that shares no mutable state with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Samples = CloneSamples(t.Samples)
	c.Artifact = t.Artifact.Clone()
	c.Options = t.Options.Clone()
	return &c
}

// Clone returns a copy of the artifact, or nil.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// CloneSamples deep-copies a sample slice.
func CloneSamples(in []Sample) []Sample {
	if in == nil {
		return nil
	}
	out := make([]Sample, len(in))
	for i, s := range in {
		out[i] = s
		out[i].Artifact = s.Artifact.Clone()
	}
	return out
}

// SampleByID returns the index of the sample with the given id.
func (t *Task) SampleByID(id string) (int, error) {
	for i := range t.Samples {
		if t.Samples[i].ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrSampleNotFound, id)
}
