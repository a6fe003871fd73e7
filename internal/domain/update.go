package domain

import "time"

// TaskUpdate is a partial task write. Nil fields are left untouched by Apply.
type TaskUpdate struct {
	Status   *TaskStatus
	Progress *int
	Error    *string
	Artifact *Artifact
	Options  *Options
	Samples  []Sample
}

// Apply merges the set fields into t and stamps UpdatedAt. Applying the same
// update twice at the same instant yields the same task.
func (u TaskUpdate) Apply(t *Task, now time.Time) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Progress != nil {
		t.Progress = *u.Progress
	}
	if u.Error != nil {
		t.Error = *u.Error
	}
	if u.Artifact != nil {
		t.Artifact = u.Artifact.Clone()
	}
	if u.Options != nil {
		t.Options = u.Options.Clone()
	}
	if u.Samples != nil {
		t.Samples = CloneSamples(u.Samples)
	}
	t.UpdatedAt = Timestamp(now)
}

// IsEmpty reports whether the update sets nothing.
func (u TaskUpdate) IsEmpty() bool {
	return u.Status == nil && u.Progress == nil && u.Error == nil &&
		u.Artifact == nil && u.Options == nil && u.Samples == nil
}
