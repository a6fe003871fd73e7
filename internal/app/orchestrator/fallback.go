package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/slideforge/slideforge/internal/domain"
)

const fallbackOutline = `# %s

## Presentation Outline

### Part 1: Introduction
- Background
- Goals

### Part 2: Main Content
- Key point 1
- Key point 2
- Key point 3

### Part 3: Summary
- Key takeaways
- Next steps

---

*Note: the generation service is currently unavailable; this outline was generated automatically.*
*Make sure the generation service is running.*
`

// FallbackContent is the Markdown outline produced when the generation
// service cannot be reached.
func FallbackContent(prompt string) string {
	return fmt.Sprintf(fallbackOutline, prompt)
}

// fallback simulates progress and completes the task with a Markdown
// outline. No generation request is made.
func (o *Orchestrator) fallback(ctx context.Context, task *domain.Task) error {
	sampleID := ""
	if len(task.Samples) > 0 {
		sampleID = task.Samples[0].ID
	}

	for p := 0; p <= 100; p += 20 {
		if o.cfg.FallbackStep > 0 {
			select {
			case <-time.After(o.cfg.FallbackStep):
			case <-ctx.Done():
				return domain.ErrTaskCancelled
			}
		}
		o.pub.Publish(ctx, task.ID, domain.ProgressNotification{TaskID: task.ID, SampleID: sampleID, Progress: p})
	}

	content := FallbackContent(task.Prompt)
	artifact := &domain.Artifact{Type: domain.ArtifactMarkdown, Content: content}

	samples := domain.CloneSamples(task.Samples)
	for i := range samples {
		samples[i].Status = domain.StatusCompleted
		samples[i].Progress = 100
		samples[i].Content = content
	}

	ctx = context.WithoutCancel(ctx)
	o.finish(ctx, task.ID, domain.TaskUpdate{
		Status:   domain.Ptr(domain.StatusCompleted),
		Progress: domain.Ptr(100),
		Artifact: artifact,
		Samples:  samples,
	}, "fallback")
	o.pub.Publish(ctx, task.ID, domain.CompleteNotification{
		TaskID:   task.ID,
		Progress: 100,
		Artifact: artifact.Clone(),
	})
	return nil
}
