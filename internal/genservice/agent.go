package genservice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slideforge/slideforge/internal/domain"
)

// Step is one message produced by an agent while it works.
type Step struct {
	Role      string
	Content   string
	ToolCalls []domain.ToolCall
}

// Result is what a finished agent run produced.
type Result struct {
	FilePath   string
	TokenStats map[string]any
}

// Agent produces a presentation for a request, reporting each step through
// emit. A non-nil error from emit aborts the run.
type Agent interface {
	Run(ctx context.Context, req domain.GenerateRequest, emit func(Step) error) (Result, error)
	Templates() []string
}

// ScriptedAgent replays a fixed research, outline, design and convert
// transcript and writes a placeholder output file. It stands in for the
// real agent pipeline in development and end-to-end tests.
type ScriptedAgent struct {
	Workspace string
	// Pages is used when the request leaves the page count open.
	Pages int
	// StepDelay is slept between steps.
	StepDelay time.Duration
	// TemplateNames is returned by Templates.
	TemplateNames []string
}

var _ Agent = (*ScriptedAgent)(nil)

func NewScriptedAgent(workspace string) *ScriptedAgent {
	return &ScriptedAgent{
		Workspace:     workspace,
		Pages:         5,
		TemplateNames: []string{"default", "academic", "business"},
	}
}

func (a *ScriptedAgent) Templates() []string {
	return append([]string(nil), a.TemplateNames...)
}

func (a *ScriptedAgent) Run(ctx context.Context, req domain.GenerateRequest, emit func(Step) error) (Result, error) {
	pages := a.Pages
	if req.NumPages != nil && *req.NumPages > 0 {
		pages = *req.NumPages
	}
	if pages <= 0 {
		pages = 1
	}

	steps := []Step{
		{Role: "system", Content: "Preparing a presentation"},
		{Role: "user", Content: req.Prompt},
		{Role: "assistant", Content: "Researching the topic and drafting a manuscript."},
		{Role: "assistant", ToolCalls: []domain.ToolCall{{Name: "finalize", Arguments: `{"outcome":"manuscript.md"}`}}},
		{Role: "assistant", ToolCalls: []domain.ToolCall{{Name: "inspect_manuscript", Arguments: `{"path":"manuscript.md"}`}}},
		{Role: "tool", Content: fmt.Sprintf("{'num_pages': %d, 'title': %q}", pages, title(req.Prompt))},
	}
	templates := req.ConvertType == "templates"
	for i := 1; i <= pages; i++ {
		if templates {
			args, _ := json.Marshal(map[string]any{"slide_index": i, "layout": "content"})
			steps = append(steps, Step{Role: "assistant", ToolCalls: []domain.ToolCall{{Name: "generate_slide", Arguments: string(args)}}})
			continue
		}
		steps = append(steps,
			Step{Role: "assistant", ToolCalls: []domain.ToolCall{{Name: "write_file", Arguments: fmt.Sprintf(`{"path":"slide_%d.html"}`, i)}}},
			Step{Role: "tool", Content: fmt.Sprintf("Wrote slides/slide_%d.html", i)},
		)
	}
	steps = append(steps, Step{Role: "assistant", ToolCalls: []domain.ToolCall{{Name: "save_generated_slides", Arguments: "{}"}}})

	for _, s := range steps {
		if a.StepDelay > 0 {
			select {
			case <-time.After(a.StepDelay):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}
		if err := emit(s); err != nil {
			return Result{}, err
		}
	}

	path, err := a.writeOutput(req)
	if err != nil {
		return Result{}, err
	}
	words := len(strings.Fields(req.Prompt))
	return Result{
		FilePath: path,
		TokenStats: map[string]any{
			"research_agent": map[string]any{"prompt": words * 40, "completion": 800, "total": words*40 + 800, "model": "scripted"},
			"design_agent":   map[string]any{"prompt": pages * 600, "completion": pages * 900, "total": pages * 1500, "model": "scripted"},
		},
	}, nil
}

func (a *ScriptedAgent) writeOutput(req domain.GenerateRequest) (string, error) {
	id := req.TaskID
	if len(id) > 8 {
		id = id[:8]
	}
	dir := filepath.Join(a.Workspace, time.Now().Format("20060102"), id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	ext := ".pptx"
	if req.ConvertType != "templates" && req.PowerpointType == "A1" {
		ext = ".pdf"
	}
	path := filepath.Join(dir, "presentation"+ext)
	body := fmt.Sprintf("placeholder presentation\nprompt: %s\n", req.Prompt)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return path, nil
}

func title(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if r := []rune(prompt); len(r) > 60 {
		return string(r[:60])
	}
	return prompt
}
