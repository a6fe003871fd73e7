package genservice

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/slideforge/slideforge/internal/domain"
)

// Phases of a generation run, in order.
const (
	PhaseResearch = "research"
	PhaseDesign   = "design"
	PhaseConvert  = "convert"
)

const (
	researchBudget   = 20
	designBudget     = 70
	designCeiling    = 90
	defaultSlideGoal = 10
)

var (
	numPagesRe = regexp.MustCompile(`['"]?num_pages['"]?\s*[:=]\s*(\d+)`)
	slideRe    = regexp.MustCompile(`slide_(\d+)\.html`)
)

// Tracker turns agent activity into phase-weighted progress: research is
// worth 20%, slide design 70% and conversion the rest.
type Tracker struct {
	phase     string
	generated int
	total     int
	progress  int
}

func NewTracker() *Tracker {
	return &Tracker{phase: PhaseResearch, total: defaultSlideGoal}
}

func (t *Tracker) Phase() string        { return t.phase }
func (t *Tracker) Progress() int        { return t.progress }
func (t *Tracker) TotalSlides() int     { return t.total }
func (t *Tracker) SlidesGenerated() int { return t.generated }

// ToolCall records a tool invocation by name.
func (t *Tracker) ToolCall(name string) (domain.ProgressEvent, bool) {
	switch name {
	case "generate_slide":
		t.generated++
		t.phase = PhaseDesign
		return t.set(t.designProgress()), true
	case "save_generated_slides":
		t.phase = PhaseConvert
		return t.set(designCeiling), true
	case "finalize":
		if t.phase != PhaseResearch {
			return domain.ProgressEvent{}, false
		}
		t.phase = PhaseDesign
		return t.set(researchBudget), true
	}
	return domain.ProgressEvent{}, false
}

// ToolResult inspects the text a tool returned. A reported page count
// revises the slide goal; written slide files advance design progress.
func (t *Tracker) ToolResult(text string) (domain.ProgressEvent, bool) {
	if strings.Contains(text, "num_pages") {
		if n, ok := parseNumPages(text); ok && n > 0 {
			t.total = n
		}
	}

	if !strings.Contains(text, "slide_") || !strings.Contains(text, ".html") {
		return domain.ProgressEvent{}, false
	}
	highest := 0
	for _, m := range slideRe.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	if highest <= t.generated {
		return domain.ProgressEvent{}, false
	}
	t.generated = highest
	t.phase = PhaseDesign
	return t.set(t.designProgress()), true
}

// Complete marks the run finished.
func (t *Tracker) Complete() domain.ProgressEvent {
	return t.set(100)
}

func (t *Tracker) designProgress() int {
	return min(researchBudget+designBudget*t.generated/t.total, designCeiling)
}

func (t *Tracker) set(p int) domain.ProgressEvent {
	t.progress = domain.ClampProgress(p)
	return domain.ProgressEvent{
		Progress:        t.progress,
		SlidesGenerated: t.generated,
		TotalSlides:     t.total,
		Phase:           t.phase,
	}
}

// parseNumPages reads num_pages from a JSON or Python-literal dict, falling
// back to a pattern match anywhere in the text.
func parseNumPages(text string) (int, bool) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "{") {
		for _, candidate := range []string{s, pythonToJSON(s)} {
			var m map[string]any
			if json.Unmarshal([]byte(candidate), &m) != nil {
				continue
			}
			switch v := m["num_pages"].(type) {
			case float64:
				return int(v), true
			case string:
				if n, err := strconv.Atoi(v); err == nil {
					return n, true
				}
			}
		}
	}
	if m := numPagesRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		return n, err == nil
	}
	return 0, false
}

var pyLiterals = strings.NewReplacer("'", `"`, "True", "true", "False", "false", "None", "null")

func pythonToJSON(s string) string {
	return pyLiterals.Replace(s)
}
