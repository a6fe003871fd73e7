package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/slideforge/slideforge/internal/domain"
)

// ─── Progress Bar ───────────────────────────────────────────────────────────
// Renders task notifications as a single live line:
//   [===========>..................]  42% | design 4/10 slides | ETA 35s

const barWidth = 30

type progressBar struct {
	out     io.Writer
	started time.Time
	now     func() time.Time
	verbose bool

	pct    int
	phase  string
	slides string
}

func newProgressBar(out io.Writer, verbose bool) *progressBar {
	return &progressBar{out: out, started: time.Now(), now: time.Now, verbose: verbose}
}

// handle renders one notification.
func (p *progressBar) handle(n domain.Notification) {
	switch v := n.(type) {
	case domain.StatusNotification:
		p.pct = max(p.pct, v.Progress)
		p.phase = string(v.Status)
		p.render()
	case domain.ProgressNotification:
		p.pct = max(p.pct, v.Progress)
		if v.Phase != "" {
			p.phase = v.Phase
		}
		if v.TotalSlides > 0 {
			p.slides = fmt.Sprintf("%d/%d slides", v.SlidesGenerated, v.TotalSlides)
		}
		p.render()
	case domain.ChunkNotification:
		if p.verbose && v.Content != "" {
			clearLine(p.out)
			fmt.Fprintf(p.out, "  [%s] %s\n", v.Role, firstLine(v.Content))
			p.render()
		}
	case domain.CompleteNotification:
		p.pct = 100
		p.phase = "done"
		p.render()
		fmt.Fprintln(p.out)
		if v.Artifact != nil {
			fmt.Fprintf(p.out, "[done] %s artifact ready\n", v.Artifact.Type)
		} else {
			fmt.Fprintln(p.out, "[done]")
		}
	case domain.ErrorNotification:
		clearLine(p.out)
		fmt.Fprintf(p.out, "[failed] %s\n", v.Error)
	}
}

func (p *progressBar) render() {
	pct := domain.ClampProgress(p.pct)

	filled := pct * barWidth / 100
	var bar string
	switch {
	case filled == barWidth:
		bar = strings.Repeat("=", filled)
	case filled > 0:
		bar = strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", barWidth-filled)
	default:
		bar = strings.Repeat(".", barWidth)
	}

	label := p.phase
	if p.slides != "" {
		label += " " + p.slides
	}
	clearLine(p.out)
	fmt.Fprintf(p.out, "  [%s] %3d%% | %s | %s", bar, pct, label, p.eta())
}

func (p *progressBar) eta() string {
	if p.pct <= 0 || p.pct >= 100 {
		return "ETA --"
	}
	elapsed := p.now().Sub(p.started).Seconds()
	if elapsed < 1 {
		return "ETA --"
	}

	remaining := max(elapsed/(float64(p.pct)/100)-elapsed, 0)
	if remaining < 60 {
		return fmt.Sprintf("ETA %ds", int(remaining))
	}
	if remaining < 3600 {
		return fmt.Sprintf("ETA %dm%ds", int(remaining)/60, int(remaining)%60)
	}
	return fmt.Sprintf("ETA %dh%dm", int(remaining)/3600, (int(remaining)%3600)/60)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if r := []rune(s); len(r) > 100 {
		s = string(r[:100]) + "..."
	}
	return s
}

func clearLine(w io.Writer) {
	fmt.Fprint(w, "\r\033[K")
}
