package runner

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/slideforge/slideforge/internal/domain"
)

const (
	// WindowSize is the number of formatted chunks kept in Sample.Content.
	WindowSize = 20

	maxPrettyArgs = 300
	maxArgValue   = 50
)

var roleMarks = map[string]string{
	"system":    "⚙️",
	"user":      "👤",
	"assistant": "🤖",
	"tool":      "📝",
}

// FormatMessage renders a message event as display text. It returns "" when
// nothing is worth showing.
func FormatMessage(ev domain.MessageEvent) string {
	role := ev.Role
	if role == "" {
		role = "assistant"
	}
	mark, ok := roleMarks[role]
	if !ok {
		mark = "💬"
	}

	var parts []string
	if ev.Content != "" && !isToolEcho(role, ev.Content) {
		parts = append(parts, mark+" **"+titleCase(role)+"**: "+ev.Content)
	}

	for _, tc := range ev.ToolCalls {
		name := tc.Name
		if name == "" {
			name = "unknown"
		}
		parts = append(parts, "🔧 **Tool Call: "+name+"**")
		if args := formatArguments(tc.Arguments); args != "" {
			parts = append(parts, args)
		}
	}
	return strings.Join(parts, "\n")
}

// isToolEcho reports assistant content that only repeats the tool calls in a
// serialized form.
func isToolEcho(role, content string) bool {
	if role != "assistant" {
		return false
	}
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "[") && strings.Contains(s, "arguments") {
		return true
	}
	return strings.Contains(s, "Function(")
}

func formatArguments(raw string) string {
	if raw == "" {
		return ""
	}
	short := utf8.RuneCountInString(raw) < maxPrettyArgs

	if !json.Valid([]byte(raw)) {
		if short {
			return "```\n" + raw + "\n```"
		}
		return ""
	}

	if short {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
			return ""
		}
		return "```json\n" + buf.String() + "\n```"
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return ""
	}
	for k, v := range obj {
		if s, ok := v.(string); ok && utf8.RuneCountInString(s) > maxArgValue {
			obj[k] = string([]rune(s)[:maxArgValue]) + "..."
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(obj); err != nil {
		return ""
	}
	return "```json\n" + strings.TrimRight(buf.String(), "\n") + "\n```"
}

func titleCase(s string) string {
	out := []rune(s)
	start := true
	for i, r := range out {
		if unicode.IsLetter(r) {
			if start {
				out[i] = unicode.ToUpper(r)
			} else {
				out[i] = unicode.ToLower(r)
			}
			start = false
			continue
		}
		start = true
	}
	return string(out)
}

// Window is the rolling buffer behind Sample.Content.
type Window struct {
	chunks []string
}

// Add appends a chunk and returns the rendered window.
func (w *Window) Add(chunk string) string {
	w.chunks = append(w.chunks, chunk)
	if len(w.chunks) > WindowSize {
		w.chunks = append(w.chunks[:0:0], w.chunks[len(w.chunks)-WindowSize:]...)
	}
	return w.String()
}

func (w *Window) String() string {
	return strings.Join(w.chunks, "\n\n")
}
