package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/deepsearch/internal/agent/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"md fence", "```md\n# Title\n\nbody\n```", "# Title\n\nbody"},
		{"markdown fence", "```markdown  \n## Answer\n```", "## Answer"},
		{"bare fence", "```\n- a\n- b\n```", "- a\n- b"},
		{"no fence", "  plain answer \n", "plain answer"},
		{"inner code kept", "Intro\n\n```go\nx := 1\n```\n\nOutro", "Intro\n\n```go\nx := 1\n```\n\nOutro"},
		{"other language fence", "```go\nx := 1\n```", "```go\nx := 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanMarkdown(tt.in))
		})
	}
}

func TestMarkdownRender(t *testing.T) {
	m, err := NewMarkdown("notty", 60)
	require.NoError(t, err)
	out := m.Render("```markdown\n# Climate Policy\n\nCarbon **pricing** matters.\n```")
	assert.Contains(t, out, "Climate Policy")
	assert.Contains(t, out, "pricing")
	assert.NotContains(t, out, "```")
}

func TestStatusPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewStatusPrinter(&buf, true)

	p.Print(status.Event{Kind: status.EventUpserted, Entry: status.Entry{ID: "plan", Label: "Generating plan...", State: status.Done}})
	p.Print(status.Event{Kind: status.EventUpserted, Entry: status.Entry{ID: "query-list", Label: "Queries:", State: status.Info, Items: []string{"q1", "q2"}}})
	p.Print(status.Event{Kind: status.EventCleared})
	p.Print(status.Event{Kind: status.EventUpserted, Entry: status.Entry{ID: "main-error", Label: "An error occurred: boom", State: status.Error}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"✓ Generating plan...",
		"• Queries:",
		"    - q1",
		"    - q2",
		"✗ An error occurred: boom",
	}, lines)
}

func TestStatusPrinterColor(t *testing.T) {
	p := NewStatusPrinter(&bytes.Buffer{}, false)
	line := p.Line(status.Entry{Label: "Searching (1/5): x...", State: status.Working})
	assert.Contains(t, line, "\x1b[")
	assert.Contains(t, line, "Searching (1/5): x...")
}
