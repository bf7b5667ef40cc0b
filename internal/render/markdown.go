package render

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
)

var (
	mdFence      = regexp.MustCompile("(?s)\\A```(?:md|markdown)\\s*\\n(.*?)\\n```\\z")
	openingFence = regexp.MustCompile("\\A```\\s*\\n")
	closingFence = regexp.MustCompile("\\n```\\z")
)

// CleanMarkdown unwraps an answer the model wrapped in a markdown code fence.
// The stored turn keeps the raw text; this is for display only.
func CleanMarkdown(md string) string {
	if m := mdFence.FindStringSubmatch(md); m != nil && m[1] != "" {
		return strings.TrimSpace(m[1])
	}
	md = openingFence.ReplaceAllString(md, "")
	md = closingFence.ReplaceAllString(md, "")
	return strings.TrimSpace(md)
}

// RenderFailedPrefix precedes the raw answer when terminal rendering fails.
const RenderFailedPrefix = "Error rendering Markdown. Displaying raw content:\n"

// Markdown renders answers for a terminal.
type Markdown struct {
	renderer *glamour.TermRenderer
}

// NewMarkdown builds a renderer. An empty style picks one from the terminal
// background; "notty" produces plain text.
func NewMarkdown(style string, width int) (*Markdown, error) {
	if width <= 0 {
		width = 80
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, err
	}
	return &Markdown{renderer: r}, nil
}

// Render cleans and renders md, falling back to the raw content on error.
func (m *Markdown) Render(md string) string {
	out, err := m.renderer.Render(CleanMarkdown(md))
	if err != nil {
		return RenderFailedPrefix + md
	}
	return out
}
