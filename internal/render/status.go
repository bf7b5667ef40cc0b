package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/status"
)

// StatusPrinter writes tracker entries as colored terminal lines.
type StatusPrinter struct {
	w       io.Writer
	noColor bool
}

func NewStatusPrinter(w io.Writer, noColor bool) *StatusPrinter {
	return &StatusPrinter{w: w, noColor: noColor}
}

func (p *StatusPrinter) style(state status.State) (*color.Color, string) {
	var c *color.Color
	var mark string
	switch state {
	case status.Working:
		c, mark = color.New(color.FgYellow), "…"
	case status.Done:
		c, mark = color.New(color.FgGreen), "✓"
	case status.Error:
		c, mark = color.New(color.FgRed, color.Bold), "✗"
	case status.Pending:
		c, mark = color.New(color.Faint), "·"
	default:
		c, mark = color.New(color.FgCyan), "•"
	}
	if p.noColor {
		c.DisableColor()
	} else {
		c.EnableColor()
	}
	return c, mark
}

// Line formats one entry, with its items indented below it.
func (p *StatusPrinter) Line(e status.Entry) string {
	c, mark := p.style(e.State)
	var b strings.Builder
	b.WriteString(c.Sprintf("%s %s", mark, e.Label))
	for _, item := range e.Items {
		fmt.Fprintf(&b, "\n    - %s", item)
	}
	return b.String()
}

// Print writes one tracker event. Clears are silent.
func (p *StatusPrinter) Print(ev status.Event) {
	if ev.Kind == status.EventCleared {
		return
	}
	fmt.Fprintln(p.w, p.Line(ev.Entry))
}
