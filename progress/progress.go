// Package progress renders a text progress bar for the search's joint-action
// iteration when show_progress is enabled, styled with lipgloss the way
// the teacher's terminal-facing components style their output.
package progress

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	filledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	emptyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	labelStyle  = lipgloss.NewStyle().Bold(true)
)

// Bar renders a fixed-width text progress bar to an output stream, one
// line per Update, overwriting in place via carriage return.
type Bar struct {
	out   io.Writer
	width int
	label string
}

// New creates a progress bar of the given character width, writing to out.
func New(out io.Writer, label string, width int) *Bar {
	if width <= 0 {
		width = 30
	}
	return &Bar{out: out, width: width, label: label}
}

// Update redraws the bar for done/total joint actions evaluated at the
// state currently being searched.
func (b *Bar) Update(done, total int) {
	if total <= 0 {
		return
	}
	frac := float64(done) / float64(total)
	if frac > 1 {
		frac = 1
	}
	filled := int(frac * float64(b.width))
	bar := filledStyle.Render(strings.Repeat("=", filled)) +
		emptyStyle.Render(strings.Repeat("-", b.width-filled))
	fmt.Fprintf(b.out, "\r%s [%s] %3.0f%% (%d/%d)", labelStyle.Render(b.label), bar, frac*100, done, total)
}

// Done finishes the bar with a trailing newline.
func (b *Bar) Done() {
	fmt.Fprintln(b.out)
}
