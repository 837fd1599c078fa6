package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/rhythm/internal/models"
)

// Default is the palette used by the CLI.
var Default = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

func (p *Palette) Title(format string, args ...any) string {
	return p.title.Render(fmt.Sprintf(format, args...))
}

// OK renders a success line prefixed with a check mark.
func (p *Palette) OK(format string, args ...any) string {
	return p.ok.Render("✓ " + fmt.Sprintf(format, args...))
}

// Fail renders a failure line prefixed with a cross.
func (p *Palette) Fail(format string, args ...any) string {
	return p.err.Render("✗ " + fmt.Sprintf(format, args...))
}

func (p *Palette) Warn(format string, args ...any) string {
	return p.warn.Render(fmt.Sprintf(format, args...))
}

func (p *Palette) Help(format string, args ...any) string {
	return p.help.Render(fmt.Sprintf(format, args...))
}

// Status renders a job status in the color of its outcome.
func (p *Palette) Status(s models.Status) string {
	switch s {
	case models.StatusReady:
		return p.ok.Render(string(s))
	case models.StatusFailed:
		return p.err.Render(string(s))
	case models.StatusExpired:
		return p.help.Render(string(s))
	default:
		return p.warn.Render(string(s))
	}
}

// Progress renders a fixed-width progress bar for pct in [0, 100].
func (p *Palette) Progress(pct float64, width int) string {
	if width <= 0 {
		width = 20
	}
	filled := int(min(max(pct, 0), 100) / 100 * float64(width))
	bar := make([]rune, width)
	for i := range bar {
		if i < filled {
			bar[i] = '█'
		} else {
			bar[i] = '░'
		}
	}
	return p.ok.Render(string(bar[:filled])) + p.help.Render(string(bar[filled:])) + fmt.Sprintf(" %3.0f%%", pct)
}
