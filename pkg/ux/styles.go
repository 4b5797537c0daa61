// Package ux renders the installer's interactive screens and prompts.
//
// Rendering goes through lipgloss styles. When the console cannot display
// Unicode, the ASCII icon set is used and borders fall back to plain ASCII.
package ux

import (
	"github.com/charmbracelet/lipgloss"
)

// NoxSuite palette.
var (
	ColorAccent  = lipgloss.Color("#7C5CFF")
	ColorPrimary = lipgloss.Color("#A78BFA")
	ColorBorder  = lipgloss.Color("#4C3D99")
	ColorSuccess = lipgloss.Color("#34D399")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#6B7280")
)

// Styles holds the pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorAccent).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a status marker with an ASCII fallback.
type Icon struct {
	Unicode string
	ASCII   string
}

var (
	IconSuccess = Icon{"✓", "[OK]"}
	IconWarning = Icon{"⚠", "[!]"}
	IconError   = Icon{"✗", "[X]"}
	IconBullet  = Icon{"•", "-"}
	IconStar    = Icon{"★", "*"}
	IconArrow   = Icon{"→", "->"}
)

// String returns the glyph for the console.
func (i Icon) String(ascii bool) string {
	if ascii {
		return i.ASCII
	}
	return i.Unicode
}

// box applies the ASCII border when needed.
func box(style lipgloss.Style, ascii bool) lipgloss.Style {
	if ascii {
		return style.Border(lipgloss.ASCIIBorder())
	}
	return style
}
