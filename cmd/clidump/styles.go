package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	colorPrimary   = lipgloss.Color("#7D56F4")
	colorText      = lipgloss.Color("#FAFAFA")
	colorMuted     = lipgloss.Color("#666666")
	colorType      = lipgloss.Color("#87CEEB")
	colorMember    = lipgloss.Color("#98FB98")
	colorError     = lipgloss.Color("#FF6B6B")
	colorHighlight = lipgloss.Color("#F59E0B")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			Background(colorPrimary).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	typeStyle = lipgloss.NewStyle().
			Foreground(colorType)

	memberStyle = lipgloss.NewStyle().
			Foreground(colorMember)

	selectedStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorHighlight)
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// setupColor applies output.color to the default lipgloss renderer.
func setupColor(mode string, w io.Writer) {
	switch {
	case mode == "never", mode == "auto" && !isTerminal(w):
		lipgloss.SetColorProfile(termenv.Ascii)
	case mode == "always":
		lipgloss.SetColorProfile(termenv.TrueColor)
	}
}
