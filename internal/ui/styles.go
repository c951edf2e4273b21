// Package ui renders terminal output for the pocketsync CLI.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentColor = lipgloss.AdaptiveColor{Light: "#4A7070", Dark: "#5F8787"}
	passColor   = lipgloss.AdaptiveColor{Light: "#3A7A3A", Dark: "#7FB77F"}
	warnColor   = lipgloss.AdaptiveColor{Light: "#9A6A00", Dark: "#D7AF5F"}
	failColor   = lipgloss.AdaptiveColor{Light: "#A03030", Dark: "#D75F5F"}
	subtleColor = lipgloss.AdaptiveColor{Light: "#888888", Dark: "#606060"}

	accentStyle = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(passColor)
	warnStyle   = lipgloss.NewStyle().Foreground(warnColor)
	failStyle   = lipgloss.NewStyle().Foreground(failColor).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(subtleColor)
)

func init() {
	if termenv.EnvNoColor() || !IsInteractive() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsInteractive reports whether stdin and stdout are both terminals.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// RenderAccent renders s in the accent style.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders a success marker or message.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders a warning marker or message.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders an error marker or message.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted renders secondary text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }
