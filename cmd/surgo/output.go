package main

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

func init() {
	// Respect NO_COLOR and dumb terminals.
	if termenv.EnvColorProfile() == termenv.Ascii {
		plain := lipgloss.NewStyle()
		okStyle, errStyle, dimStyle, labelStyle = plain, plain, plain, plain
	}
}

func renderError(err error) string {
	return errStyle.Render("error: ") + err.Error()
}

func renderOK(msg string) string {
	return okStyle.Render("ok ") + msg
}

// renderJSON pretty-prints any Go value for terminal output.
func renderJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
