// Package style holds the terminal palette and output helpers shared by
// every weft command surface.
package style

import (
	"encoding/json"
	"fmt"
	"image/color"
	"io"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/lipgloss/v2"
	"gopkg.in/yaml.v3"
)

// Palette. Severity colors pair with the icon helpers below so findings,
// progress lines, and help output stay consistent across commands.
var (
	ErrorColor   = lipgloss.Color("#E5484D")
	WarningColor = lipgloss.Color("#FFB224")
	SuccessColor = lipgloss.Color("#46A758")
	InfoColor    = lipgloss.Color("#0091FF")
	AccentColor  = lipgloss.Color("#6E56CF")
	MutedColor   = lipgloss.Color("#8B949E")

	// PrimaryTextColor and CodeColor feed the help renderer; ErrorBgColor
	// backs the error header there.
	PrimaryTextColor = lipgloss.Color("#E6EDF3")
	CodeColor        = lipgloss.Color("#C9D1D9")
	ErrorBgColor     = lipgloss.Color("#3C181A")
)

// FangScheme adapts the palette for fang's help and error renderer.
func FangScheme(lightDark lipgloss.LightDarkFunc) fang.ColorScheme {
	return fang.ColorScheme{
		Base:           PrimaryTextColor,
		Title:          AccentColor,
		Description:    MutedColor,
		Codeblock:      CodeColor,
		Program:        AccentColor,
		DimmedArgument: MutedColor,
		Comment:        MutedColor,
		Flag:           InfoColor,
		FlagDefault:    MutedColor,
		Command:        SuccessColor,
		QuotedString:   WarningColor,
		Argument:       PrimaryTextColor,
		Help:           InfoColor,
		Dash:           MutedColor,
		ErrorHeader:    [2]color.Color{ErrorColor, ErrorBgColor},
		ErrorDetails:   ErrorColor,
	}
}

var (
	ErrorStyle   = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor).Bold(true)
	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor).Bold(true)
	InfoStyle    = lipgloss.NewStyle().Foreground(InfoColor).Bold(true)
	AccentStyle  = lipgloss.NewStyle().Foreground(AccentColor)
	MutedStyle   = lipgloss.NewStyle().Foreground(MutedColor)

	// TitleStyle heads output sections such as the run banner.
	TitleStyle = lipgloss.NewStyle().Bold(true)

	// PositionStyle renders file locations next to validation findings.
	PositionStyle = lipgloss.NewStyle().Foreground(MutedColor).Italic(true)
)

func SuccessIcon() string { return SuccessStyle.Render("✓") }

func ErrorIcon() string { return ErrorStyle.Render("✗") }

func WarningIcon() string { return WarningStyle.Render("⚠") }

func InfoIcon() string { return InfoStyle.Render("ℹ") }

// GetSeverityIcon maps a finding severity to its rendered icon. Unknown
// severities get a muted bullet.
func GetSeverityIcon(severity string) string {
	switch severity {
	case "error":
		return ErrorIcon()
	case "warning":
		return WarningIcon()
	case "info":
		return InfoIcon()
	default:
		return MutedStyle.Render("•")
	}
}

func statusLine(w io.Writer, icon string, c color.Color, message string) {
	fmt.Fprintf(w, "%s %s\n", icon, lipgloss.NewStyle().Foreground(c).Render(message))
}

// Success writes message to w behind a check mark.
func Success(w io.Writer, message string) {
	statusLine(w, SuccessIcon(), SuccessColor, message)
}

// Error writes message to w behind a cross mark.
func Error(w io.Writer, message string) {
	statusLine(w, ErrorIcon(), ErrorColor, message)
}

// Warning writes message to w behind a warning sign.
func Warning(w io.Writer, message string) {
	statusLine(w, WarningIcon(), WarningColor, message)
}

// Info writes message to w behind an info sign.
func Info(w io.Writer, message string) {
	statusLine(w, InfoIcon(), InfoColor, message)
}

// PrintJSON writes data to w as indented JSON.
func PrintJSON(w io.Writer, data interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		fmt.Fprintf(w, "Error encoding JSON: %v\n", err)
	}
}

// PrintYAML writes data to w as YAML with two-space indentation.
func PrintYAML(w io.Writer, data interface{}) {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		fmt.Fprintf(w, "Error encoding YAML: %v\n", err)
	}
	enc.Close()
}
