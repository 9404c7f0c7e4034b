// Package style centralizes terminal output styling for ccswap.
// Styles degrade to plain text on non-color terminals.
package style

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Core styles. Adaptive colors keep output readable on both light and
// dark backgrounds.
var (
	Bold    = lipgloss.NewStyle().Bold(true)
	Dim     = lipgloss.NewStyle().Faint(true)
	Success = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "42"})
	Warning = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "214"})
	Error   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "196"})
	Info    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "39"})
	Header  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Pre-rendered status prefixes for aligned list output.
var (
	SuccessPrefix = Success.Render("✓")
	WarningPrefix = Warning.Render("!")
	ErrorPrefix   = Error.Render("✗")
	ArrowPrefix   = Bold.Render("→")
)

// supervisorTag prefixes every structured stderr line the supervisor
// emits: swaps, migrations, sleep decisions.
const supervisorTag = "[ccswap]"

var stderrColor = termenv.NewOutput(os.Stderr).ColorProfile() != termenv.Ascii

// renderTag styles the supervisor tag when stderr supports color.
func renderTag() string {
	if stderrColor {
		return Dim.Render(supervisorTag)
	}
	return supervisorTag
}

// Notify writes a structured supervisor line to stderr.
func Notify(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", renderTag(), fmt.Sprintf(format, args...))
}

// PrintSuccess writes a tagged success line to stderr.
func PrintSuccess(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s %s\n", renderTag(), SuccessPrefix, fmt.Sprintf(format, args...))
}

// PrintWarning writes a tagged warning line to stderr.
func PrintWarning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s %s\n", renderTag(), WarningPrefix, fmt.Sprintf(format, args...))
}

// PrintError writes a tagged error line to stderr.
func PrintError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s %s\n", renderTag(), ErrorPrefix, fmt.Sprintf(format, args...))
}
