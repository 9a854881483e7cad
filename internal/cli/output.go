package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/st-keller/ultrasync/panel"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The panel refused or did not confirm the operation
	ExitCommandError = 2 // Bad flags or configuration
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q is not structured", format)
	}
}

// Tile colours of the panel's web interface, as ANSI colours.
var priorityColors = map[string]lipgloss.Color{
	"red":    lipgloss.Color("1"),
	"green":  lipgloss.Color("2"),
	"yellow": lipgloss.Color("3"),
	"blue":   lipgloss.Color("4"),
	"grey":   lipgloss.Color("8"),
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	nameStyle   = lipgloss.NewStyle().Width(20)
)

func statusStyle(p panel.Priority) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(priorityColors[p.Colour()])
}

func renderArea(a panel.Area) string {
	return fmt.Sprintf("  %-4d %s %s", a.Number, nameStyle.Render(a.Name),
		statusStyle(a.Priority).Render(strings.Join(a.States, ", ")))
}

func renderZone(z panel.Zone) string {
	return fmt.Sprintf("  %-4d %s %s", z.Number, nameStyle.Render(z.Name),
		statusStyle(z.Priority).Render(strings.Join(z.States, ", ")))
}

func renderSystem(s panel.System) string {
	var flags []string
	if s.AllAway {
		flags = append(flags, "all away")
	}
	if s.AllStay {
		flags = append(flags, "all stay")
	}
	if s.AllChime {
		flags = append(flags, "all chime")
	}
	if len(flags) == 0 {
		flags = append(flags, s.Priority.String())
	}
	return fmt.Sprintf("%s: %s", headerStyle.Render(s.Name), statusStyle(s.Priority).Render(strings.Join(flags, ", ")))
}
