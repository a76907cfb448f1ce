package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// ErrorLevel represents the severity of a message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
)

// ErrorOptions configures the error message formatting
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// FormatError creates a message with an optional context line,
// "did you mean" suggestions and help commands:
//
//	✗ UNKNOWN CATEGORY: auth-sigin
//	   Did you mean: auth-signin, auth-signup?
//
//	   → See all categories: learnhub policies
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	headerColor := newColor(opts.NoColor, color.FgRed, color.Bold)
	symbol := "✗"
	if opts.Level == ErrorLevelWarning {
		headerColor = newColor(opts.NoColor, color.FgYellow, color.Bold)
		symbol = "!"
	}

	if opts.Context != "" {
		headerColor.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(opts.Context), opts.Problem)
	} else {
		headerColor.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	if len(opts.Suggestions) > 0 {
		newColor(opts.NoColor, color.FgYellow).Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := newColor(opts.NoColor, color.FgCyan)
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}

	return b.String()
}

// WriteError writes a formatted error message to the writer
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// FormatSuccess creates a success message
func FormatSuccess(message string, noColor bool) string {
	return newColor(noColor, color.FgGreen, color.Bold).Sprintf("✓ %s", message)
}

// WriteSuccess writes a success message to the writer
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// UnknownCategoryError reports a rate limit category that does not exist
func UnknownCategoryError(name string, known []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:        ErrorLevelError,
		Context:      "UNKNOWN CATEGORY",
		Problem:      name,
		Suggestions:  FindSimilar(name, known, nil),
		HelpCommands: []string{"See all categories: learnhub policies"},
		NoColor:      noColor,
	})
}

// ConfigError reports a configuration problem
func ConfigError(message string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:        ErrorLevelError,
		Context:      "CONFIGURATION ERROR",
		Problem:      message,
		HelpCommands: []string{
			"Configuration is read from learnhub.yml and LEARNHUB_* variables",
			"Get help: learnhub --help",
		},
		NoColor: noColor,
	})
}

// Warning creates a warning message
func Warning(message string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:   ErrorLevelWarning,
		Problem: message,
		NoColor: noColor,
	})
}
