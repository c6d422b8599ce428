// Package ui provides terminal output for the doc-converter CLI.
package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// UI renders status lines, a spinner while the document converts and a
// progress bar while pages are processed. Animations are only shown when
// output goes to a color-capable terminal.
type UI struct {
	out         io.Writer
	errOut      io.Writer
	interactive bool

	spinner *spinner.Spinner
	bar     *progressbar.ProgressBar
}

// New creates a UI writing to out and errOut.
func New(out, errOut io.Writer, noColor bool) *UI {
	if noColor {
		color.NoColor = true
	}
	return &UI{
		out:         out,
		errOut:      errOut,
		interactive: !color.NoColor,
	}
}

// Success prints a success message.
func (u *UI) Success(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(u.out, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Info prints an informational message.
func (u *UI) Info(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(u.out, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (u *UI) Warning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(u.errOut, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (u *UI) Error(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(u.errOut, "✗ %s\n", fmt.Sprintf(format, args...))
}

// StartSpinner shows an indeterminate spinner with message.
func (u *UI) StartSpinner(message string) {
	if !u.interactive {
		u.Info("%s", message)
		return
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = u.errOut
	s.Start()
	u.spinner = s
}

// StopSpinner stops the spinner if one is running.
func (u *UI) StopSpinner() {
	if u.spinner != nil {
		u.spinner.Stop()
		u.spinner = nil
	}
}

// StartProgress shows a page progress bar.
func (u *UI) StartProgress(total int, description string) {
	u.StopSpinner()
	if !u.interactive || total <= 0 {
		return
	}
	u.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(u.errOut),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(u.errOut, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Advance moves the progress bar one page forward.
func (u *UI) Advance() {
	if u.bar != nil {
		_ = u.bar.Add(1)
	}
}

// Finish stops any running animation.
func (u *UI) Finish() {
	u.StopSpinner()
	if u.bar != nil {
		_ = u.bar.Finish()
		u.bar = nil
	}
}
