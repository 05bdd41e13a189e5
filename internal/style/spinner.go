package style

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

// Spinner is the progress surface the CLI renders through while steps run.
// The terminal implementation redraws in place; the line implementation
// appends one line per transition so command output stays parseable.
type Spinner interface {
	SetSuffix(suffix string)
	SetFinalMSG(finalMSG string)
	Start()
	Stop()
}

// LineSpinner logs spinner transitions as plain marker lines. WEFT_TEST=true
// swaps it in, keeping redraw escape codes out of captured output.
type LineSpinner struct {
	mu       sync.Mutex
	writer   io.Writer
	suffix   string
	finalMSG string
	active   bool
	paint    func(a ...interface{}) string
}

// NewLineSpinner creates a line spinner writing to w.
func NewLineSpinner(w io.Writer) *LineSpinner {
	return &LineSpinner{
		writer: w,
		paint:  color.New(color.FgWhite).SprintFunc(),
	}
}

func (s *LineSpinner) SetSuffix(suffix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suffix = suffix
	fmt.Fprintf(s.writer, "[SET SUFFIX]%s\n", s.paint(suffix))
}

func (s *LineSpinner) SetFinalMSG(finalMSG string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalMSG = finalMSG
}

func (s *LineSpinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	fmt.Fprintf(s.writer, "[SPINNER START]\n")
}

func (s *LineSpinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	fmt.Fprintf(s.writer, "[SPINNER STOP]\n")
	if s.finalMSG != "" {
		fmt.Fprintf(s.writer, "[FINAL MSG] %s\n", s.finalMSG)
	}
}

// TerminalSpinner renders an animated spinner that redraws in place.
type TerminalSpinner struct {
	spinner *spinner.Spinner
}

// NewTerminalSpinner creates a terminal spinner writing to w.
func NewTerminalSpinner(w io.Writer) *TerminalSpinner {
	return &TerminalSpinner{
		spinner: spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(w)),
	}
}

func (s *TerminalSpinner) SetSuffix(suffix string) {
	s.spinner.Suffix = suffix
}

func (s *TerminalSpinner) SetFinalMSG(finalMSG string) {
	s.spinner.FinalMSG = finalMSG
}

func (s *TerminalSpinner) Start() {
	s.spinner.Start()
}

func (s *TerminalSpinner) Stop() {
	s.spinner.Stop()
}

// NewSpinner picks the spinner implementation for the current environment.
func NewSpinner(w io.Writer) Spinner {
	if os.Getenv("WEFT_TEST") == "true" {
		return NewLineSpinner(w)
	}
	return NewTerminalSpinner(w)
}
