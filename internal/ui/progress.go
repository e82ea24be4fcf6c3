// Package ui renders progress to the terminal. Progress goes to stderr so
// stdout stays reserved for structured payloads; the core engines receive
// a Sink and never touch rendering themselves.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Sink receives progress updates from long-running operations.
type Sink interface {
	// Progress reports a step. frac is in [0,1], negative when unknown.
	Progress(label string, frac float64)
	// Done finishes the current progress line.
	Done()
}

// NewSink returns a terminal sink when w is a TTY, otherwise a silent one.
// quiet forces the silent sink.
func NewSink(w *os.File, quiet bool) Sink {
	if quiet || w == nil || !isatty.IsTerminal(w.Fd()) {
		return silentSink{}
	}
	return &terminalSink{w: w}
}

type silentSink struct{}

func (silentSink) Progress(string, float64) {}
func (silentSink) Done()                    {}

// terminalSink rewrites a single status line and mirrors the fraction into
// the OSC 9;4 terminal progress escape, which supporting terminals render
// natively.
type terminalSink struct {
	w       io.Writer
	started bool
}

func (s *terminalSink) Progress(label string, frac float64) {
	s.started = true
	if frac >= 0 {
		pct := int(frac * 100)
		if pct > 100 {
			pct = 100
		}
		fmt.Fprintf(s.w, "\x1b]9;4;1;%d\x07\r\x1b[2K%3d%% %s", pct, pct, label)
		return
	}
	fmt.Fprintf(s.w, "\r\x1b[2K     %s", label)
}

func (s *terminalSink) Done() {
	if !s.started {
		return
	}
	s.started = false
	// Clear the native progress indicator and the status line.
	fmt.Fprint(s.w, "\x1b]9;4;0;0\x07\r\x1b[2K")
}
