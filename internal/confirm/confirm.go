// Package confirm asks the operator to type an exact phrase before a
// mutating run proceeds.
package confirm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrAborted is returned when the operator does not type the phrase.
var ErrAborted = errors.New("aborted by operator")

// Gate confirms a run of the given mode by asking for phrase.
type Gate interface {
	Confirm(phrase, mode string) error
}

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

// Prompt is a Gate that reads the phrase from a line-oriented input.
type Prompt struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

// NewPrompt returns a prompt reading from in and writing to out. When in is
// a file that is not a terminal the prompt still reads a line, but warns
// that the answer is coming from a pipe.
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = isTerminal(int(f.Fd()))
	}
	return &Prompt{in: bufio.NewReader(in), out: out, interactive: interactive}
}

// Confirm returns nil only if the next line equals phrase exactly, after
// trimming surrounding whitespace. Anything else, including EOF, is
// ErrAborted.
func (p *Prompt) Confirm(phrase, mode string) error {
	if !p.interactive {
		fmt.Fprintln(p.out, "warning: confirmation is not being read from a terminal")
	}
	if _, err := fmt.Fprintf(p.out, "About to run %s. Type %q to continue:\n> ", mode, phrase); err != nil {
		return err
	}

	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		if errors.Is(err, io.EOF) {
			return ErrAborted
		}
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != phrase {
		return ErrAborted
	}
	return nil
}
