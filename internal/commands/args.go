package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Prompt keys used by the built-in commands.
const (
	KeyOutputPath = "outputPath"
	KeyHost       = "host"
	KeyPort       = "port"
	KeyDatabase   = "database"
	KeyUser       = "user"
)

// Prompt asks the user for one value.
type Prompt struct {
	Key     string
	Message string
	Default string
}

// Args collects command arguments from the user. A false ok means there
// is nothing to act on (no active document, or the prompt was dismissed).
type Args interface {
	// Selection returns the query text the user selected.
	Selection(ctx context.Context) (text string, ok bool)
	// Input asks for a single value.
	Input(ctx context.Context, p Prompt) (value string, ok bool)
}

// Scripted answers from fixed values. It backs command-line flags and tests.
type Scripted struct {
	// Query is the selected text; NoDocument simulates having no active
	// document at all.
	Query      string
	NoDocument bool
	// Answers maps prompt keys to values. A present empty value is a
	// dismissed prompt.
	Answers map[string]string
	// Defaults accepts the default of unanswered prompts instead of
	// dismissing them.
	Defaults bool
}

// Selection implements Args.
func (s *Scripted) Selection(ctx context.Context) (string, bool) {
	if s.NoDocument {
		return "", false
	}
	return s.Query, true
}

// Input implements Args.
func (s *Scripted) Input(ctx context.Context, p Prompt) (string, bool) {
	if v, ok := s.Answers[p.Key]; ok {
		return v, v != ""
	}
	if s.Defaults && p.Default != "" {
		return p.Default, true
	}
	return "", false
}

// Terminal prompts on a line-oriented terminal. Pressing enter accepts the
// default shown in brackets; end of input dismisses the prompt.
type Terminal struct {
	In  *bufio.Reader
	Out io.Writer
	// Preset answers prompts without asking, keyed like Scripted.Answers.
	Preset map[string]string
	// Query, when set, is used as the selection without prompting.
	Query string
}

// NewTerminal returns a terminal reading from in and prompting on out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{In: bufio.NewReader(in), Out: out}
}

// Selection implements Args.
func (t *Terminal) Selection(ctx context.Context) (string, bool) {
	if t.Query != "" {
		return t.Query, true
	}
	line, err := t.readLine(ctx, "Query: ")
	if err != nil {
		return "", false
	}
	return line, true
}

// Input implements Args.
func (t *Terminal) Input(ctx context.Context, p Prompt) (string, bool) {
	if v, ok := t.Preset[p.Key]; ok && v != "" {
		return v, true
	}

	label := p.Message
	if p.Default != "" {
		label = fmt.Sprintf("%s [%s]", label, p.Default)
	}
	line, err := t.readLine(ctx, label+": ")
	if err != nil {
		return "", false
	}
	if line == "" {
		line = p.Default
	}
	return line, line != ""
}

var errDismissed = errors.New("prompt dismissed")

func (t *Terminal) readLine(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(t.Out, prompt)

	line, err := t.In.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", errDismissed
	}
	return strings.TrimRight(line, "\r\n"), nil
}
