// Package watch reports changes to query files in a workspace.
package watch

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultPatterns matches SQL, Cypher and JavaScript query files.
var DefaultPatterns = []string{"**/*.{sql,cypher,js}"}

// Matcher matches slash-separated paths relative to the workspace root.
type Matcher struct {
	patterns []string
	globs    []glob.Glob
}

// NewMatcher compiles patterns. "**" crosses directories, "*" does not, and
// braces list alternatives. A leading "**/" also matches files at the root.
// No patterns means DefaultPatterns.
func NewMatcher(patterns []string) (*Matcher, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	m := &Matcher{patterns: append([]string(nil), patterns...)}
	for _, p := range patterns {
		if err := checkBalanced(p); err != nil {
			return nil, fmt.Errorf("invalid watch pattern %q: %w", p, err)
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid watch pattern %q: %w", p, err)
		}
		m.globs = append(m.globs, g)

		if rest := strings.TrimPrefix(p, "**/"); rest != p {
			g, err := glob.Compile(rest, '/')
			if err != nil {
				return nil, fmt.Errorf("invalid watch pattern %q: %w", p, err)
			}
			m.globs = append(m.globs, g)
		}
	}
	return m, nil
}

// checkBalanced rejects unclosed or stray braces and brackets, which
// glob.Compile accepts as literals.
func checkBalanced(p string) error {
	braces := 0
	inClass := false
	for i := 0; i < len(p); i++ {
		switch c := p[i]; {
		case c == '\\':
			i++
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
		case c == ']':
			return fmt.Errorf("unexpected ']' at offset %d", i)
		case c == '{':
			braces++
		case c == '}':
			if braces == 0 {
				return fmt.Errorf("unexpected '}' at offset %d", i)
			}
			braces--
		}
	}
	switch {
	case inClass:
		return errors.New("unterminated '['")
	case braces > 0:
		return errors.New("unterminated '{'")
	}
	return nil
}

// Patterns returns the source patterns.
func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// Match reports whether rel matches any pattern.
func (m *Matcher) Match(rel string) bool {
	rel = strings.TrimPrefix(path.Clean(rel), "./")
	for _, g := range m.globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}
