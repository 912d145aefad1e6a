// Package workspace caches query documents and extracts the text a command
// runs against.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// ErrNotOpen is returned for documents the store does not hold.
var ErrNotOpen = errors.New("document not open")

// Store holds open documents keyed by URI.
type Store struct {
	mu        sync.RWMutex
	documents map[protocol.DocumentURI]*Document
}

// Document is a cached query document.
type Document struct {
	URI        protocol.DocumentURI
	LanguageID string
	Version    int32
	Content    string
	Lines      []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		documents: make(map[protocol.DocumentURI]*Document),
	}
}

// Open stores a newly opened document.
func (s *Store) Open(u protocol.DocumentURI, version int32, content string) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := newDocument(u, version, content)
	s.documents[u] = doc
	return doc
}

// Update replaces a document's content, opening it if needed.
func (s *Store) Update(u protocol.DocumentURI, version int32, content string) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := newDocument(u, version, content)
	s.documents[u] = doc
	return doc
}

// Close drops a document.
func (s *Store) Close(u protocol.DocumentURI) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.documents, u)
}

// Get returns the document for u.
func (s *Store) Get(u protocol.DocumentURI) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[u]
	return doc, ok
}

// LoadFile reads path from disk and opens or updates its document. The
// version increases by one on every load.
func (s *Store) LoadFile(path string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	u := protocol.DocumentURI(uri.File(abs))

	s.mu.Lock()
	defer s.mu.Unlock()

	var version int32 = 1
	if prev, ok := s.documents[u]; ok {
		version = prev.Version + 1
	}
	doc := newDocument(u, version, string(content))
	s.documents[u] = doc
	return doc, nil
}

// Selection returns the text of u covered by r.
func (s *Store) Selection(u protocol.DocumentURI, r Range) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[u]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotOpen, u)
	}
	return doc.Text(r)
}

// Text returns the lines covered by r joined with newlines. An End past the
// last line is clamped.
func (d *Document) Text(r Range) (string, error) {
	if r.Whole() {
		return d.Content, nil
	}

	start, end := r.Start, r.End
	if start == 0 {
		start = 1
	}
	if end == 0 || end > len(d.Lines) {
		end = len(d.Lines)
	}
	if start > len(d.Lines) {
		return "", fmt.Errorf("line %d is past the end of %s (%d lines)", start, d.URI, len(d.Lines))
	}
	return strings.Join(d.Lines[start-1:end], "\n"), nil
}

func newDocument(u protocol.DocumentURI, version int32, content string) *Document {
	return &Document{
		URI:        u,
		LanguageID: LanguageOf(string(u)),
		Version:    version,
		Content:    content,
		Lines:      splitLines(content),
	}
}

// splitLines splits content into lines without their terminators. A final
// newline does not start another line.
func splitLines(content string) []string {
	if content == "" {
		return []string{}
	}
	content = strings.TrimSuffix(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	return strings.Split(content, "\n")
}

// LanguageOf returns the engine language id for a file name: sql, cypher or
// mongodb. Other files have no language.
func LanguageOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".sql":
		return "sql"
	case ".cypher", ".cql":
		return "cypher"
	case ".js":
		return "mongodb"
	default:
		return ""
	}
}

// Range is an inclusive 1-based line range. Zero bounds are open.
type Range struct {
	Start int
	End   int
}

// Whole reports whether r selects the entire document.
func (r Range) Whole() bool {
	return r.Start == 0 && r.End == 0
}

func (r Range) String() string {
	switch {
	case r.Whole():
		return ""
	case r.Start == r.End:
		return strconv.Itoa(r.Start)
	case r.End == 0:
		return fmt.Sprintf("%d:", r.Start)
	default:
		return fmt.Sprintf("%d:%d", r.Start, r.End)
	}
}

// ParseRange parses "A:B", "A:", ":B" or "A". The empty string selects the
// whole document.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, nil
	}

	startText, endText, found := strings.Cut(s, ":")
	if !found {
		endText = startText
	}

	var r Range
	var err error
	if r.Start, err = parseLine(startText); err != nil {
		return Range{}, fmt.Errorf("invalid line range %q: %w", s, err)
	}
	if r.End, err = parseLine(endText); err != nil {
		return Range{}, fmt.Errorf("invalid line range %q: %w", s, err)
	}
	if r.End != 0 && r.Start > r.End {
		return Range{}, fmt.Errorf("invalid line range %q: start after end", s)
	}
	return r, nil
}

func parseLine(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("line numbers start at 1, got %d", n)
	}
	return n, nil
}
