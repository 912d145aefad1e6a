package commands

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
)

// Output formats for engine payloads.
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
	FormatYAML   = "yaml"
)

// Renderer formats opaque engine payloads for display.
type Renderer struct {
	Format string
}

// Render formats raw. Compact JSON is the default. An empty payload renders
// as null.
func (r Renderer) Render(raw []byte) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		raw = []byte("null")
	}

	switch r.Format {
	case "", FormatJSON:
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", fmt.Errorf("rendering result: %w", err)
		}
		return buf.String(), nil

	case FormatPretty:
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return "", fmt.Errorf("rendering result: %w", err)
		}
		return buf.String(), nil

	case FormatYAML:
		out, err := yaml.JSONToYAML(raw)
		if err != nil {
			return "", fmt.Errorf("rendering result: %w", err)
		}
		return strings.TrimRight(string(out), "\n"), nil

	default:
		return "", fmt.Errorf("unknown output format %q", r.Format)
	}
}

// renderOrRaw never fails; unrenderable payloads are shown as received.
func (r Renderer) renderOrRaw(raw []byte) string {
	out, err := r.Render(raw)
	if err != nil {
		return string(raw)
	}
	return out
}
