package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Format is the syntax of a configuration file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatOf picks the format from the file extension. Unknown extensions
// are read as YAML, which also accepts JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Document is a parsed configuration file. JSONBytes is the canonical form
// that is validated and decoded.
type Document struct {
	Format    Format
	Content   []byte
	JSONBytes []byte
	// YAMLNode is set for YAML documents and used to locate errors.
	YAMLNode *yaml.Node
}

// Parse converts content of the given format to a Document.
func Parse(format Format, content []byte) (*Document, error) {
	switch format {
	case FormatTOML:
		return ParseTOML(content)
	case FormatJSON:
		return ParseJSON(content)
	default:
		return ParseYAML(content)
	}
}

// ParseYAML parses a YAML document.
func ParseYAML(content []byte) (*Document, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(content, &node); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	var data interface{}
	if err := node.Decode(&data); err != nil && len(node.Content) > 0 {
		return nil, fmt.Errorf("failed to parse YAML data: %w", err)
	}

	jsonBytes, err := toJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML to JSON: %w", err)
	}

	return &Document{
		Format:    FormatYAML,
		Content:   content,
		JSONBytes: jsonBytes,
		YAMLNode:  &node,
	}, nil
}

// ParseTOML parses a TOML document.
func ParseTOML(content []byte) (*Document, error) {
	data := make(map[string]interface{})
	if _, err := toml.NewDecoder(bytes.NewReader(content)).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	jsonBytes, err := toJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert TOML to JSON: %w", err)
	}

	return &Document{
		Format:    FormatTOML,
		Content:   content,
		JSONBytes: jsonBytes,
	}, nil
}

// ParseJSON parses a JSON document.
func ParseJSON(content []byte) (*Document, error) {
	var data interface{}
	if len(bytes.TrimSpace(content)) > 0 {
		if err := json.Unmarshal(content, &data); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	}

	jsonBytes, err := toJSON(data)
	if err != nil {
		return nil, err
	}

	return &Document{
		Format:    FormatJSON,
		Content:   content,
		JSONBytes: jsonBytes,
	}, nil
}

// An empty document is an empty object.
func toJSON(data interface{}) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(data)
}

// Line returns the 1-based line of the value at a dotted path such as
// "watch.debounce", or 0 when the position is unknown.
func (d *Document) Line(field string) int {
	if d.YAMLNode == nil || len(d.YAMLNode.Content) == 0 {
		return 0
	}
	if field == "" || field == "(root)" {
		return 0
	}

	node := findNode(d.YAMLNode.Content[0], strings.Split(field, "."))
	if node == nil {
		return 0
	}
	return node.Line
}

// findNode descends mappings and sequences. For a mapping key the key node
// is returned so that unknown properties point at their own line.
func findNode(node *yaml.Node, path []string) *yaml.Node {
	for depth, part := range path {
		switch node.Kind {
		case yaml.MappingNode:
			var next *yaml.Node
			for i := 0; i+1 < len(node.Content); i += 2 {
				if node.Content[i].Value == part {
					if depth == len(path)-1 {
						return node.Content[i]
					}
					next = node.Content[i+1]
					break
				}
			}
			if next == nil {
				return nil
			}
			node = next

		case yaml.SequenceNode:
			index, err := strconv.Atoi(part)
			if err != nil || index < 0 || index >= len(node.Content) {
				return nil
			}
			node = node.Content[index]

		default:
			return nil
		}
	}
	return node
}
