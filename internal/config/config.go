// Package config loads the polydb configuration. Sources, lowest precedence
// first: built-in defaults, a YAML, TOML or JSON file, the environment and
// finally command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/hyperpolymath/poly-db-lsp/internal/rpc"
)

// EnvLSPPath overrides lsp.path.
const EnvLSPPath = "POLYDB_LSP_PATH"

// DefaultPatterns selects the query files forwarded to the engine.
var DefaultPatterns = []string{"**/*.{sql,cypher,js}"}

// FileNames are searched, in order, by Discover.
var FileNames = []string{"polydb.yaml", "polydb.yml", "polydb.toml", "polydb.json", ".polydb.yaml"}

// Config is the complete polydb configuration.
type Config struct {
	LSP             LSP      `json:"lsp"`
	RequestTimeout  Duration `json:"requestTimeout"`
	StartupTimeout  Duration `json:"startupTimeout"`
	ShutdownTimeout Duration `json:"shutdownTimeout"`
	Watch           Watch    `json:"watch"`
	Workspace       string   `json:"workspace"`
	Log             Log      `json:"log"`
	Output          string   `json:"output"`

	// Source is the file the configuration was read from, if any.
	Source string `json:"-"`
}

// LSP describes the engine executable.
type LSP struct {
	Path    string            `json:"path"`
	Args    []string          `json:"args"`
	WorkDir string            `json:"workDir"`
	Env     map[string]string `json:"env"`
}

// Watch configures forwarding of file changes to the engine.
type Watch struct {
	Enabled  bool     `json:"enabled"`
	Patterns []string `json:"patterns"`
	Debounce Duration `json:"debounce"`
}

// Log configures the process logger.
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Defaults returns the built-in configuration. The engine path is empty.
func Defaults() *Config {
	return &Config{
		LSP: LSP{
			Args: append([]string(nil), rpc.DefaultArgs...),
		},
		StartupTimeout:  Duration(rpc.DefaultStartupTimeout),
		ShutdownTimeout: Duration(rpc.DefaultShutdownTimeout),
		Watch: Watch{
			Enabled:  true,
			Patterns: append([]string(nil), DefaultPatterns...),
			Debounce: Duration(100 * time.Millisecond),
		},
		Workspace: ".",
		Log: Log{
			Level:  "info",
			Format: "console",
		},
		Output: "json",
	}
}

// Load reads the file at path on top of the defaults. An empty path or a
// missing file yields the defaults. A missing lsp.path is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		return Defaults(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg, err := Decode(FormatOf(path), content)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.File = path
			return nil, verr
		}
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Source = path
	return cfg, nil
}

var validator = NewValidator()

// Decode parses, validates and decodes content over the defaults.
func Decode(format Format, content []byte) (*Config, error) {
	doc, err := Parse(format, content)
	if err != nil {
		return nil, err
	}

	verr, err := validator.Validate(doc)
	if err != nil {
		return nil, err
	}
	if verr != nil {
		return nil, verr
	}

	cfg := Defaults()
	if err := json.Unmarshal(doc.JSONBytes, cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// Discover returns the first configuration file found in dir, or "".
func Discover(dir string) string {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// ApplyEnv applies environment overrides using lookup, usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if path, ok := lookup(EnvLSPPath); ok && path != "" {
		c.LSP.Path = path
	}
}

// WorkspaceRoot returns the absolute workspace directory.
func (c *Config) WorkspaceRoot() string {
	root := c.Workspace
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return root
}

// ClientConfig returns the launch configuration for the engine.
func (c *Config) ClientConfig() rpc.Config {
	return rpc.Config{
		ExecutablePath:  c.LSP.Path,
		Args:            c.LSP.Args,
		Env:             c.LSP.Env,
		WorkDir:         c.LSP.WorkDir,
		WorkspaceRoot:   c.WorkspaceRoot(),
		RequestTimeout:  c.RequestTimeout.Std(),
		StartupTimeout:  c.StartupTimeout.Std(),
		ShutdownTimeout: c.ShutdownTimeout.Std(),
	}
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
