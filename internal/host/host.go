// Package host ties the engine client, the file watcher and the command
// registry into the activate/deactivate lifecycle of a session.
package host

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hyperpolymath/poly-db-lsp/internal/commands"
	"github.com/hyperpolymath/poly-db-lsp/internal/config"
	"github.com/hyperpolymath/poly-db-lsp/internal/rpc"
	"github.com/hyperpolymath/poly-db-lsp/internal/watch"
)

// NotConfiguredMessage is shown when no engine executable is configured.
const NotConfiguredMessage = "PolyDB LSP path not configured. Please set polydb.lsp.path in settings."

// Option configures a Host.
type Option func(*Host)

// WithLauncher replaces the engine process launcher.
func WithLauncher(l rpc.Launcher) Option {
	return func(h *Host) { h.launcher = l }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// WithWatch overrides whether file changes are forwarded.
func WithWatch(enabled bool) Option {
	return func(h *Host) { h.watchEnabled = &enabled }
}

// Host owns one client session.
type Host struct {
	config       *config.Config
	notifier     commands.Notifier
	launcher     rpc.Launcher
	logger       *zap.Logger
	watchEnabled *bool

	client   *rpc.Client
	registry *commands.Registry

	mu      sync.Mutex
	watcher *watch.Watcher
}

// New builds a host. Nothing is started until Activate.
func New(cfg *config.Config, notifier commands.Notifier, opts ...Option) *Host {
	h := &Host{
		config:   cfg,
		notifier: notifier,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}

	clientOpts := []rpc.Option{
		rpc.WithLogger(h.logger.Named("rpc")),
		rpc.WithMessageSink(commands.Sink(notifier)),
		rpc.WithStoppedHandler(h.stopped),
	}
	if h.launcher != nil {
		clientOpts = append(clientOpts, rpc.WithLauncher(h.launcher))
	}

	h.client = rpc.NewClient(cfg.ClientConfig(), clientOpts...)
	h.registry = commands.NewRegistry(commands.Renderer{Format: cfg.Output})
	return h
}

// Client returns the engine client.
func (h *Host) Client() *rpc.Client { return h.client }

// Commands returns the registered command ids.
func (h *Host) Commands() []string { return h.registry.IDs() }

// Notifier returns the notifier engine messages and command results go to.
func (h *Host) Notifier() commands.Notifier { return h.notifier }

// Activate starts the engine and, when enabled, the file watcher. A missing
// executable path is reported as a warning and is not an error: commands
// stay available and fail fast. Startup failures are shown and returned.
func (h *Host) Activate(ctx context.Context) error {
	if !h.client.Configured() {
		h.notifier.Warn(NotConfiguredMessage)
		return nil
	}

	if err := h.client.Start(ctx); err != nil {
		h.notifier.Error(rpc.Describe(err))
		return err
	}

	if !h.watching() {
		return nil
	}
	if err := h.startWatcher(); err != nil {
		// The session is usable without change notifications.
		h.logger.Warn("file watching disabled", zap.Error(err))
	}
	return nil
}

func (h *Host) watching() bool {
	if h.watchEnabled != nil {
		return *h.watchEnabled
	}
	return h.config.Watch.Enabled
}

func (h *Host) startWatcher() error {
	if err := h.closeWatcher(); err != nil {
		h.logger.Debug("closing previous watcher", zap.Error(err))
	}

	matcher, err := watch.NewMatcher(h.config.Watch.Patterns)
	if err != nil {
		return err
	}

	w, err := watch.New(h.config.WorkspaceRoot(), matcher, h.forward,
		watch.WithDebounce(h.config.Watch.Debounce.Std()),
		watch.WithLogger(h.logger.Named("watch")),
	)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.watcher = w
	h.mu.Unlock()

	h.logger.Debug("watching workspace", zap.String("root", w.Root()), zap.Strings("patterns", matcher.Patterns()))
	return nil
}

func (h *Host) forward(changes []rpc.FileChange) {
	if err := h.client.NotifyFilesChanged(context.Background(), changes); err != nil {
		h.logger.Debug("dropping file changes", zap.Int("count", len(changes)), zap.Error(err))
	}
}

// stopped runs when the engine goes away on its own.
func (h *Host) stopped(err error) {
	h.closeWatcher()
	h.notifier.Error("PolyDB LSP stopped unexpectedly: " + err.Error())
}

func (h *Host) closeWatcher() error {
	h.mu.Lock()
	w := h.watcher
	h.watcher = nil
	h.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Close()
}

// Deactivate stops the watcher and shuts the engine down. It is safe to
// call more than once and before Activate.
func (h *Host) Deactivate(ctx context.Context) error {
	return multierr.Append(h.closeWatcher(), h.client.Shutdown(ctx))
}

// Run executes the command id with the host's client.
func (h *Host) Run(ctx context.Context, id string, args commands.Args) error {
	return h.registry.Run(ctx, id, h.client, args, h.notifier)
}
