// Package rpc is the client façade for the PolyDB LSP engine. It owns one
// engine process, performs the LSP handshake over the process's stdio and
// exposes the engine's custom methods as typed calls.
//
// Requests only read the connection; the state flag and the current
// session are atomics, so any number of requests may be in flight at once.
// Start and Shutdown are serialized with each other.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/pkg/xcontext"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Default timeouts.
const (
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// Version is reported to the engine as the client version.
var Version = "dev"

// DefaultArgs selects the stdio transport on the engine.
var DefaultArgs = []string{"--stdio"}

// Config describes the engine to launch. It is read once by Start.
type Config struct {
	// ExecutablePath is the engine executable. Required.
	ExecutablePath string
	// Args are passed to the engine; DefaultArgs when empty.
	Args []string
	// Env adds environment variables for the engine.
	Env map[string]string
	// WorkDir is the engine's working directory.
	WorkDir string
	// WorkspaceRoot is announced as the root URI and workspace folder.
	WorkspaceRoot string

	// RequestTimeout bounds each request; zero leaves requests unbounded.
	RequestTimeout time.Duration
	// StartupTimeout bounds the initialize handshake.
	StartupTimeout time.Duration
	// ShutdownTimeout bounds the graceful shutdown request.
	ShutdownTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) Option {
	return func(c *Client) {
		c.launcher = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMessageSink routes window/showMessage notifications to sink.
func WithMessageSink(sink MessageSink) Option {
	return func(c *Client) {
		c.sink = sink
	}
}

// WithStoppedHandler registers a callback run when the connection is lost
// without Shutdown being called.
func WithStoppedHandler(fn func(err error)) Option {
	return func(c *Client) {
		c.onStopped = fn
	}
}

// Client is the façade over one engine connection.
type Client struct {
	config   Config
	launcher Launcher
	logger   *zap.Logger
	sink     MessageSink

	onStopped func(err error)

	// lifecycle serializes Start, Shutdown and loss handling.
	lifecycle sync.Mutex
	state     atomic.Int32
	session   atomic.Pointer[session]
}

// session is one launched engine and its connection.
type session struct {
	proc   Process
	conn   jsonrpc2.Conn
	server protocol.Server
	info   *protocol.ServerInfo

	// ctx is cancelled with ErrConnectionLost once the connection ends.
	ctx    context.Context
	cancel context.CancelCauseFunc

	closing     atomic.Bool
	releaseOnce sync.Once
	releaseErr  error
}

// NewClient creates a stopped client.
func NewClient(config Config, opts ...Option) *Client {
	if len(config.Args) == 0 {
		config.Args = DefaultArgs
	}
	if config.StartupTimeout == 0 {
		config.StartupTimeout = DefaultStartupTimeout
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	c := &Client{
		config: config,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.launcher == nil {
		c.launcher = ExecLauncher{Logger: c.logger.Named("engine")}
	}
	c.state.Store(int32(StateStopped))

	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Configured reports whether an executable path is set.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.config.ExecutablePath) != ""
}

// ServerInfo returns the engine's self-description from the handshake, if any.
func (c *Client) ServerInfo() *protocol.ServerInfo {
	s := c.session.Load()
	if s == nil {
		return nil
	}
	return s.info
}

// Start launches the engine and performs the LSP handshake. On any failure
// the client is left stopped.
func (c *Client) Start(ctx context.Context) error {
	if !c.Configured() {
		return newError(KindConfiguration, OpStart,
			"PolyDB LSP path not configured. Please set polydb.lsp.path in settings.", ErrNotConfigured)
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if !c.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return newError(KindStartup, OpStart, ErrAlreadyRunning.Error(), ErrAlreadyRunning)
	}

	s, err := c.launch(ctx)
	if err != nil {
		c.state.Store(int32(StateStopped))
		return err
	}

	c.session.Store(s)
	c.state.Store(int32(StateRunning))

	fields := []zap.Field{zap.Int("pid", s.proc.Pid())}
	if s.info != nil {
		fields = append(fields, zap.String("server", s.info.Name), zap.String("version", s.info.Version))
	}
	c.logger.Info("PolyDB LSP started", fields...)

	return nil
}

func (c *Client) launch(ctx context.Context) (*session, error) {
	spec := LaunchSpec{
		Path:    c.config.ExecutablePath,
		Args:    c.config.Args,
		Env:     c.config.Env,
		WorkDir: c.config.WorkDir,
	}

	c.logger.Debug("launching engine", zap.String("path", spec.Path), zap.Strings("args", spec.Args))
	proc, err := c.launcher.Launch(ctx, spec)
	if err != nil {
		return nil, newError(KindStartup, OpStart, fmt.Sprintf("failed to launch %s: %v", spec.Path, err), err)
	}

	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(proc))
	sctx, cancel := context.WithCancelCause(context.Background())
	s := &session{
		proc:   proc,
		conn:   conn,
		server: protocol.ServerDispatcher(conn, c.logger.Named("protocol")),
		ctx:    sctx,
		cancel: cancel,
	}

	conn.Go(sctx, c.handler())
	go c.monitor(s)

	info, err := c.initialize(ctx, s)
	if err != nil {
		s.closing.Store(true)
		exitErr := s.exitStatus()
		if rerr := s.release(); rerr != nil {
			c.logger.Debug("release after failed start", zap.Error(rerr))
		}
		if exitErr != nil {
			err = fmt.Errorf("%w (engine %v)", err, exitErr)
		}
		return nil, newError(KindStartup, OpStart, fmt.Sprintf("PolyDB LSP failed to start: %v", err), err)
	}
	s.info = info

	return s, nil
}

func (c *Client) initialize(ctx context.Context, s *session) (*protocol.ServerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.StartupTimeout)
	defer cancel()
	ctx, stop := s.bind(ctx)
	defer stop()

	params := &protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		ClientInfo: &protocol.ClientInfo{
			Name:    "polydb",
			Version: Version,
		},
		Capabilities: protocol.ClientCapabilities{},
	}
	if root := c.config.WorkspaceRoot; root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		rootURI := uri.File(root)
		params.RootURI = protocol.DocumentURI(rootURI)
		params.WorkspaceFolders = []protocol.WorkspaceFolder{
			{URI: string(rootURI), Name: filepath.Base(root)},
		}
	}

	result, err := s.server.Initialize(ctx, params)
	if err != nil {
		return nil, s.causeOf(ctx, err)
	}

	if err := s.server.Initialized(ctx, &protocol.InitializedParams{}); err != nil {
		return nil, s.causeOf(ctx, err)
	}

	if result == nil {
		return nil, nil
	}
	return result.ServerInfo, nil
}

// monitor waits for the connection or the process to end and reports
// losses that Shutdown did not initiate.
func (c *Client) monitor(s *session) {
	var cause error
	select {
	case <-s.conn.Done():
		cause = s.conn.Err()
	case <-s.proc.Done():
		cause = s.proc.Wait()
	}
	s.cancel(ErrConnectionLost)

	if s.closing.Load() {
		return
	}

	c.lifecycle.Lock()
	if c.session.Load() != s {
		c.lifecycle.Unlock()
		return
	}
	if err := s.release(); err != nil {
		c.logger.Debug("release after connection loss", zap.Error(err))
	}
	c.session.Store(nil)
	c.state.Store(int32(StateStopped))
	c.lifecycle.Unlock()

	c.logger.Error("PolyDB LSP connection lost", zap.Error(cause))
	if c.onStopped != nil {
		c.onStopped(fmt.Errorf("%w: %v", ErrConnectionLost, cause))
	}
}

// Shutdown stops the engine. The connection and process are released even
// when the graceful shutdown request fails. Shutting down a stopped client
// is a no-op.
func (c *Client) Shutdown(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	s := c.session.Load()
	if s == nil || !c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}
	s.closing.Store(true)

	// The caller's context may already be cancelled; the graceful part still
	// gets its own bounded window.
	sctx, cancel := context.WithTimeout(xcontext.Detach(ctx), c.config.ShutdownTimeout)
	defer cancel()
	sctx, stop := s.bind(sctx)
	defer stop()

	graceful := s.server.Shutdown(sctx)
	if graceful == nil {
		graceful = s.server.Exit(sctx)
	}
	if graceful != nil {
		c.logger.Warn("graceful shutdown failed", zap.Error(s.causeOf(sctx, graceful)))
	}

	err := s.release()
	c.session.Store(nil)
	c.state.Store(int32(StateStopped))
	c.logger.Info("PolyDB LSP stopped")

	if err != nil {
		return newError(KindTransport, OpShutdown, err.Error(), err)
	}
	return nil
}

// bind derives a context that is also cancelled, with the session's cause,
// when the connection ends.
func (s *session) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(s.ctx, func() {
		cancel(context.Cause(s.ctx))
	})
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// causeOf prefers the reason ctx ended over the error the call returned.
func (s *session) causeOf(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	return context.Cause(ctx)
}

// exitStatus returns the process exit error if it has already exited.
func (s *session) exitStatus() error {
	select {
	case <-s.proc.Done():
		return s.proc.Wait()
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// release closes the connection and kills the process. It is safe to call
// more than once.
func (s *session) release() error {
	s.releaseOnce.Do(func() {
		s.cancel(ErrConnectionLost)
		err := multierr.Append(ignoreClosed(s.conn.Close()), s.proc.Kill())
		<-s.proc.Done()
		s.releaseErr = err
	})
	return s.releaseErr
}

// active returns the running session or a not-running error for op. A
// session whose connection already ended counts as not running, even before
// the monitor has moved the state to Stopped.
func (c *Client) active(op Op) (*session, error) {
	s := c.session.Load()
	if s != nil && c.State() == StateRunning && s.ctx.Err() == nil {
		return s, nil
	}
	if !c.Configured() {
		return nil, newError(KindConfiguration, op,
			"PolyDB LSP path not configured. Please set polydb.lsp.path in settings.", ErrNotConfigured)
	}
	return nil, newError(KindConfiguration, op, ErrNotRunning.Error(), ErrNotRunning)
}

// call issues one request and blocks until its response, the connection
// ends, the request timeout fires or ctx is done.
func (c *Client) call(ctx context.Context, op Op, method string, params any) (json.RawMessage, error) {
	s, err := c.active(op)
	if err != nil {
		return nil, err
	}

	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.config.RequestTimeout, ErrRequestTimeout)
		defer cancel()
	}
	ctx, stop := s.bind(ctx)
	defer stop()

	start := time.Now()
	var result json.RawMessage
	err = protocol.Call(ctx, s.conn, method, params, &result)
	c.logger.Debug("request finished",
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	if err != nil {
		return nil, classify(op, s.causeOf(ctx, err))
	}
	return result, nil
}

func classify(op Op, err error) error {
	var rpcErr *jsonrpc2.Error
	switch {
	case errors.Is(err, ErrConnectionLost):
		return newError(KindTransport, op, ErrConnectionLost.Error(), err)
	case errors.Is(err, ErrRequestTimeout):
		return newError(KindTransport, op, ErrRequestTimeout.Error(), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(KindTransport, op, "request abandoned: "+err.Error(), err)
	case errors.As(err, &rpcErr):
		return newError(KindRemote, op, rpcErr.Message, err)
	default:
		return newError(KindTransport, op, err.Error(), err)
	}
}
