// Package rpctest provides an in-memory PolyDB LSP engine for tests. The
// engine speaks real JSON-RPC over a net.Pipe and doubles as an
// rpc.Launcher, so clients can be started without spawning processes.
package rpctest

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/hyperpolymath/poly-db-lsp/internal/rpc"
)

// HandlerFunc answers one request. Returning an error sends a JSON-RPC
// error response carrying its message.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Message is a request or notification received by the engine.
type Message struct {
	Method string
	Params json.RawMessage
}

// Engine is a scripted engine.
type Engine struct {
	// ServerInfo is returned from initialize.
	ServerInfo protocol.ServerInfo
	// LaunchErr makes Launch fail, as if the executable were missing.
	LaunchErr error
	// ExitOnLaunch makes the process exit before answering anything.
	ExitOnLaunch bool

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	received []Message
	launches []rpc.LaunchSpec
	current  *process
	conn     jsonrpc2.Conn
	notify   chan struct{}
}

// NewEngine returns an engine that completes the handshake and answers
// shutdown. Custom methods have no handler until Handle is called.
func NewEngine() *Engine {
	e := &Engine{
		ServerInfo: protocol.ServerInfo{Name: "polydb-lsp", Version: "test"},
		handlers:   make(map[string]HandlerFunc),
		notify:     make(chan struct{}, 1),
	}
	e.Handle(protocol.MethodInitialize, func(ctx context.Context, params json.RawMessage) (any, error) {
		return &protocol.InitializeResult{ServerInfo: &e.ServerInfo}, nil
	})
	e.Handle(protocol.MethodShutdown, func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, nil
	})
	return e
}

// Handle installs fn for method, replacing any previous handler.
func (e *Engine) Handle(method string, fn HandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[method] = fn
}

// Respond installs a handler that always returns result.
func (e *Engine) Respond(method string, result any) {
	e.Handle(method, func(ctx context.Context, params json.RawMessage) (any, error) {
		return result, nil
	})
}

// Fail installs a handler that always fails with message.
func (e *Engine) Fail(method, message string) {
	e.Handle(method, func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, jsonrpc2.NewError(jsonrpc2.InternalError, message)
	})
}

// Launch implements rpc.Launcher.
func (e *Engine) Launch(ctx context.Context, spec rpc.LaunchSpec) (rpc.Process, error) {
	e.mu.Lock()
	e.launches = append(e.launches, spec)
	launchErr := e.LaunchErr
	e.mu.Unlock()

	if launchErr != nil {
		return nil, launchErr
	}

	clientSide, engineSide := net.Pipe()
	p := &process{Conn: clientSide, engine: engineSide, done: make(chan struct{})}

	e.mu.Lock()
	e.current = p
	e.mu.Unlock()

	if e.ExitOnLaunch {
		p.exit(errors.New("exit status 1"))
		return p, nil
	}

	go func() {
		e.Serve(context.Background(), engineSide)
		p.exit(nil)
	}()
	return p, nil
}

// Serve answers messages on rwc until it is closed or an exit
// notification arrives.
func (e *Engine) Serve(ctx context.Context, rwc io.ReadWriteCloser) {
	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(rwc))
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()

	conn.Go(ctx, func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		e.record(req)

		if _, isCall := req.(*jsonrpc2.Call); !isCall {
			if req.Method() == protocol.MethodExit {
				return conn.Close()
			}
			return nil
		}

		e.mu.Lock()
		fn, ok := e.handlers[req.Method()]
		e.mu.Unlock()
		if !ok {
			return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
		}

		// Handlers run concurrently so responses may go out of order.
		go func() {
			result, err := fn(ctx, req.Params())
			_ = reply(ctx, result, err)
		}()
		return nil
	})
	<-conn.Done()
}

// Crash kills the current process as if it died with a non-zero status.
func (e *Engine) Crash() {
	e.mu.Lock()
	p := e.current
	e.mu.Unlock()
	if p != nil {
		p.exit(errors.New("exit status 2"))
	}
}

// ShowMessage sends a window/showMessage notification to the client.
func (e *Engine) ShowMessage(ctx context.Context, typ protocol.MessageType, message string) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return errors.New("engine not serving")
	}

	return conn.Notify(ctx, protocol.MethodWindowShowMessage, &protocol.ShowMessageParams{
		Type:    typ,
		Message: message,
	})
}

// Launches returns the specs passed to Launch.
func (e *Engine) Launches() []rpc.LaunchSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]rpc.LaunchSpec(nil), e.launches...)
}

// Received returns the messages received for method.
func (e *Engine) Received(method string) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Message
	for _, m := range e.received {
		if m.Method == method {
			out = append(out, m)
		}
	}
	return out
}

// WaitFor blocks until at least n messages for method have arrived or the
// timeout elapses, and returns what arrived.
func (e *Engine) WaitFor(method string, n int, timeout time.Duration) []Message {
	deadline := time.After(timeout)
	for {
		if got := e.Received(method); len(got) >= n {
			return got
		}
		select {
		case <-e.notify:
		case <-deadline:
			return e.Received(method)
		}
	}
}

func (e *Engine) record(req jsonrpc2.Request) {
	e.mu.Lock()
	e.received = append(e.received, Message{Method: req.Method(), Params: req.Params()})
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// process is the client's end of the pipe.
type process struct {
	net.Conn
	engine net.Conn

	once    sync.Once
	done    chan struct{}
	exitErr error
}

func (p *process) exit(err error) {
	p.once.Do(func() {
		p.exitErr = err
		p.engine.Close()
		p.Conn.Close()
		close(p.done)
	})
}

func (p *process) Pid() int { return 0 }

func (p *process) Kill() error {
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Wait() error {
	<-p.done
	return p.exitErr
}
