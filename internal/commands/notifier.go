package commands

import (
	"fmt"
	"io"
	"sync"

	"go.lsp.dev/protocol"

	"github.com/hyperpolymath/poly-db-lsp/internal/rpc"
)

// Level is the severity of a notification.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notifier shows single-line messages to the user.
type Notifier interface {
	Info(message string)
	Warn(message string)
	Error(message string)
}

// WriterNotifier writes information to Out and problems to Err.
type WriterNotifier struct {
	Out io.Writer
	Err io.Writer

	mu sync.Mutex
}

func (n *WriterNotifier) Info(message string) { n.write(n.Out, "", message) }

func (n *WriterNotifier) Warn(message string) { n.write(n.Err, "warning: ", message) }

func (n *WriterNotifier) Error(message string) { n.write(n.Err, "error: ", message) }

func (n *WriterNotifier) write(w io.Writer, prefix, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(w, "%s%s\n", prefix, message)
}

// Notification is one recorded message.
type Notification struct {
	Level   Level
	Message string
}

// Recorder keeps every notification. It is safe for concurrent use.
type Recorder struct {
	mu            sync.Mutex
	notifications []Notification
}

func (r *Recorder) Info(message string) { r.add(LevelInfo, message) }

func (r *Recorder) Warn(message string) { r.add(LevelWarning, message) }

func (r *Recorder) Error(message string) { r.add(LevelError, message) }

func (r *Recorder) add(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, Notification{Level: level, Message: message})
}

// Notifications returns a copy of everything recorded so far.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}

// Reset forgets recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = nil
}

// Sink adapts n to receive the engine's window/showMessage notifications.
func Sink(n Notifier) rpc.MessageSink {
	return sink{n}
}

type sink struct {
	n Notifier
}

func (s sink) ShowMessage(typ protocol.MessageType, message string) {
	switch typ {
	case protocol.MessageTypeError:
		s.n.Error(message)
	case protocol.MessageTypeWarning:
		s.n.Warn(message)
	default:
		s.n.Info(message)
	}
}
