package graph

import "context"

// OpenOptions mirror the client-open flags the session client relies on.
type OpenOptions struct {
	// NoStartServer forbids the backend from launching the graph service.
	NoStartServer bool
}

// SessionEventType selects what a session notification asks clients to do.
type SessionEventType int

const (
	SessionSave SessionEventType = iota + 1
	SessionSaveAndQuit
	SessionSaveTemplate
)

func (t SessionEventType) String() string {
	switch t {
	case SessionSave:
		return "save"
	case SessionSaveAndQuit:
		return "save_and_quit"
	case SessionSaveTemplate:
		return "save_template"
	default:
		return "unknown"
	}
}

// SessionFlags are the per-participant status bits of a save reply.
type SessionFlags uint32

const (
	SessionSaveError    SessionFlags = 0x01
	SessionNeedTerminal SessionFlags = 0x02
)

// SessionCommand is one participant's reply to a session notification.
type SessionCommand struct {
	UUID       string
	ClientName string
	Command    string
	Flags      SessionFlags
}

// NotifyRequest scopes a session notification. An empty Target addresses
// every client.
type NotifyRequest struct {
	Target string
	Type   SessionEventType
	Path   string
}

// RegistrationFunc observes client (de)registration. Backends may call it
// from their own goroutines.
type RegistrationFunc func(name string, registering bool)

// PortLister enumerates full port names ("client:port").
type PortLister interface {
	Ports() ([]string, error)
}

// Backend opens client connections to the audio-graph service.
type Backend interface {
	Open(name string, opts OpenOptions) (Conn, error)
}

// Conn is one open client connection.
type Conn interface {
	PortLister
	Activate() error
	Deactivate() error
	Close() error
	OnClientRegistration(fn RegistrationFunc) error
	SessionNotify(ctx context.Context, req NotifyRequest) ([]SessionCommand, error)
}
