package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State is the session client's position in its one-way lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateActivated
	StateConfigured
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActivated:
		return "activated"
	case StateConfigured:
		return "configured"
	default:
		return "unknown"
	}
}

type Option func(*SessionClient)

// WithRegistry enables client tracking: existing ports are scanned during
// activation and registration events keep reg current afterwards.
func WithRegistry(reg *Registry) Option {
	return func(c *SessionClient) {
		c.registry = reg
	}
}

// SessionClient owns one connection to the audio-graph service.
type SessionClient struct {
	backend  Backend
	registry *Registry

	mu        sync.Mutex
	conn      Conn
	name      string
	activated bool
	saveDir   string

	closeOnce sync.Once
	closeErr  error
}

func NewSessionClient(backend Backend, opts ...Option) *SessionClient {
	c := &SessionClient{backend: backend}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Activate opens the graph connection as clientName and brings it into the
// running state. It is a no-op once activated.
func (c *SessionClient) Activate(clientName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activated {
		log.Debug().Msgf("graph.SessionClient.Activate skip name=%q active=%q", clientName, c.name)
		return nil
	}

	if c.conn == nil {
		conn, err := c.backend.Open(clientName, OpenOptions{NoStartServer: true})
		if err != nil {
			return fmt.Errorf("%w: open client %q: %w", ErrConnection, clientName, err)
		}
		if conn == nil {
			return fmt.Errorf("%w: open client %q: no connection", ErrConnection, clientName)
		}
		c.conn = conn
		c.name = clientName

		if c.registry != nil {
			if err := conn.OnClientRegistration(c.registry.OnRegistration); err != nil {
				return fmt.Errorf("%w: registration callback: %w", ErrConnection, err)
			}
			if err := c.registry.ScanPorts(conn); err != nil {
				return fmt.Errorf("%w: scan ports: %w", ErrConnection, err)
			}
			log.Debug().Msgf("graph.SessionClient.Activate scanned clients=%d", c.registry.Len())
		}
	}

	if err := c.conn.Activate(); err != nil {
		return fmt.Errorf("%w: client %q: %w", ErrActivation, c.name, err)
	}
	c.activated = true
	log.Info().Msgf("graph.SessionClient.Activate ok name=%q", c.name)
	return nil
}

// SetSaveDirectory overwrites the directory used by Save.
func (c *SessionClient) SetSaveDirectory(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveDir = path
}

// Save notifies every graph client to save under the configured directory
// and fails if any participant reports a non-zero status.
func (c *SessionClient) Save(ctx context.Context) error {
	c.mu.Lock()
	dir, conn, activated := c.saveDir, c.conn, c.activated
	c.mu.Unlock()

	if dir == "" {
		return fmt.Errorf("%w: save directory unset", ErrConfiguration)
	}
	if !activated || conn == nil {
		return fmt.Errorf("%w: client not activated", ErrConfiguration)
	}

	saveID := uuid.NewString()
	path := sessionPath(dir)
	log.Info().Msgf("graph.SessionClient.Save start save_id=%s path=%q", saveID, path)

	results, err := conn.SessionNotify(ctx, NotifyRequest{Type: SessionSave, Path: path})
	if err != nil {
		return fmt.Errorf("%w: save_id=%s notify: %w", ErrSave, saveID, err)
	}
	if failed := failedParticipants(results); len(failed) > 0 {
		return fmt.Errorf("%w: save_id=%s participants=%s", ErrSave, saveID, strings.Join(failed, ","))
	}
	log.Info().Msgf("graph.SessionClient.Save ok save_id=%s participants=%d", saveID, len(results))
	return nil
}

// Close deactivates an active connection and releases it. Only the first
// call has any effect.
func (c *SessionClient) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn == nil {
			return
		}
		var errs []error
		if c.activated {
			if err := c.conn.Deactivate(); err != nil {
				log.Warn().Msgf("graph.SessionClient.Close deactivate name=%q err=%v", c.name, err)
				errs = append(errs, err)
			}
			c.activated = false
		}
		if err := c.conn.Close(); err != nil {
			log.Warn().Msgf("graph.SessionClient.Close release name=%q err=%v", c.name, err)
			errs = append(errs, err)
		}
		c.conn = nil
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func (c *SessionClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.activated:
		return StateUninitialized
	case c.saveDir == "":
		return StateActivated
	default:
		return StateConfigured
	}
}

func (c *SessionClient) SaveDirectory() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveDir
}

// Registry returns the tracked client set, or nil when tracking is off.
func (c *SessionClient) Registry() *Registry {
	return c.registry
}

// sessionPath ensures the trailing separator graph clients append their
// own names to.
func sessionPath(dir string) string {
	return strings.TrimRight(dir, "/") + "/"
}

func failedParticipants(results []SessionCommand) []string {
	var failed []string
	for _, r := range results {
		if r.Flags == 0 {
			continue
		}
		failed = append(failed, fmt.Sprintf("%s[uuid=%s flags=%#x]", r.ClientName, r.UUID, uint32(r.Flags)))
	}
	return failed
}
