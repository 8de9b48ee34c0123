// Package memgraph is an in-process audio-graph service for dry runs and tests.
package memgraph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/danmuck/njsm/internal/graph"
)

var (
	ErrServerNotRunning = errors.New("memgraph: server not running")
	ErrClientExists     = errors.New("memgraph: client name in use")
	ErrClosed           = errors.New("memgraph: connection closed")
)

// Service is a fake graph server holding clients and their ports.
type Service struct {
	mu            sync.Mutex
	running       bool
	clients       map[string][]string
	uuids         map[string]string
	nextUUID      int
	subscribers   map[*Conn]graph.RegistrationFunc
	activateErr   error
	notifyErr     error
	results       []graph.SessionCommand
	resultsSet    bool
	opens         int
	notifications []graph.NotifyRequest
}

var _ graph.Backend = (*Service)(nil)

// New returns a running service with no clients.
func New() *Service {
	return &Service{
		running:     true,
		clients:     make(map[string][]string),
		uuids:       make(map[string]string),
		nextUUID:    1,
		subscribers: make(map[*Conn]graph.RegistrationFunc),
	}
}

// Stop marks the server absent; opens fail unless they may start it.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// FailActivate makes every later Conn.Activate return err.
func (s *Service) FailActivate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activateErr = err
}

// FailNotify makes every later SessionNotify return err.
func (s *Service) FailNotify(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyErr = err
}

// SetSaveResults fixes the participant list returned by SessionNotify.
// Without it, every other registered client answers with zero flags.
func (s *Service) SetSaveResults(results ...graph.SessionCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append([]graph.SessionCommand(nil), results...)
	s.resultsSet = true
}

// Opens reports how many Open calls reached the server.
func (s *Service) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *Service) Notifications() []graph.NotifyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]graph.NotifyRequest(nil), s.notifications...)
}

// RegisterClient adds an external client with the given port short names.
func (s *Service) RegisterClient(name string, ports ...string) {
	s.mu.Lock()
	s.addClientLocked(name, ports)
	subs := s.subscribersLocked(nil)
	s.mu.Unlock()
	notify(subs, name, true)
}

// UnregisterClient removes an external client and its ports.
func (s *Service) UnregisterClient(name string) {
	s.mu.Lock()
	_, ok := s.clients[name]
	delete(s.clients, name)
	delete(s.uuids, name)
	subs := s.subscribersLocked(nil)
	s.mu.Unlock()
	if ok {
		notify(subs, name, false)
	}
}

// Clients returns registered client names in order.
func (s *Service) Clients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.clients))
	for name := range s.clients {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Service) Open(name string, opts graph.OpenOptions) (graph.Conn, error) {
	s.mu.Lock()
	s.opens++
	if !s.running {
		if opts.NoStartServer {
			s.mu.Unlock()
			return nil, ErrServerNotRunning
		}
		s.running = true
	}
	if _, ok := s.clients[name]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrClientExists, name)
	}
	s.addClientLocked(name, nil)
	conn := &Conn{svc: s, name: name}
	subs := s.subscribersLocked(conn)
	s.mu.Unlock()
	notify(subs, name, true)
	return conn, nil
}

func (s *Service) addClientLocked(name string, ports []string) {
	full := make([]string, 0, len(ports))
	for _, p := range ports {
		full = append(full, name+graph.PortSeparator+p)
	}
	s.clients[name] = full
	if _, ok := s.uuids[name]; !ok {
		s.uuids[name] = strconv.Itoa(s.nextUUID)
		s.nextUUID++
	}
}

func (s *Service) subscribersLocked(except *Conn) []graph.RegistrationFunc {
	out := make([]graph.RegistrationFunc, 0, len(s.subscribers))
	for c, fn := range s.subscribers {
		if c != except {
			out = append(out, fn)
		}
	}
	return out
}

// notify runs each callback on its own goroutine, as a real graph server
// would from its notification thread, and waits for all of them.
func notify(subs []graph.RegistrationFunc, name string, registering bool) {
	var wg sync.WaitGroup
	for _, fn := range subs {
		wg.Add(1)
		go func(fn graph.RegistrationFunc) {
			defer wg.Done()
			fn(name, registering)
		}(fn)
	}
	wg.Wait()
}

// Conn is one client connection to a Service.
type Conn struct {
	svc    *Service
	name   string
	mu     sync.Mutex
	active bool
	closed bool
}

var _ graph.Conn = (*Conn)(nil)

func (c *Conn) Name() string {
	return c.name
}

func (c *Conn) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.svc.mu.Lock()
	err := c.svc.activateErr
	c.svc.mu.Unlock()
	if err != nil {
		return err
	}
	c.active = true
	return nil
}

func (c *Conn) Deactivate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.active = false
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	c.active = false
	c.mu.Unlock()

	s := c.svc
	s.mu.Lock()
	delete(s.subscribers, c)
	delete(s.clients, c.name)
	delete(s.uuids, c.name)
	subs := s.subscribersLocked(c)
	s.mu.Unlock()
	notify(subs, c.name, false)
	return nil
}

func (c *Conn) Ports() ([]string, error) {
	if c.Closed() {
		return nil, ErrClosed
	}
	s := c.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0)
	for _, ports := range s.clients {
		out = append(out, ports...)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Conn) OnClientRegistration(fn graph.RegistrationFunc) error {
	if c.Closed() {
		return ErrClosed
	}
	s := c.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[c] = fn
	return nil
}

func (c *Conn) SessionNotify(ctx context.Context, req graph.NotifyRequest) ([]graph.SessionCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Active() {
		return nil, errors.New("memgraph: session notify on inactive client")
	}
	s := c.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, req)
	if s.notifyErr != nil {
		return nil, s.notifyErr
	}
	if s.resultsSet {
		return append([]graph.SessionCommand(nil), s.results...), nil
	}

	names := make([]string, 0, len(s.clients))
	for name := range s.clients {
		if name == c.name {
			continue
		}
		if req.Target != "" && req.Target != name {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]graph.SessionCommand, 0, len(names))
	for _, name := range names {
		out = append(out, graph.SessionCommand{
			UUID:       s.uuids[name],
			ClientName: name,
			Command:    strings.Join([]string{name, "-U", s.uuids[name]}, " "),
		})
	}
	return out, nil
}
