// Package jackexec drives a JACK server through its command-line tools.
//
// jack_wait checks for a running server, jack_lsp lists ports, jack_evmon
// streams client registration events and jack_session_notify issues session
// saves. The backend never starts a server.
package jackexec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/njsm/internal/graph"
	"github.com/danmuck/njsm/internal/tools"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var (
	ErrServerNotRunning  = errors.New("jackexec: server not running")
	ErrClosed            = errors.New("jackexec: connection closed")
	ErrUnsupportedNotify = errors.New("jackexec: unsupported session notification")
)

// Config names the JACK tools to run.
type Config struct {
	WaitCommand    string
	LspCommand     string
	MonitorCommand string
	NotifyCommand  string
	// LineBufferCommand wraps the monitor as "<cmd> -oL <monitor>" so events
	// arrive per line through the pipe. Empty runs the monitor directly.
	LineBufferCommand string
}

func DefaultConfig() Config {
	return Config{
		WaitCommand:       "jack_wait",
		LspCommand:        "jack_lsp",
		MonitorCommand:    "jack_evmon",
		NotifyCommand:     "jack_session_notify",
		LineBufferCommand: "stdbuf",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.WaitCommand) == "" {
		c.WaitCommand = def.WaitCommand
	}
	if strings.TrimSpace(c.LspCommand) == "" {
		c.LspCommand = def.LspCommand
	}
	if strings.TrimSpace(c.MonitorCommand) == "" {
		c.MonitorCommand = def.MonitorCommand
	}
	if strings.TrimSpace(c.NotifyCommand) == "" {
		c.NotifyCommand = def.NotifyCommand
	}
	return c
}

func (c Config) monitorArgv() (string, []string) {
	if wrap := strings.TrimSpace(c.LineBufferCommand); wrap != "" {
		return wrap, []string{"-oL", c.MonitorCommand}
	}
	return c.MonitorCommand, nil
}

// Backend opens graph connections backed by JACK tool invocations.
type Backend struct {
	cfg      Config
	runner   tools.CommandRunner
	streamer tools.LineStreamer
}

var _ graph.Backend = (*Backend)(nil)

func New(cfg Config, runner tools.CommandRunner, streamer tools.LineStreamer) *Backend {
	return &Backend{cfg: cfg.withDefaults(), runner: runner, streamer: streamer}
}

// NewExec returns a Backend running the tools on the local host.
func NewExec(cfg Config) *Backend {
	runner := tools.ExecRunner{}
	return New(cfg, runner, runner)
}

// Open checks that a server is running. The name is only used for logging;
// the tools connect under their own client names.
func (b *Backend) Open(name string, opts graph.OpenOptions) (graph.Conn, error) {
	stdout, stderr, code, err := b.runner.Run(b.cfg.WaitCommand, "-c")
	out := strings.TrimSpace(string(stdout))
	if err != nil || strings.Contains(out, "not running") {
		return nil, fmt.Errorf(
			"%w: %s exit=%d stdout=%q stderr=%q",
			ErrServerNotRunning,
			b.cfg.WaitCommand,
			code,
			out,
			strings.TrimSpace(string(stderr)),
		)
	}
	log.Debug().Msgf("jackexec.Backend.Open name=%q no_start_server=%v", name, opts.NoStartServer)
	return &Conn{backend: b, name: name}, nil
}

// Conn is one logical client of the JACK server.
type Conn struct {
	backend *Backend
	name    string

	mu      sync.Mutex
	onReg   graph.RegistrationFunc
	cancel  context.CancelFunc
	monitor *conc.WaitGroup
	active  bool
	closed  bool
}

var _ graph.Conn = (*Conn)(nil)

func (c *Conn) OnClientRegistration(fn graph.RegistrationFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.onReg = fn
	return nil
}

// Activate starts the registration monitor when a callback is installed.
func (c *Conn) Activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.active {
		return nil
	}
	if c.onReg != nil {
		c.startMonitorLocked()
	}
	c.active = true
	return nil
}

func (c *Conn) startMonitorLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	onReg := c.onReg
	cmd, args := c.backend.cfg.monitorArgv()
	wg := conc.NewWaitGroup()
	wg.Go(func() {
		err := c.backend.streamer.Stream(ctx, func(line string) {
			if name, registering, ok := ParseMonitorLine(line); ok {
				onReg(name, registering)
			}
		}, cmd, args...)
		if err != nil && ctx.Err() == nil {
			log.Warn().Msgf("jackexec.Conn.monitor stopped cmd=%q err=%v", cmd, err)
		}
	})
	c.cancel = cancel
	c.monitor = wg
}

func (c *Conn) Deactivate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.stopMonitorLocked()
	c.active = false
	return nil
}

func (c *Conn) stopMonitorLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.monitor.Wait()
	c.cancel = nil
	c.monitor = nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.stopMonitorLocked()
	c.active = false
	c.closed = true
	return nil
}

func (c *Conn) Ports() ([]string, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	stdout, stderr, code, err := c.backend.runner.Run(c.backend.cfg.LspCommand)
	if err != nil {
		return nil, fmt.Errorf(
			"jackexec: %s exit=%d stderr=%q: %w",
			c.backend.cfg.LspCommand,
			code,
			strings.TrimSpace(string(stderr)),
			err,
		)
	}
	return nonEmptyLines(string(stdout)), nil
}

// SessionNotify runs one session notification for all clients. The tool
// only lists participants that answered, so every result carries zero flags
// and failures surface through its exit status.
func (c *Conn) SessionNotify(ctx context.Context, req graph.NotifyRequest) ([]graph.SessionCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, ErrClosed
	}
	if req.Target != "" {
		return nil, fmt.Errorf("%w: targeted notify %q", ErrUnsupportedNotify, req.Target)
	}
	verb, ok := notifyVerb(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: type %s", ErrUnsupportedNotify, req.Type)
	}

	stdout, stderr, code, err := c.backend.runner.Run(c.backend.cfg.NotifyCommand, verb, req.Path)
	if err != nil {
		return nil, fmt.Errorf(
			"jackexec: %s %s exit=%d stderr=%q: %w",
			c.backend.cfg.NotifyCommand,
			verb,
			code,
			strings.TrimSpace(string(stderr)),
			err,
		)
	}
	return ParseNotifyOutput(string(stdout), req.Path), nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func notifyVerb(t graph.SessionEventType) (string, bool) {
	switch t {
	case graph.SessionSave:
		return "save", true
	case graph.SessionSaveAndQuit:
		return "quit", true
	case graph.SessionSaveTemplate:
		return "save_template", true
	default:
		return "", false
	}
}

const (
	monitorPrefix       = "Client "
	monitorRegistered   = " registered"
	monitorUnregistered = " unregistered"
	sessionDirPrefix    = `export SESSION_DIR="`
)

// ParseMonitorLine parses "Client <name> registered|unregistered".
func ParseMonitorLine(line string) (string, bool, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, monitorPrefix) {
		return "", false, false
	}
	rest := strings.TrimPrefix(line, monitorPrefix)
	switch {
	case strings.HasSuffix(rest, monitorUnregistered):
		name := strings.TrimSuffix(rest, monitorUnregistered)
		return name, false, name != ""
	case strings.HasSuffix(rest, monitorRegistered):
		name := strings.TrimSuffix(rest, monitorRegistered)
		return name, true, name != ""
	default:
		return "", false, false
	}
}

// ParseNotifyOutput extracts participants from the per-client
// `export SESSION_DIR="<path><client>/"` lines.
func ParseNotifyOutput(out, path string) []graph.SessionCommand {
	results := make([]graph.SessionCommand, 0)
	for _, line := range nonEmptyLines(out) {
		if !strings.HasPrefix(line, sessionDirPrefix) {
			continue
		}
		dir := strings.TrimSuffix(strings.TrimPrefix(line, sessionDirPrefix), `"`)
		name := strings.Trim(strings.TrimPrefix(dir, path), "/")
		if name == "" {
			continue
		}
		results = append(results, graph.SessionCommand{ClientName: name})
	}
	return results
}

func nonEmptyLines(s string) []string {
	out := make([]string, 0)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
