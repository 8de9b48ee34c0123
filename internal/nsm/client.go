package nsm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/danmuck/njsm/internal/protocol/osc"
	"github.com/danmuck/njsm/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrServerURLRequired = errors.New("nsm: server url required")
	ErrHandshakeTimeout  = errors.New("nsm: announce handshake timed out")
	ErrAnnounceRejected  = errors.New("nsm: announce rejected")
	ErrNotReady          = errors.New("nsm: client not ready")
)

type State int

const (
	StateDisconnected State = iota
	StateAnnouncing
	StateReady
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAnnouncing:
		return "announcing"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is the graph-side work behind open and save requests.
type Session interface {
	Activate(clientName string) error
	SetSaveDirectory(path string)
	Save(ctx context.Context) error
}

// Client speaks the session protocol to one daemon.
type Client struct {
	cfg       Config
	transport *transport.Adapter
	session   Session

	mu     sync.Mutex
	state  State
	server ServerInfo

	// set for the duration of Run; handlers run on the Run goroutine
	runCtx context.Context
	fatal  error
}

// NewClient builds the transport to cfg.ServerURL. The client starts
// disconnected; Announce moves it to ready.
func NewClient(cfg Config, session Session) (*Client, error) {
	cfg = cfg.WithDefaults()
	if cfg.ServerURL == "" {
		return nil, ErrServerURLRequired
	}
	if session == nil {
		return nil, errors.New("nsm: session required")
	}
	tr, err := transport.New(cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:       cfg,
		transport: tr,
		session:   session,
		state:     StateDisconnected,
		runCtx:    context.Background(),
	}, nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Server returns the acknowledgment captured during Announce.
func (c *Client) Server() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// LocalAddr is the address the daemon sees requests come from.
func (c *Client) LocalAddr() net.Addr {
	return c.transport.LocalAddr()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != s {
		log.Debug().Msgf("nsm.Client state %s -> %s", c.state, s)
	}
	c.state = s
}

// Announce sends the announce request and blocks until the daemon
// acknowledges it, rejects it, or the handshake timeout elapses.
func (c *Client) Announce(ctx context.Context) error {
	switch st := c.State(); st {
	case StateReady:
		return nil
	case StateDisconnected:
	default:
		return fmt.Errorf("nsm: announce from state %s", st)
	}
	c.setState(StateAnnouncing)

	var ack *ServerInfo
	var rejected error
	c.transport.AddMethod(PathReply, SigAnnounceReply, func(msg *osc.Message, _ net.Addr) int {
		if path, _ := msg.String(0); path != PathAnnounce {
			return 1
		}
		info := ServerInfo{}
		info.Message, _ = msg.String(1)
		info.Name, _ = msg.String(2)
		info.Capabilities, _ = msg.String(3)
		ack = &info
		return 0
	})
	c.transport.AddMethod(PathError, SigError, func(msg *osc.Message, _ net.Addr) int {
		if path, _ := msg.String(0); path != PathAnnounce {
			return 1
		}
		code, _ := msg.Int32(1)
		text, _ := msg.String(2)
		rejected = fmt.Errorf("%w: code=%d message=%q", ErrAnnounceRejected, code, text)
		return 0
	})
	defer func() {
		c.transport.RemoveMethod(PathReply, SigAnnounceReply)
		c.transport.RemoveMethod(PathError, SigError)
	}()

	log.Debug().Msgf(
		"nsm.Client.Announce send name=%q capabilities=%q exe=%q pid=%d local=%q",
		c.cfg.ClientName,
		c.cfg.Capabilities,
		c.cfg.Executable,
		c.cfg.PID,
		c.transport.LocalURL(),
	)
	err := c.transport.Send(nil, PathAnnounce,
		c.cfg.ClientName,
		c.cfg.Capabilities,
		c.cfg.Executable,
		int32(ProtocolMajor),
		int32(ProtocolMinor),
		int32(c.cfg.PID),
	)
	if err != nil {
		c.setState(StateTerminated)
		return fmt.Errorf("%w: send announce: %w", transport.ErrConnection, err)
	}

	waitCtx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}
	for ack == nil && rejected == nil {
		if _, err := c.transport.ReceiveOnce(waitCtx); err != nil {
			c.setState(StateTerminated)
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("%w: after %s", ErrHandshakeTimeout, c.cfg.HandshakeTimeout)
			}
			return err
		}
	}
	if rejected != nil {
		c.setState(StateTerminated)
		return rejected
	}

	c.mu.Lock()
	c.server = *ack
	c.mu.Unlock()
	log.Info().Msgf("nsm.Client.Announce connected server=%q message=%q", ack.Name, ack.Message)

	c.transport.AddMethod(PathOpen, SigOpen, c.handleOpen)
	c.transport.AddMethod(PathSave, SigSave, c.handleSave)
	c.setState(StateReady)
	return nil
}

// Run dispatches daemon requests until ctx is done (nil) or a request
// fails (that request's error).
func (c *Client) Run(ctx context.Context) error {
	if st := c.State(); st != StateReady {
		return fmt.Errorf("%w: state=%s", ErrNotReady, st)
	}
	c.runCtx = ctx
	defer func() { c.runCtx = context.Background() }()

	for {
		_, err := c.transport.ReceiveOnce(ctx)
		if c.fatal != nil {
			c.setState(StateTerminated)
			return c.fatal
		}
		if err != nil {
			c.setState(StateTerminated)
			if ctx.Err() != nil {
				log.Debug().Msgf("nsm.Client.Run stop reason=%v", ctx.Err())
				return nil
			}
			return err
		}
	}
}

func (c *Client) handleOpen(msg *osc.Message, _ net.Addr) int {
	req := OpenRequest{}
	req.Path, _ = msg.String(0)
	req.DisplayName, _ = msg.String(1)
	req.ClientID, _ = msg.String(2)
	log.Info().Msgf("nsm.Client.open path=%q name=%q client_id=%q", req.Path, req.DisplayName, req.ClientID)

	if err := c.session.Activate(req.ClientID); err != nil {
		c.fail(PathOpen, err)
		return transport.Stop
	}
	c.session.SetSaveDirectory(req.Path)
	c.reply(PathOpen)
	return 0
}

func (c *Client) handleSave(_ *osc.Message, _ net.Addr) int {
	log.Info().Msg("nsm.Client.save")
	if err := c.session.Save(c.runCtx); err != nil {
		c.fail(PathSave, err)
		return transport.Stop
	}
	c.reply(PathSave)
	return 0
}

func (c *Client) reply(path string) {
	if err := c.transport.Send(nil, PathReply, path, ""); err != nil {
		log.Warn().Msgf("nsm.Client.reply path=%q err=%v", path, err)
		return
	}
	log.Debug().Msgf("nsm.Client.reply path=%q", path)
}

func (c *Client) fail(path string, err error) {
	log.Error().Msgf("nsm.Client request failed path=%q err=%v", path, err)
	if c.fatal == nil {
		c.fatal = fmt.Errorf("nsm: %s: %w", path, err)
	}
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}
