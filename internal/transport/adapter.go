package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/danmuck/njsm/internal/protocol/osc"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnection = errors.New("transport: connection failed")
	ErrClosed     = errors.New("transport: closed")
)

const (
	DefaultPollInterval = 200 * time.Millisecond
	maxDatagramSize     = 64 * 1024
)

// Handler consumes one message. Returning 0 marks the message handled;
// Stop marks it handled and drops the rest of its packet; any other value
// passes it on to the next matching handler.
type Handler func(msg *osc.Message, from net.Addr) int

// Stop is the Handler result that ends dispatch of the current packet.
const Stop = -1

type method struct {
	path    string
	types   string
	handler Handler
}

// Adapter sends and receives OSC messages on one local UDP server socket.
type Adapter struct {
	peer     osc.Address
	peerAddr *net.UDPAddr
	conn     *net.UDPConn
	poll     time.Duration
	buf      []byte

	mu      sync.Mutex
	methods []method

	closeOnce sync.Once
	closeErr  error
}

// New resolves peerURL and binds a local server on an automatically chosen port.
func New(peerURL string) (*Adapter, error) {
	peer, err := osc.ParseURL(peerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	peerAddr, err := net.ResolveUDPAddr("udp", peer.HostPort())
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %w", ErrConnection, peer.URL(), err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: listen: %w", ErrConnection, err)
	}
	a := &Adapter{
		peer:     peer,
		peerAddr: peerAddr,
		conn:     conn,
		poll:     DefaultPollInterval,
		buf:      make([]byte, maxDatagramSize),
	}
	log.Debug().Msgf("transport.Adapter.New peer=%q local=%q", peer.URL(), a.LocalURL())
	return a, nil
}

// Peer returns the resolved daemon address.
func (a *Adapter) Peer() net.Addr {
	return a.peerAddr
}

// LocalAddr returns the bound server address.
func (a *Adapter) LocalAddr() net.Addr {
	return a.conn.LocalAddr()
}

// LocalURL renders the server address in osc.udp:// form.
func (a *Adapter) LocalURL() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	port := 0
	if udp, ok := a.conn.LocalAddr().(*net.UDPAddr); ok {
		port = udp.Port
	}
	return osc.Address{Proto: osc.ProtoUDP, Host: host, Port: port}.URL()
}

// Send writes one message to addr from the server socket. A nil addr sends
// to the peer.
func (a *Adapter) Send(addr net.Addr, path string, args ...any) error {
	if addr == nil {
		addr = a.peerAddr
	}
	payload, err := osc.Encode(osc.NewMessage(path, args...))
	if err != nil {
		return err
	}
	if _, err := a.conn.WriteTo(payload, addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	log.Trace().Msgf("transport.Adapter.Send to=%s path=%q args=%d", addr, path, len(args))
	return nil
}

// AddMethod registers handler for an exact path and signature. A later
// registration for the same pair replaces the earlier one.
func (a *Adapter) AddMethod(path, types string, handler Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.methods {
		if a.methods[i].path == path && a.methods[i].types == types {
			a.methods[i].handler = handler
			return
		}
	}
	a.methods = append(a.methods, method{path: path, types: types, handler: handler})
}

// RemoveMethod unregisters the handler for path and signature, if any.
func (a *Adapter) RemoveMethod(path, types string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.methods {
		if a.methods[i].path == path && a.methods[i].types == types {
			a.methods = append(a.methods[:i], a.methods[i+1:]...)
			return
		}
	}
}

// ReceiveOnce blocks until one packet arrives or ctx is done, then dispatches
// every message in it. It reports whether any handler consumed a message.
// Malformed packets are dropped.
func (a *Adapter) ReceiveOnce(ctx context.Context) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		deadline := time.Now().Add(a.poll)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := a.conn.SetReadDeadline(deadline); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return false, ErrClosed
			}
			return false, err
		}

		n, from, err := a.conn.ReadFrom(a.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return false, ErrClosed
			}
			return false, err
		}

		msgs, err := osc.DecodePacket(a.buf[:n])
		if err != nil {
			log.Warn().Msgf("transport.Adapter.ReceiveOnce drop from=%s bytes=%d err=%v", from, n, err)
			return false, nil
		}
		handled := false
		for i, msg := range msgs {
			ok, stop := a.dispatch(msg, from)
			if ok {
				handled = true
			}
			if stop {
				if rest := len(msgs) - i - 1; rest > 0 {
					log.Debug().Msgf("transport.Adapter.ReceiveOnce stop path=%q skipped=%d", msg.Address, rest)
				}
				break
			}
		}
		return handled, nil
	}
}

// dispatch reports whether a handler consumed msg and whether it asked to
// stop the packet.
func (a *Adapter) dispatch(msg *osc.Message, from net.Addr) (bool, bool) {
	types, err := msg.TypeTags()
	if err != nil {
		return false, false
	}
	for _, h := range a.match(msg.Address, types) {
		switch h(msg, from) {
		case 0:
			return true, false
		case Stop:
			return true, true
		}
	}
	log.Debug().Msgf("transport.Adapter.dispatch unhandled path=%q types=%q from=%s", msg.Address, types, from)
	return false, false
}

// match snapshots handlers so they may add or remove methods while running.
func (a *Adapter) match(path, types string) []Handler {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Handler, 0, 1)
	for _, m := range a.methods {
		if m.path == path && m.types == types {
			out = append(out, m.handler)
		}
	}
	return out
}

// Close releases the server socket. Safe to call more than once.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.conn.Close()
	})
	return a.closeErr
}

