package nsm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/danmuck/njsm/internal/graph"
	"github.com/danmuck/njsm/internal/graph/memgraph"
	"github.com/danmuck/njsm/internal/protocol/osc"
	"github.com/danmuck/njsm/internal/testutil/testlog"
	"github.com/danmuck/njsm/internal/transport"
	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaemon plays the session daemon on a loopback socket.
type fakeDaemon struct {
	t      *testing.T
	conn   *net.UDPConn
	client net.Addr
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &fakeDaemon{t: t, conn: conn}
}

func (d *fakeDaemon) url() string {
	return fmt.Sprintf("osc.udp://127.0.0.1:%d/", d.conn.LocalAddr().(*net.UDPAddr).Port)
}

func (d *fakeDaemon) read(timeout time.Duration) (*osc.Message, error) {
	buf := make([]byte, 64*1024)
	if err := d.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	n, from, err := d.conn.ReadFrom(buf)
	if err != nil {
		return nil, err
	}
	d.client = from
	msgs, err := osc.DecodePacket(buf[:n])
	if err != nil {
		return nil, err
	}
	return msgs[0], nil
}

func (d *fakeDaemon) expect(path string) *osc.Message {
	d.t.Helper()
	msg, err := d.read(2 * time.Second)
	require.NoError(d.t, err)
	require.Equal(d.t, path, msg.Address)
	return msg
}

func (d *fakeDaemon) expectSilence() {
	d.t.Helper()
	msg, err := d.read(200 * time.Millisecond)
	var netErr net.Error
	require.True(d.t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected message: %+v", msg)
}

func (d *fakeDaemon) send(path string, args ...any) {
	d.t.Helper()
	require.NotNil(d.t, d.client, "client address unknown")
	b, err := osc.Encode(osc.NewMessage(path, args...))
	require.NoError(d.t, err)
	_, err = d.conn.WriteTo(b, d.client)
	require.NoError(d.t, err)
}

func (d *fakeDaemon) sendBundle(msgs ...*goosc.Message) {
	d.t.Helper()
	require.NotNil(d.t, d.client, "client address unknown")
	bundle := goosc.NewBundle(time.Now())
	for _, msg := range msgs {
		require.NoError(d.t, bundle.Append(msg))
	}
	b, err := bundle.MarshalBinary()
	require.NoError(d.t, err)
	_, err = d.conn.WriteTo(b, d.client)
	require.NoError(d.t, err)
}

func (d *fakeDaemon) acceptAnnounce() {
	d.t.Helper()
	d.expect(PathAnnounce)
	d.send(PathReply, PathAnnounce, "Howdy, what took you so long?", "Non Session Manager", ":server-control:broadcast:")
}

type harness struct {
	daemon  *fakeDaemon
	graph   *memgraph.Service
	session *graph.SessionClient
	client  *Client
	runErr  chan error
	cancel  context.CancelFunc
}

func newClient(t *testing.T, d *fakeDaemon, session Session) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ServerURL = d.url()
	cfg.Executable = "njsm"
	cfg.PID = 4242
	cfg.HandshakeTimeout = 2 * time.Second
	client, err := NewClient(cfg, session)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func announce(t *testing.T, client *Client, d *fakeDaemon) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- client.Announce(context.Background()) }()
	d.acceptAnnounce()
	require.NoError(t, <-done)
}

// startReady announces against the fake daemon and starts Run.
func startReady(t *testing.T) *harness {
	t.Helper()
	testlog.Start(t)
	h := &harness{daemon: newFakeDaemon(t), graph: memgraph.New(), runErr: make(chan error, 1)}
	h.session = graph.NewSessionClient(h.graph)
	t.Cleanup(func() { _ = h.session.Close() })
	h.client = newClient(t, h.daemon, h.session)
	announce(t, h.client, h.daemon)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.client.Run(ctx) }()
	t.Cleanup(cancel)
	return h
}

func (h *harness) waitRun(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.runErr:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
		return nil
	}
}

func TestNewClientRequiresServerURL(t *testing.T) {
	testlog.Start(t)
	_, err := NewClient(Config{}, graph.NewSessionClient(memgraph.New()))
	assert.ErrorIs(t, err, ErrServerURLRequired)
}

func TestNewClientMalformedAddressFailsSynchronously(t *testing.T) {
	testlog.Start(t)
	start := time.Now()
	_, err := NewClient(Config{ServerURL: "osc.udp://localhost/"}, graph.NewSessionClient(memgraph.New()))
	assert.ErrorIs(t, err, transport.ErrConnection)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAnnounceSendsIdentityAndReachesReady(t *testing.T) {
	testlog.Start(t)
	d := newFakeDaemon(t)
	client := newClient(t, d, graph.NewSessionClient(memgraph.New()))
	assert.Equal(t, StateDisconnected, client.State())

	done := make(chan error, 1)
	go func() { done <- client.Announce(context.Background()) }()

	msg := d.expect(PathAnnounce)
	tags, err := msg.TypeTags()
	require.NoError(t, err)
	assert.Equal(t, "sssiii", tags)
	assert.Equal(t, []any{"NJSM", "::", "njsm", int32(1), int32(2), int32(4242)}, msg.Args)

	// unrelated replies are ignored while announcing
	d.send(PathReply, PathOpen, "", "", "")
	d.send(PathReply, PathAnnounce, "welcome", "nsmd", ":server-control:")
	require.NoError(t, <-done)

	assert.Equal(t, StateReady, client.State())
	assert.Equal(t, ServerInfo{Message: "welcome", Name: "nsmd", Capabilities: ":server-control:"}, client.Server())

	// the one-shot handler is gone once ready
	d.send(PathReply, PathAnnounce, "again", "nsmd", "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	handled, err := client.transport.ReceiveOnce(ctx)
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestAnnounceRejectedByDaemon(t *testing.T) {
	testlog.Start(t)
	d := newFakeDaemon(t)
	client := newClient(t, d, graph.NewSessionClient(memgraph.New()))

	done := make(chan error, 1)
	go func() { done <- client.Announce(context.Background()) }()
	d.expect(PathAnnounce)
	d.send(PathError, PathAnnounce, int32(-9), "Incompatible API version")

	err := <-done
	assert.ErrorIs(t, err, ErrAnnounceRejected)
	assert.Equal(t, StateTerminated, client.State())
}

func TestAnnounceTimesOut(t *testing.T) {
	testlog.Start(t)
	d := newFakeDaemon(t)
	cfg := DefaultConfig()
	cfg.ServerURL = d.url()
	cfg.HandshakeTimeout = 100 * time.Millisecond
	client, err := NewClient(cfg, graph.NewSessionClient(memgraph.New()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	err = client.Announce(context.Background())
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, StateTerminated, client.State())
}

func TestRunRequiresReady(t *testing.T) {
	testlog.Start(t)
	d := newFakeDaemon(t)
	client := newClient(t, d, graph.NewSessionClient(memgraph.New()))
	assert.ErrorIs(t, client.Run(context.Background()), ErrNotReady)
}

func TestOpenActivatesAndReplies(t *testing.T) {
	h := startReady(t)

	h.daemon.send(PathOpen, "/tmp/sess", "My App", "myapp")
	reply := h.daemon.expect(PathReply)
	assert.Equal(t, []any{PathOpen, ""}, reply.Args)

	assert.Equal(t, []string{"myapp"}, h.graph.Clients())
	assert.Equal(t, "/tmp/sess", h.session.SaveDirectory())
	assert.Equal(t, graph.StateConfigured, h.session.State())

	h.cancel()
	assert.NoError(t, h.waitRun(t))
	assert.Equal(t, StateTerminated, h.client.State())
}

func TestSaveAfterOpenReplies(t *testing.T) {
	h := startReady(t)
	h.graph.RegisterClient("ardour", "out_1")

	h.daemon.send(PathOpen, "/tmp/sess", "My App", "myapp")
	h.daemon.expect(PathReply)

	h.daemon.send(PathSave)
	reply := h.daemon.expect(PathReply)
	assert.Equal(t, []any{PathSave, ""}, reply.Args)
	assert.Equal(t, []graph.NotifyRequest{{Type: graph.SessionSave, Path: "/tmp/sess/"}}, h.graph.Notifications())

	h.cancel()
	assert.NoError(t, h.waitRun(t))
}

func TestSaveWithFailedParticipantIsFatal(t *testing.T) {
	h := startReady(t)
	h.graph.SetSaveResults(
		graph.SessionCommand{UUID: "1", ClientName: "ardour"},
		graph.SessionCommand{UUID: "2", ClientName: "carla", Flags: graph.SessionSaveError},
	)

	h.daemon.send(PathOpen, "/tmp/sess", "My App", "myapp")
	h.daemon.expect(PathReply)

	h.daemon.send(PathSave)
	err := h.waitRun(t)
	assert.ErrorIs(t, err, graph.ErrSave)
	h.daemon.expectSilence()
	assert.Equal(t, StateTerminated, h.client.State())
}

func TestSaveBeforeOpenIsFatal(t *testing.T) {
	h := startReady(t)

	h.daemon.send(PathSave)
	err := h.waitRun(t)
	assert.ErrorIs(t, err, graph.ErrConfiguration)
	h.daemon.expectSilence()
}

func TestFailedRequestEndsBundleDispatch(t *testing.T) {
	h := startReady(t)

	h.daemon.sendBundle(
		goosc.NewMessage(PathSave),
		goosc.NewMessage(PathOpen, "/tmp/sess", "My App", "myapp"),
	)
	err := h.waitRun(t)
	assert.ErrorIs(t, err, graph.ErrConfiguration)
	h.daemon.expectSilence()
	assert.Empty(t, h.graph.Clients())
	assert.Equal(t, graph.StateUninitialized, h.session.State())
}

func TestOpenWithGraphDownIsFatal(t *testing.T) {
	h := startReady(t)
	h.graph.Stop()

	h.daemon.send(PathOpen, "/tmp/sess", "My App", "myapp")
	err := h.waitRun(t)
	assert.ErrorIs(t, err, graph.ErrConnection)
	h.daemon.expectSilence()
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{ServerURL: "  osc.udp://host:1/ ", HandshakeTimeout: -time.Second}.WithDefaults()
	assert.Equal(t, "osc.udp://host:1/", cfg.ServerURL)
	assert.Equal(t, DefaultClientName, cfg.ClientName)
	assert.Equal(t, DefaultCapabilities, cfg.Capabilities)
	assert.NotEmpty(t, cfg.Executable)
	assert.Positive(t, cfg.PID)
	assert.Zero(t, cfg.HandshakeTimeout)
}
