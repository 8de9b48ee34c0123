package nsm

import (
	"os"
	"strings"
	"time"
)

const (
	PathAnnounce = "/nsm/server/announce"
	PathReply    = "/reply"
	PathError    = "/error"
	PathOpen     = "/nsm/client/open"
	PathSave     = "/nsm/client/save"

	SigAnnounceReply = "ssss"
	SigError         = "sis"
	SigOpen          = "sss"
	SigSave          = ""

	ProtocolMajor = 1
	ProtocolMinor = 2

	DefaultClientName       = "NJSM"
	DefaultCapabilities     = "::"
	DefaultHandshakeTimeout = 10 * time.Second
)

// Config identifies this client to the daemon.
type Config struct {
	ServerURL    string
	ClientName   string
	Capabilities string
	Executable   string
	PID          int
	// HandshakeTimeout bounds the announce wait; zero waits forever.
	HandshakeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ClientName:       DefaultClientName,
		Capabilities:     DefaultCapabilities,
		Executable:       os.Args[0],
		PID:              os.Getpid(),
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

// WithDefaults fills unset identity fields. A zero HandshakeTimeout is kept.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.ServerURL = strings.TrimSpace(c.ServerURL)
	if strings.TrimSpace(c.ClientName) == "" {
		c.ClientName = def.ClientName
	}
	if c.Capabilities == "" {
		c.Capabilities = def.Capabilities
	}
	if strings.TrimSpace(c.Executable) == "" {
		c.Executable = def.Executable
	}
	if c.PID <= 0 {
		c.PID = def.PID
	}
	if c.HandshakeTimeout < 0 {
		c.HandshakeTimeout = 0
	}
	return c
}

// ServerInfo is the daemon's announce acknowledgment.
type ServerInfo struct {
	Message      string
	Name         string
	Capabilities string
}

// OpenRequest carries the arguments of /nsm/client/open.
type OpenRequest struct {
	Path        string
	DisplayName string
	ClientID    string
}
