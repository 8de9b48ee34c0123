package njsm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/njsm/internal/graph"
	"github.com/danmuck/njsm/internal/graph/jackexec"
	"github.com/danmuck/njsm/internal/graph/memgraph"
	"github.com/danmuck/njsm/internal/nsm"
	"github.com/rs/zerolog/log"
)

var ErrUnknownBackend = errors.New("njsm: unknown graph backend")

// BackendKind selects the audio-graph implementation.
type BackendKind string

const (
	BackendJack   BackendKind = "jack"
	BackendMemory BackendKind = "memory"
)

// ServiceConfig configures one njsm process.
type ServiceConfig struct {
	Client       nsm.Config
	TrackClients bool
	Backend      BackendKind
	Jack         jackexec.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Client:       nsm.DefaultConfig(),
		TrackClients: true,
		Backend:      BackendJack,
		Jack:         jackexec.DefaultConfig(),
	}
}

// Service runs the announce/dispatch lifecycle until shutdown.
type Service struct {
	cfg      ServiceConfig
	backend  graph.Backend
	registry *graph.Registry
}

func NewService(cfg ServiceConfig) *Service {
	return NewServiceWithBackend(cfg, nil)
}

// NewServiceWithBackend uses backend instead of the configured kind.
func NewServiceWithBackend(cfg ServiceConfig, backend graph.Backend) *Service {
	s := &Service{cfg: cfg, backend: backend}
	if cfg.TrackClients {
		s.registry = graph.NewRegistry()
	}
	return s
}

// Registry is the tracked client set, or nil when tracking is off.
func (s *Service) Registry() *graph.Registry {
	return s.registry
}

// Run blocks until SIGINT/SIGTERM (nil) or a fatal error.
func (s *Service) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case sig := <-sigs:
			logShutdown(sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return s.RunContext(ctx)
}

// RunContext is Run with shutdown driven by ctx.
func (s *Service) RunContext(ctx context.Context) error {
	backend, err := s.resolveBackend()
	if err != nil {
		return err
	}

	var opts []graph.Option
	if s.registry != nil {
		opts = append(opts, graph.WithRegistry(s.registry))
	}
	session := graph.NewSessionClient(backend, opts...)
	defer func() { _ = session.Close() }()

	client, err := nsm.NewClient(s.cfg.Client, session)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	log.Info().Msgf(
		"njsm.Service.run announce server=%q backend=%s track_clients=%v",
		s.cfg.Client.ServerURL,
		s.backendName(),
		s.cfg.TrackClients,
	)
	if err := client.Announce(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return client.Run(ctx)
}

func (s *Service) resolveBackend() (graph.Backend, error) {
	if s.backend != nil {
		return s.backend, nil
	}
	switch BackendKind(strings.TrimSpace(string(s.cfg.Backend))) {
	case BackendJack, "":
		return jackexec.NewExec(s.cfg.Jack), nil
	case BackendMemory:
		return memgraph.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, s.cfg.Backend)
	}
}

func (s *Service) backendName() string {
	if s.backend != nil {
		return fmt.Sprintf("%T", s.backend)
	}
	return string(s.cfg.Backend)
}

func logShutdown(sig os.Signal) {
	switch sig {
	case syscall.SIGTERM:
		log.Info().Msg("njsm.Service terminating")
	default:
		log.Info().Msg("njsm.Service exiting")
	}
}
