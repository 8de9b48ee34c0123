package main

import (
	"os"
	"strings"

	"github.com/danmuck/njsm/internal/logging"
	"github.com/danmuck/njsm/internal/njsm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	configPath   string
	envFile      string
	backend      string
	trackClients bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "njsm",
		Short: "NSM session client for the JACK graph",
		Long: `njsm announces itself to the NSM daemon named by NSM_URL and saves
every JACK session-aware client into the session directory on request.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "TOML config file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file read before the environment")
	flags.StringVar(&opts.backend, "backend", "", "graph backend (jack or memory)")
	flags.BoolVar(&opts.trackClients, "track-clients", true, "keep a registry of graph clients")
	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	cfg, err := loadServiceConfig(opts.configPath)
	if err != nil {
		return err
	}
	if b := strings.TrimSpace(opts.backend); b != "" {
		cfg.Backend = njsm.BackendKind(strings.ToLower(b))
	}
	if cmd.Flags().Changed("track-clients") {
		cfg.TrackClients = opts.trackClients
	}

	env, err := njsm.LoadEnv(opts.envFile)
	if err != nil {
		return err
	}
	cfg.Client.ServerURL = env.ServerURL

	return njsm.NewService(cfg).Run()
}

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Msgf("njsm: %v", err)
		os.Exit(1)
	}
}
