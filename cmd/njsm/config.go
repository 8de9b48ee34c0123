package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/njsm/internal/njsm"
)

type fileConfig struct {
	ClientName       string     `toml:"client_name"`
	Capabilities     string     `toml:"capabilities"`
	HandshakeTimeout string     `toml:"handshake_timeout"`
	TrackClients     bool       `toml:"track_clients"`
	Backend          string     `toml:"backend"`
	Jack             jackConfig `toml:"jack"`
}

type jackConfig struct {
	WaitCommand    string `toml:"wait_command"`
	LspCommand     string `toml:"lsp_command"`
	MonitorCommand string `toml:"monitor_command"`
	NotifyCommand  string `toml:"notify_command"`
	LineBuffer     string `toml:"line_buffer_command"`
}

// loadServiceConfig returns defaults when path is empty.
func loadServiceConfig(path string) (njsm.ServiceConfig, error) {
	cfg := njsm.DefaultServiceConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return njsm.ServiceConfig{}, fmt.Errorf("load njsm config: %w", err)
	}

	if meta.IsDefined("client_name") {
		if name := strings.TrimSpace(raw.ClientName); name != "" {
			cfg.Client.ClientName = name
		}
	}

	if meta.IsDefined("capabilities") {
		cfg.Client.Capabilities = strings.TrimSpace(raw.Capabilities)
	}

	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return njsm.ServiceConfig{}, fmt.Errorf("parse handshake_timeout: %w", err)
		}
		if d < 0 {
			return njsm.ServiceConfig{}, fmt.Errorf("parse handshake_timeout: negative duration %v", d)
		}
		cfg.Client.HandshakeTimeout = d
	}

	if meta.IsDefined("track_clients") {
		cfg.TrackClients = raw.TrackClients
	}

	if meta.IsDefined("backend") {
		cfg.Backend = njsm.BackendKind(strings.ToLower(strings.TrimSpace(raw.Backend)))
	}

	if meta.IsDefined("jack", "wait_command") {
		cfg.Jack.WaitCommand = strings.TrimSpace(raw.Jack.WaitCommand)
	}
	if meta.IsDefined("jack", "lsp_command") {
		cfg.Jack.LspCommand = strings.TrimSpace(raw.Jack.LspCommand)
	}
	if meta.IsDefined("jack", "monitor_command") {
		cfg.Jack.MonitorCommand = strings.TrimSpace(raw.Jack.MonitorCommand)
	}
	if meta.IsDefined("jack", "notify_command") {
		cfg.Jack.NotifyCommand = strings.TrimSpace(raw.Jack.NotifyCommand)
	}
	if meta.IsDefined("jack", "line_buffer_command") {
		cfg.Jack.LineBufferCommand = strings.TrimSpace(raw.Jack.LineBuffer)
	}

	return cfg, nil
}
