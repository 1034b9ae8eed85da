// Package config loads the service processor configuration from YAML and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"splinter-services/go-runtime/internal/mesh"
)

const (
	TransportTCP  = "tcp"
	TransportWaku = "waku"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Circuit      string
	Transport    string
	NodeEndpoint string
	Waku         mesh.WakuConfig

	IncomingCapacity      int
	OutgoingCapacity      int
	ChannelCapacity       int
	RecvTimeout           time.Duration
	DropWarningsPerSecond float64
	DropWarningBurst      int

	AdminAddr string
	LogLevel  string
	LogFormat string

	Services []ServiceConfig
}

type ServiceConfig struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
}

func DefaultConfig() Config {
	return Config{
		Transport:             TransportTCP,
		NodeEndpoint:          "/ip4/127.0.0.1/tcp/8043",
		Waku:                  mesh.DefaultWakuConfig(),
		IncomingCapacity:      512,
		OutgoingCapacity:      128,
		ChannelCapacity:       64,
		RecvTimeout:           2 * time.Second,
		DropWarningsPerSecond: 1,
		DropWarningBurst:      5,
		AdminAddr:             "127.0.0.1:9464",
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// FileConfig is the YAML document layout. Unset fields keep their defaults.
type FileConfig struct {
	Processor ProcessorFileConfig `yaml:"processor"`
	Node      NodeFileConfig      `yaml:"node"`
	Admin     AdminFileConfig     `yaml:"admin"`
	Log       LogFileConfig       `yaml:"log"`
	Services  []ServiceConfig     `yaml:"services"`
}

type ProcessorFileConfig struct {
	Circuit               string        `yaml:"circuit"`
	IncomingCapacity      int           `yaml:"incomingCapacity"`
	OutgoingCapacity      int           `yaml:"outgoingCapacity"`
	ChannelCapacity       int           `yaml:"channelCapacity"`
	RecvTimeout           time.Duration `yaml:"recvTimeout"`
	DropWarningsPerSecond float64       `yaml:"dropWarningsPerSecond"`
	DropWarningBurst      int           `yaml:"dropWarningBurst"`
}

type NodeFileConfig struct {
	Transport string           `yaml:"transport"`
	Endpoint  string           `yaml:"endpoint"`
	Waku      *mesh.WakuConfig `yaml:"waku"`
}

type AdminFileConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LogFileConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configPath, or the first existing default candidate when it is
// empty, merges it over DefaultConfig, applies environment overrides and
// validates the result.
func Load(configPath string) (Config, error) {
	cfg := DefaultConfig()

	candidates := []string{"configs/config.yaml"}
	if configPath != "" {
		candidates = []string{configPath}
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath == "" && errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	cfg = cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Merge(dst *Config, src FileConfig) {
	p := src.Processor
	if p.Circuit != "" {
		dst.Circuit = p.Circuit
	}
	if p.IncomingCapacity != 0 {
		dst.IncomingCapacity = p.IncomingCapacity
	}
	if p.OutgoingCapacity != 0 {
		dst.OutgoingCapacity = p.OutgoingCapacity
	}
	if p.ChannelCapacity != 0 {
		dst.ChannelCapacity = p.ChannelCapacity
	}
	if p.RecvTimeout != 0 {
		dst.RecvTimeout = p.RecvTimeout
	}
	if p.DropWarningsPerSecond != 0 {
		dst.DropWarningsPerSecond = p.DropWarningsPerSecond
	}
	if p.DropWarningBurst != 0 {
		dst.DropWarningBurst = p.DropWarningBurst
	}

	if src.Node.Transport != "" {
		dst.Transport = src.Node.Transport
	}
	if src.Node.Endpoint != "" {
		dst.NodeEndpoint = src.Node.Endpoint
	}
	if w := src.Node.Waku; w != nil {
		if w.Port != 0 {
			dst.Waku.Port = w.Port
		}
		if w.BootstrapNodes != nil {
			dst.Waku.BootstrapNodes = w.BootstrapNodes
		}
		if w.PubsubTopic != "" {
			dst.Waku.PubsubTopic = w.PubsubTopic
		}
		if w.InboundContentTopic != "" {
			dst.Waku.InboundContentTopic = w.InboundContentTopic
		}
		if w.OutboundContentTopic != "" {
			dst.Waku.OutboundContentTopic = w.OutboundContentTopic
		}
	}

	if src.Admin.Addr != "" {
		dst.AdminAddr = src.Admin.Addr
	}
	if src.Admin.Enabled != nil && !*src.Admin.Enabled {
		dst.AdminAddr = ""
	}

	if src.Log.Level != "" {
		dst.LogLevel = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.LogFormat = src.Log.Format
	}
	if src.Services != nil {
		dst.Services = src.Services
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	c.Circuit = strings.TrimSpace(c.Circuit)
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = def.Transport
	}
	if c.IncomingCapacity <= 0 {
		c.IncomingCapacity = def.IncomingCapacity
	}
	if c.OutgoingCapacity <= 0 {
		c.OutgoingCapacity = def.OutgoingCapacity
	}
	if c.ChannelCapacity <= 0 {
		c.ChannelCapacity = def.ChannelCapacity
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = def.RecvTimeout
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	for i := range c.Services {
		c.Services[i].ID = strings.TrimSpace(c.Services[i].ID)
		c.Services[i].Type = strings.ToLower(strings.TrimSpace(c.Services[i].Type))
	}
	return c
}

func (c Config) Validate() error {
	if c.Circuit == "" {
		return fmt.Errorf("%w: circuit is required", ErrInvalidConfig)
	}
	switch c.Transport {
	case TransportTCP:
		if strings.TrimSpace(c.NodeEndpoint) == "" {
			return fmt.Errorf("%w: node endpoint is required for the tcp transport", ErrInvalidConfig)
		}
	case TransportWaku:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	seen := make(map[string]struct{}, len(c.Services))
	for _, svc := range c.Services {
		if svc.ID == "" {
			return fmt.Errorf("%w: service id is required", ErrInvalidConfig)
		}
		if _, dup := seen[svc.ID]; dup {
			return fmt.Errorf("%w: duplicate service id %q", ErrInvalidConfig, svc.ID)
		}
		seen[svc.ID] = struct{}{}
	}
	return nil
}
