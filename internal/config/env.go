package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvCircuit          = "SPLINTER_CIRCUIT"
	EnvNodeEndpoint     = "SPLINTER_NODE_ENDPOINT"
	EnvTransport        = "SPLINTER_TRANSPORT"
	EnvAdminAddr        = "SPLINTER_ADMIN_ADDR"
	EnvLogLevel         = "SPLINTER_LOG_LEVEL"
	EnvLogFormat        = "SPLINTER_LOG_FORMAT"
	EnvIncomingCapacity = "SPLINTER_INCOMING_CAPACITY"
	EnvOutgoingCapacity = "SPLINTER_OUTGOING_CAPACITY"
	EnvChannelCapacity  = "SPLINTER_CHANNEL_CAPACITY"
	EnvRecvTimeout      = "SPLINTER_RECV_TIMEOUT"
	EnvWakuBootstrap    = "SPLINTER_WAKU_BOOTSTRAP_NODES"

	maxCapacity = 1 << 16
)

// ApplyEnvOverrides lets the environment win over file and defaults.
// Malformed numbers keep the current value. SPLINTER_ADMIN_ADDR=off disables
// the admin listener.
func ApplyEnvOverrides(cfg *Config) {
	if v := envString(EnvCircuit); v != "" {
		cfg.Circuit = v
	}
	if v := envString(EnvNodeEndpoint); v != "" {
		cfg.NodeEndpoint = v
	}
	if v := envString(EnvTransport); v != "" {
		cfg.Transport = v
	}
	if v := envString(EnvAdminAddr); v != "" {
		if strings.EqualFold(v, "off") {
			cfg.AdminAddr = ""
		} else {
			cfg.AdminAddr = v
		}
	}
	if v := envString(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := envString(EnvLogFormat); v != "" {
		cfg.LogFormat = v
	}
	cfg.IncomingCapacity = envBoundedIntWithFallback(EnvIncomingCapacity, cfg.IncomingCapacity, 1, maxCapacity)
	cfg.OutgoingCapacity = envBoundedIntWithFallback(EnvOutgoingCapacity, cfg.OutgoingCapacity, 1, maxCapacity)
	cfg.ChannelCapacity = envBoundedIntWithFallback(EnvChannelCapacity, cfg.ChannelCapacity, 1, maxCapacity)
	cfg.RecvTimeout = envDurationWithFallback(EnvRecvTimeout, cfg.RecvTimeout)
	if nodes := envCSV(EnvWakuBootstrap); len(nodes) > 0 {
		cfg.Waku.BootstrapNodes = nodes
	}
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envCSV(key string) []string {
	raw := envString(key)
	if raw == "" {
		return nil
	}
	out := make([]string, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envIntWithFallback(key string, fallback int) int {
	raw := envString(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBoundedIntWithFallback(key string, fallback, min, max int) int {
	if envString(key) == "" {
		return fallback
	}
	value := envIntWithFallback(key, fallback)
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func envDurationWithFallback(key string, fallback time.Duration) time.Duration {
	raw := envString(key)
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
