package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"splinter-services/go-runtime/internal/composition/processorserver"
	"splinter-services/go-runtime/internal/config"
	"splinter-services/go-runtime/internal/platform/logging"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	circuit := flag.String("circuit", "", "Circuit override")
	endpoint := flag.String("node-endpoint", "", "Node multiaddr override, e.g. /ip4/127.0.0.1/tcp/8043")
	transport := flag.String("transport", "", "Transport override: tcp | waku")
	adminAddr := flag.String("admin-addr", "", "Admin listen address override, or off")
	flag.Parse()
	if *showVersion {
		fmt.Printf("service-processor version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	overrides := map[string]string{
		config.EnvCircuit:      *circuit,
		config.EnvNodeEndpoint: *endpoint,
		config.EnvTransport:    *transport,
		config.EnvAdminAddr:    *adminAddr,
	}
	for key, value := range overrides {
		if value != "" {
			_ = os.Setenv(key, value)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("service-processor failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("service-processor starting", "version", version, "circuit", cfg.Circuit, "services", len(cfg.Services))
	if err := processorserver.New(cfg, logger).Run(ctx); err != nil {
		logger.Error("service-processor failed", "error", err.Error())
		stop()
		os.Exit(1)
	}
	logger.Info("service-processor stopped")
}
