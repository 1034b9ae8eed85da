// Package processorserver wires configuration, the node connection, the
// service processor, hosted services and the admin listener into one
// runnable unit.
package processorserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"splinter-services/go-runtime/internal/adapters/httpapi"
	"splinter-services/go-runtime/internal/config"
	"splinter-services/go-runtime/internal/mesh"
	"splinter-services/go-runtime/internal/service"
	"splinter-services/go-runtime/internal/services/echo"
)

const (
	componentName = "processorserver"
	dialTimeout   = 10 * time.Second
)

var ErrUnknownServiceType = errors.New("unknown service type")

// Dialer opens the connection to the node.
type Dialer func(ctx context.Context, cfg config.Config) (mesh.Connection, error)

// ServiceFactory builds a hosted service from its configuration entry.
type ServiceFactory func(cfg config.ServiceConfig, logger *slog.Logger) (service.Service, error)

type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	dial      Dialer
	factories map[string]ServiceFactory
}

type Option func(*Server)

func WithDialer(d Dialer) Option {
	return func(s *Server) {
		if d != nil {
			s.dial = d
		}
	}
}

func WithServiceFactory(serviceType string, f ServiceFactory) Option {
	return func(s *Server) {
		s.factories[serviceType] = f
	}
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		dial:   DialNode,
		factories: map[string]ServiceFactory{
			echo.ServiceType: newEchoService,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialNode connects over TCP or go-waku according to cfg.Transport.
func DialNode(ctx context.Context, cfg config.Config) (mesh.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	switch cfg.Transport {
	case config.TransportWaku:
		return mesh.DialWaku(dialCtx, cfg.Waku)
	case config.TransportTCP:
		conn, err := mesh.DialTCP(dialCtx, cfg.NodeEndpoint)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", config.ErrInvalidConfig, cfg.Transport)
	}
}

func newEchoService(cfg config.ServiceConfig, logger *slog.Logger) (service.Service, error) {
	return echo.New(cfg.ID, echo.WithLogger(logger)), nil
}

// Run connects, starts the processor and blocks until ctx is done, then
// shuts everything down. The returned error is the first failure seen.
func (s *Server) Run(ctx context.Context) error {
	conn, err := s.dial(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("connect to node: %w", err)
	}
	s.logger.Info("connected to node", "component", componentName, "endpoint", conn.RemoteEndpoint(), "transport", s.cfg.Transport)

	metrics := service.NewMetrics()
	processor, err := service.NewProcessor(conn, s.cfg.Circuit,
		s.cfg.IncomingCapacity, s.cfg.OutgoingCapacity, s.cfg.ChannelCapacity,
		service.WithLogger(s.logger),
		service.WithMetrics(metrics),
		service.WithRecvTimeout(s.cfg.RecvTimeout),
		service.WithDropWarningLimit(s.cfg.DropWarningsPerSecond, s.cfg.DropWarningBurst),
	)
	if err != nil {
		_ = conn.Close()
		return err
	}

	services := make([]service.Service, 0, len(s.cfg.Services))
	for _, svcCfg := range s.cfg.Services {
		svc, err := s.buildService(svcCfg)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("build service %q: %w", svcCfg.ID, err)
		}
		services = append(services, svc)
	}

	handle, err := processor.Start()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("start service processor: %w", err)
	}
	var runErr error
	for _, svc := range services {
		if err := processor.AddService(svc); err != nil {
			runErr = fmt.Errorf("add service %q: %w", svc.ServiceID(), err)
			break
		}
	}

	adminCtx, stopAdmin := context.WithCancel(ctx)
	defer stopAdmin()
	var adminDone chan error
	if runErr == nil && s.cfg.AdminAddr != "" {
		adminDone = make(chan error, 1)
		admin := httpapi.NewServer(s.cfg.AdminAddr, processor, metrics.Gatherer())
		go func() { adminDone <- admin.Run(adminCtx) }()
		s.logger.Info("admin listener started", "component", componentName, "addr", s.cfg.AdminAddr)
	}

	if runErr == nil {
		select {
		case <-ctx.Done():
		case err := <-adminDone:
			adminDone = nil
			if err != nil {
				runErr = fmt.Errorf("admin listener: %w", err)
			}
		}
	}

	s.logger.Info("stopping service processor", "component", componentName)
	shutdownErr := handle.Shutdown()
	stopAdmin()
	if adminDone != nil {
		if err := <-adminDone; err != nil && runErr == nil {
			runErr = fmt.Errorf("admin listener: %w", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

func (s *Server) buildService(cfg config.ServiceConfig) (service.Service, error) {
	factory, ok := s.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownServiceType, cfg.Type)
	}
	return factory(cfg, s.logger)
}
