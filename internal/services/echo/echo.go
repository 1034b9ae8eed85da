// Package echo is a reference service for exercising a processor end to end.
//
// Commands, by payload:
//
//	send            sends "send_response" to the sender
//	send_and_await  sends "waiting for response" and blocks for the reply
//	reply           replies "reply response" with the request's correlation id
//
// Any other payload is replied back unchanged.
package echo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"splinter-services/go-runtime/internal/service"
)

const ServiceType = "echo"

const (
	CommandSend         = "send"
	CommandSendAndAwait = "send_and_await"
	CommandReply        = "reply"

	SendResponse  = "send_response"
	AwaitRequest  = "waiting for response"
	ReplyResponse = "reply response"
	componentName = "echo_service"
)

var ErrNotConnected = errors.New("echo service is not connected")

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAwaitTimeout bounds send_and_await. Zero waits forever.
func WithAwaitTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.awaitTimeout = d
	}
}

type Service struct {
	id           string
	logger       *slog.Logger
	awaitTimeout time.Duration

	mu      sync.Mutex
	sender  service.NetworkSender
	awaited [][]byte
	handled int
}

func New(id string, opts ...Option) *Service {
	s := &Service{id: id, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ServiceID() string   { return s.id }
func (s *Service) ServiceType() string { return ServiceType }

func (s *Service) Start(registry service.NetworkRegistry) error {
	sender, err := registry.Connect(s.id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
	s.logger.Info("echo service connected", "component", componentName, "service_id", s.id)
	return nil
}

func (s *Service) Stop(registry service.NetworkRegistry) error {
	if err := registry.Disconnect(s.id); err != nil {
		return err
	}
	s.mu.Lock()
	s.sender = nil
	s.mu.Unlock()
	return nil
}

func (s *Service) Destroy() error {
	s.logger.Debug("echo service destroyed", "component", componentName, "service_id", s.id, "handled", s.Handled())
	return nil
}

func (s *Service) HandleMessage(payload []byte, msgCtx service.MessageContext) error {
	s.mu.Lock()
	sender := s.sender
	s.handled++
	s.mu.Unlock()
	if sender == nil {
		return ErrNotConnected
	}

	switch string(payload) {
	case CommandSend:
		return sender.Send(msgCtx.Sender, []byte(SendResponse))
	case CommandSendAndAwait:
		reply, err := s.await(sender, msgCtx.Sender)
		if err != nil {
			return fmt.Errorf("await reply from %q: %w", msgCtx.Sender, err)
		}
		s.mu.Lock()
		s.awaited = append(s.awaited, reply)
		s.mu.Unlock()
		s.logger.Debug("echo service received awaited reply", "component", componentName, "service_id", s.id, "reply_bytes", len(reply))
		return nil
	case CommandReply:
		return sender.Reply(msgCtx, []byte(ReplyResponse))
	default:
		return sender.Reply(msgCtx, payload)
	}
}

func (s *Service) await(sender service.NetworkSender, recipient string) ([]byte, error) {
	if s.awaitTimeout <= 0 {
		return sender.SendAndAwait(recipient, []byte(AwaitRequest))
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.awaitTimeout)
	defer cancel()
	return sender.SendAndAwaitContext(ctx, recipient, []byte(AwaitRequest))
}

// AwaitedReplies returns the payloads received by send_and_await, oldest first.
func (s *Service) AwaitedReplies() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.awaited))
	copy(out, s.awaited)
	return out
}

func (s *Service) Handled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handled
}
