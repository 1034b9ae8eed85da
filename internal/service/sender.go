package service

import (
	"context"
	"fmt"

	"splinter-services/go-runtime/internal/protocol"
)

// outbound is the shared path from senders and registries to the outgoing
// pump. done is closed once the processor stops its pumps.
type outbound struct {
	frames chan<- []byte
	done   <-chan struct{}
}

func (o outbound) enqueue(ctx context.Context, frame []byte) error {
	select {
	case <-o.done:
		return ErrProcessorShutdown
	default:
	}
	select {
	case o.frames <- frame:
		return nil
	case <-o.done:
		return ErrProcessorShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// directSender implements NetworkSender for one circuit message kind.
type directSender struct {
	serviceID string
	circuit   string
	msgType   protocol.CircuitMessageType
	out       outbound
	router    *Router
}

// StandardSender sends CircuitDirectMessages on the service's circuit.
type StandardSender struct {
	directSender
}

// AdminSender sends AdminDirectMessages on the admin circuit.
type AdminSender struct {
	directSender
}

func newStandardSender(serviceID, circuit string, out outbound, router *Router) *StandardSender {
	return &StandardSender{directSender{
		serviceID: serviceID,
		circuit:   circuit,
		msgType:   protocol.CircuitDirectMessageType,
		out:       out,
		router:    router,
	}}
}

func newAdminSender(serviceID string, out outbound, router *Router) *AdminSender {
	return &AdminSender{directSender{
		serviceID: serviceID,
		circuit:   AdminCircuit,
		msgType:   protocol.AdminDirectMessageType,
		out:       out,
		router:    router,
	}}
}

func (s *directSender) ServiceID() string {
	return s.serviceID
}

func (s *directSender) frame(circuit, recipient string, payload []byte, correlationID string) []byte {
	direct := protocol.DirectMessage{
		Circuit:       circuit,
		Sender:        s.serviceID,
		Recipient:     recipient,
		Payload:       payload,
		CorrelationID: correlationID,
	}
	return protocol.WrapCircuitMessage(s.msgType, direct.Marshal())
}

func (s *directSender) Send(recipient string, payload []byte) error {
	if err := s.out.enqueue(context.Background(), s.frame(s.circuit, recipient, payload, "")); err != nil {
		return &SendError{Op: "send", Err: err}
	}
	return nil
}

func (s *directSender) SendAndAwait(recipient string, payload []byte) ([]byte, error) {
	return s.SendAndAwaitContext(context.Background(), recipient, payload)
}

func (s *directSender) SendAndAwaitContext(ctx context.Context, recipient string, payload []byte) ([]byte, error) {
	correlationID := NewCorrelationID()
	future := s.router.ExpectReply(correlationID)
	if err := s.out.enqueue(ctx, s.frame(s.circuit, recipient, payload, correlationID)); err != nil {
		future.Cancel()
		return nil, &SendError{Op: "send and await", Err: err}
	}

	msg, err := future.Get(ctx)
	if err != nil {
		return nil, &SendError{Op: "await reply", Err: err}
	}
	switch reply := msg.(type) {
	case *protocol.CircuitDirectMessage:
		return reply.Payload, nil
	case *protocol.AdminDirectMessage:
		return reply.Payload, nil
	case *protocol.CircuitError:
		return nil, newCircuitErrorReply(reply)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedReply, msg)
	}
}

// Reply answers origin on the circuit it arrived on, keeping its
// correlation id.
func (s *directSender) Reply(origin MessageContext, payload []byte) error {
	frame := s.frame(origin.Circuit, origin.Sender, payload, origin.CorrelationID)
	if err := s.out.enqueue(context.Background(), frame); err != nil {
		return &SendError{Op: "reply", Err: err}
	}
	return nil
}
