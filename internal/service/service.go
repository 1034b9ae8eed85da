// Package service runs pluggable services over a single node connection.
//
// A Processor owns the connection, one worker goroutine per registered
// Service and three pumps: incoming (mesh to router), inbound dispatch
// (router to workers) and outgoing (senders to mesh). Replies to
// SendAndAwait and to connect/disconnect requests are matched by
// correlation id in the Router and never reach a worker.
package service

import (
	"context"
)

// AdminCircuit is the circuit name that selects the admin message kind.
const AdminCircuit = "admin"

// Service is implemented by every component hosted by the processor.
// Start and Stop are called from the worker goroutine with a registry the
// service uses to connect and disconnect itself.
type Service interface {
	ServiceID() string
	ServiceType() string
	Start(registry NetworkRegistry) error
	Stop(registry NetworkRegistry) error
	Destroy() error
	HandleMessage(payload []byte, msgCtx MessageContext) error
}

// MessageContext describes the origin of a delivered message.
type MessageContext struct {
	Sender        string
	Circuit       string
	CorrelationID string
}

type NetworkRegistry interface {
	Connect(serviceID string) (NetworkSender, error)
	Disconnect(serviceID string) error
}

type NetworkSender interface {
	Send(recipient string, payload []byte) error
	// SendAndAwait blocks until the reply with the generated correlation id
	// arrives. There is no timeout; use SendAndAwaitContext to bound it.
	SendAndAwait(recipient string, payload []byte) ([]byte, error)
	SendAndAwaitContext(ctx context.Context, recipient string, payload []byte) ([]byte, error)
	Reply(origin MessageContext, payload []byte) error
}

// ServiceMessage is any inbound circuit message the router can correlate.
type ServiceMessage interface {
	GetCorrelationID() string
}

// ProcessorMessage is what a worker receives on its channel.
type ProcessorMessage interface {
	processorMessage()
}

type Deliver struct {
	Message ServiceMessage
}

type Shutdown struct{}

func (Deliver) processorMessage()  {}
func (Shutdown) processorMessage() {}
