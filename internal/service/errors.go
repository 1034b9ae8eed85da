package service

import (
	"errors"
	"fmt"
	"strings"

	"splinter-services/go-runtime/internal/protocol"
)

var (
	ErrProcessorConstruction  = errors.New("unable to construct service processor")
	ErrAlreadyStarted         = errors.New("service processor already started")
	ErrAlreadyShutdown        = errors.New("service processor already shut down")
	ErrProcessorShutdown      = errors.New("service processor is shut down")
	ErrServiceChannelClosed   = errors.New("service channel closed before shutdown")
	ErrRouterClosed           = errors.New("correlation router closed")
	ErrDuplicateCorrelationID = errors.New("correlation id is already awaited")
	ErrUnexpectedReply        = errors.New("unexpected reply message")
	ErrTransportDisconnected  = errors.New("connection to node lost")
)

const (
	ErrorCategoryNetwork  = "network"
	ErrorCategoryProtocol = "protocol"
	ErrorCategoryService  = "service"
)

// Lifecycle phases reported by LifecycleError.
const (
	PhaseStart   = "start"
	PhaseStop    = "stop"
	PhaseDestroy = "destroy"
	PhaseHandle  = "handle_message"
	PhaseReceive = "receive"
	PhasePanic   = "panic"
)

type AddServiceError struct {
	ServiceID string
}

func (e *AddServiceError) Error() string {
	return fmt.Sprintf("service %q already exists", e.ServiceID)
}

// LifecycleError is returned from a worker join when a service hook fails.
type LifecycleError struct {
	ServiceID string
	Phase     string
	Err       error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("service %q failed during %s: %v", e.ServiceID, e.Phase, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// RejectedError reports a connect or disconnect request answered with a non-OK status.
type RejectedError struct {
	ServiceID string
	Operation string
	Status    protocol.ResponseStatus
	Message   string
}

func (e *RejectedError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "no error message"
	}
	return fmt.Sprintf("%s of service %q rejected with status %s: %s", e.Operation, e.ServiceID, e.Status, msg)
}

type SendError struct {
	Op  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// CircuitErrorReply carries a CircuitError the node sent in place of an awaited reply.
type CircuitErrorReply struct {
	ServiceID string
	Code      protocol.CircuitErrorCode
	Message   string
}

func (e *CircuitErrorReply) Error() string {
	return fmt.Sprintf("circuit error %s for service %q: %s", e.Code, e.ServiceID, e.Message)
}

func newCircuitErrorReply(msg *protocol.CircuitError) *CircuitErrorReply {
	return &CircuitErrorReply{
		ServiceID: msg.ServiceID,
		Code:      msg.Error,
		Message:   msg.ErrorMessage,
	}
}
