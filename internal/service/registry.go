package service

import (
	"context"
	"fmt"

	"splinter-services/go-runtime/internal/protocol"
)

// Registry connects and disconnects services with the node. Each call sends
// a request and waits for the response with the same correlation id.
type Registry struct {
	circuit string
	out     outbound
	router  *Router
}

func newRegistry(circuit string, out outbound, router *Router) *Registry {
	return &Registry{circuit: circuit, out: out, router: router}
}

// Connect registers serviceID with the node and returns its sender: an
// AdminSender on the admin circuit, a StandardSender otherwise.
func (r *Registry) Connect(serviceID string) (NetworkSender, error) {
	request := protocol.ServiceConnectRequest{ServiceRequest: r.request(serviceID)}
	reply, err := r.roundTrip(protocol.ServiceConnectRequestType, &request.ServiceRequest)
	if err != nil {
		return nil, fmt.Errorf("connect service %q: %w", serviceID, err)
	}
	response, ok := reply.(*protocol.ServiceConnectResponse)
	if !ok {
		return nil, fmt.Errorf("connect service %q: %w: %T", serviceID, ErrUnexpectedReply, reply)
	}
	if err := checkStatus("connect", serviceID, &response.ServiceResponse); err != nil {
		return nil, err
	}

	if r.circuit == AdminCircuit {
		return newAdminSender(serviceID, r.out, r.router), nil
	}
	return newStandardSender(serviceID, r.circuit, r.out, r.router), nil
}

func (r *Registry) Disconnect(serviceID string) error {
	request := protocol.ServiceDisconnectRequest{ServiceRequest: r.request(serviceID)}
	reply, err := r.roundTrip(protocol.ServiceDisconnectRequestType, &request.ServiceRequest)
	if err != nil {
		return fmt.Errorf("disconnect service %q: %w", serviceID, err)
	}
	response, ok := reply.(*protocol.ServiceDisconnectResponse)
	if !ok {
		return fmt.Errorf("disconnect service %q: %w: %T", serviceID, ErrUnexpectedReply, reply)
	}
	return checkStatus("disconnect", serviceID, &response.ServiceResponse)
}

func (r *Registry) request(serviceID string) protocol.ServiceRequest {
	return protocol.ServiceRequest{
		Circuit:       r.circuit,
		ServiceID:     serviceID,
		CorrelationID: NewCorrelationID(),
	}
}

func (r *Registry) roundTrip(msgType protocol.CircuitMessageType, request *protocol.ServiceRequest) (ServiceMessage, error) {
	future := r.router.ExpectReply(request.CorrelationID)
	ctx := context.Background()
	if err := r.out.enqueue(ctx, protocol.WrapCircuitMessage(msgType, request.Marshal())); err != nil {
		future.Cancel()
		return nil, err
	}
	reply, err := future.Get(ctx)
	if err != nil {
		return nil, err
	}
	if circuitErr, ok := reply.(*protocol.CircuitError); ok {
		return nil, newCircuitErrorReply(circuitErr)
	}
	return reply, nil
}

func checkStatus(operation, serviceID string, response *protocol.ServiceResponse) error {
	if response.Status == protocol.StatusOK {
		return nil
	}
	return &RejectedError{
		ServiceID: serviceID,
		Operation: operation,
		Status:    response.Status,
		Message:   response.ErrorMessage,
	}
}
