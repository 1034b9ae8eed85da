package service_test

import (
	"sync"
	"testing"
	"time"

	"splinter-services/go-runtime/internal/mesh"
	"splinter-services/go-runtime/internal/protocol"
)

const nodeWait = 5 * time.Second

type directFrame struct {
	msgType protocol.CircuitMessageType
	msg     protocol.DirectMessage
}

// fakeNode plays the node side of a processor connection. It answers
// connect and disconnect requests on its own and queues everything else
// for the test to inspect.
type fakeNode struct {
	conn mesh.Connection

	mu          sync.Mutex
	connectCode map[string]protocol.ResponseStatus

	handshakes  chan protocol.ConnectRequest
	connects    chan protocol.ServiceRequest
	disconnects chan protocol.ServiceRequest
	direct      chan directFrame
	closed      chan struct{}
}

func startFakeNode(t *testing.T, conn mesh.Connection) *fakeNode {
	t.Helper()
	n := &fakeNode{
		conn:        conn,
		connectCode: make(map[string]protocol.ResponseStatus),
		handshakes:  make(chan protocol.ConnectRequest, 4),
		connects:    make(chan protocol.ServiceRequest, 16),
		disconnects: make(chan protocol.ServiceRequest, 16),
		direct:      make(chan directFrame, 64),
		closed:      make(chan struct{}),
	}
	go n.loop(t)
	t.Cleanup(func() { _ = conn.Close() })
	return n
}

func (n *fakeNode) rejectConnect(serviceID string, status protocol.ResponseStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connectCode[serviceID] = status
}

func (n *fakeNode) loop(t *testing.T) {
	defer close(n.closed)
	for {
		frame, err := n.conn.Recv()
		if err != nil {
			return
		}
		network, err := protocol.ParseNetworkMessage(frame)
		if err != nil {
			t.Errorf("node: parse network message: %v", err)
			return
		}
		switch network.MessageType {
		case protocol.NetworkAuthorization:
			var auth protocol.AuthorizationMessage
			var req protocol.ConnectRequest
			if err := auth.Unmarshal(network.Payload); err != nil || auth.MessageType != protocol.AuthConnectRequest {
				t.Errorf("node: unexpected authorization message %v: %v", auth.MessageType, err)
				return
			}
			if err := req.Unmarshal(auth.Payload); err != nil {
				t.Errorf("node: decode connect request: %v", err)
				return
			}
			n.handshakes <- req
		case protocol.NetworkCircuit:
			n.handleCircuit(t, network.Payload)
		}
	}
}

func (n *fakeNode) handleCircuit(t *testing.T, payload []byte) {
	var circuit protocol.CircuitMessage
	if err := circuit.Unmarshal(payload); err != nil {
		t.Errorf("node: decode circuit message: %v", err)
		return
	}
	switch circuit.MessageType {
	case protocol.ServiceConnectRequestType, protocol.ServiceDisconnectRequestType:
		var req protocol.ServiceRequest
		if err := req.Unmarshal(circuit.Payload); err != nil {
			t.Errorf("node: decode service request: %v", err)
			return
		}
		status := protocol.StatusOK
		respType := protocol.ServiceDisconnectResponseType
		if circuit.MessageType == protocol.ServiceConnectRequestType {
			n.connects <- req
			respType = protocol.ServiceConnectResponseType
			n.mu.Lock()
			if code, ok := n.connectCode[req.ServiceID]; ok {
				status = code
			}
			n.mu.Unlock()
		} else {
			n.disconnects <- req
		}
		resp := protocol.ServiceResponse{
			Circuit:       req.Circuit,
			ServiceID:     req.ServiceID,
			Status:        status,
			CorrelationID: req.CorrelationID,
		}
		_ = n.conn.Send(protocol.WrapCircuitMessage(respType, resp.Marshal()))
	case protocol.CircuitDirectMessageType, protocol.AdminDirectMessageType:
		var msg protocol.DirectMessage
		if err := msg.Unmarshal(circuit.Payload); err != nil {
			t.Errorf("node: decode direct message: %v", err)
			return
		}
		n.direct <- directFrame{msgType: circuit.MessageType, msg: msg}
	default:
		t.Errorf("node: unexpected circuit message %s", circuit.MessageType)
	}
}

func (n *fakeNode) sendDirect(t *testing.T, msgType protocol.CircuitMessageType, msg protocol.DirectMessage) {
	t.Helper()
	if err := n.conn.Send(protocol.WrapCircuitMessage(msgType, msg.Marshal())); err != nil {
		t.Fatalf("node: send direct message: %v", err)
	}
}

func (n *fakeNode) sendRaw(t *testing.T, frame []byte) {
	t.Helper()
	if err := n.conn.Send(frame); err != nil {
		t.Fatalf("node: send frame: %v", err)
	}
}

func (n *fakeNode) nextDirect(t *testing.T) directFrame {
	t.Helper()
	select {
	case f := <-n.direct:
		return f
	case <-time.After(nodeWait):
		t.Fatal("node: timed out waiting for a direct message")
		return directFrame{}
	}
}

func (n *fakeNode) expectNoDirect(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case f := <-n.direct:
		t.Fatalf("node: unexpected direct message %+v", f.msg)
	case <-time.After(wait):
	}
}

func (n *fakeNode) nextHandshake(t *testing.T) protocol.ConnectRequest {
	t.Helper()
	select {
	case req := <-n.handshakes:
		return req
	case <-time.After(nodeWait):
		t.Fatal("node: timed out waiting for the handshake")
		return protocol.ConnectRequest{}
	}
}

func nextRequest(t *testing.T, ch <-chan protocol.ServiceRequest, what string) protocol.ServiceRequest {
	t.Helper()
	select {
	case req := <-ch:
		return req
	case <-time.After(nodeWait):
		t.Fatalf("node: timed out waiting for %s", what)
		return protocol.ServiceRequest{}
	}
}
