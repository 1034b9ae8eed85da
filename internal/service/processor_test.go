package service_test

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"splinter-services/go-runtime/internal/mesh"
	"splinter-services/go-runtime/internal/protocol"
	"splinter-services/go-runtime/internal/service"
	"splinter-services/go-runtime/internal/services/echo"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProcessor(t *testing.T, circuit string, opts ...service.Option) (*service.Processor, *fakeNode) {
	t.Helper()
	local, remote := mesh.NewInprocPair(t.Name())
	node := startFakeNode(t, remote)
	base := []service.Option{
		service.WithLogger(quietLogger()),
		service.WithRecvTimeout(20 * time.Millisecond),
	}
	p, err := service.NewProcessor(local, circuit, 8, 8, 8, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return p, node
}

func startProcessor(t *testing.T, p *service.Processor, node *fakeNode) *service.ShutdownHandle {
	t.Helper()
	handle, err := p.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if req := node.nextHandshake(t); req.HandshakeMode != protocol.HandshakeUnidirectional {
		t.Fatalf("expected unidirectional handshake, got %d", req.HandshakeMode)
	}
	return handle
}

func TestProcessorDirectMessageFlow(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		circuit string
		msgType protocol.CircuitMessageType
	}{
		{name: "standard", circuit: "alpha", msgType: protocol.CircuitDirectMessageType},
		{name: "admin", circuit: service.AdminCircuit, msgType: protocol.AdminDirectMessageType},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, node := newTestProcessor(t, tc.circuit)
			svc := echo.New("mock_service", echo.WithLogger(quietLogger()))
			if err := p.AddService(svc); err != nil {
				t.Fatalf("add service: %v", err)
			}
			handle := startProcessor(t, p, node)

			connect := nextRequest(t, node.connects, "connect request")
			if connect.ServiceID != "mock_service" || connect.Circuit != tc.circuit {
				t.Fatalf("unexpected connect request %+v", connect)
			}

			request := func(payload, correlationID string) {
				node.sendDirect(t, tc.msgType, protocol.DirectMessage{
					Circuit:       tc.circuit,
					Sender:        "mock_service",
					Recipient:     "mock_service",
					Payload:       []byte(payload),
					CorrelationID: correlationID,
				})
			}

			request(echo.CommandSend, "")
			got := node.nextDirect(t)
			if got.msgType != tc.msgType || string(got.msg.Payload) != echo.SendResponse {
				t.Fatalf("unexpected send response %s %q", got.msgType, got.msg.Payload)
			}
			if got.msg.Circuit != tc.circuit || got.msg.Sender != "mock_service" || got.msg.Recipient != "mock_service" {
				t.Fatalf("unexpected send routing %+v", got.msg)
			}

			request(echo.CommandSendAndAwait, "")
			waiting := node.nextDirect(t)
			if string(waiting.msg.Payload) != echo.AwaitRequest || waiting.msg.CorrelationID == "" {
				t.Fatalf("unexpected await request %+v", waiting.msg)
			}
			request("respond to waiting", waiting.msg.CorrelationID)

			request(echo.CommandReply, "reply_correlation_id")
			reply := node.nextDirect(t)
			if string(reply.msg.Payload) != echo.ReplyResponse || reply.msg.CorrelationID != "reply_correlation_id" {
				t.Fatalf("unexpected reply %+v", reply.msg)
			}

			replies := svc.AwaitedReplies()
			if len(replies) != 1 || string(replies[0]) != "respond to waiting" {
				t.Fatalf("send and await must return the correlated reply, got %q", replies)
			}
			if svc.Handled() != 3 {
				t.Fatalf("the awaited reply must not reach HandleMessage, handled=%d", svc.Handled())
			}

			if err := handle.Shutdown(); err != nil {
				t.Fatalf("shutdown: %v", err)
			}
			if req := nextRequest(t, node.disconnects, "disconnect request"); req.ServiceID != "mock_service" {
				t.Fatalf("unexpected disconnect %+v", req)
			}
		})
	}
}

func TestProcessorDropsMessagesForUnknownRecipient(t *testing.T) {
	t.Parallel()
	metrics := service.NewMetrics()
	p, node := newTestProcessor(t, "alpha", service.WithMetrics(metrics))
	if err := p.AddService(echo.New("svc", echo.WithLogger(quietLogger()))); err != nil {
		t.Fatalf("add service: %v", err)
	}
	handle := startProcessor(t, p, node)
	defer handle.Shutdown()
	nextRequest(t, node.connects, "connect request")

	node.sendDirect(t, protocol.CircuitDirectMessageType, protocol.DirectMessage{
		Circuit: "alpha", Sender: "peer", Recipient: "ghost", Payload: []byte(echo.CommandSend),
	})
	node.sendDirect(t, protocol.CircuitDirectMessageType, protocol.DirectMessage{
		Circuit: "alpha", Sender: "peer", Recipient: "svc", Payload: []byte(echo.CommandSend),
	})

	got := node.nextDirect(t)
	if got.msg.Recipient != "peer" || string(got.msg.Payload) != echo.SendResponse {
		t.Fatalf("unexpected message %+v", got.msg)
	}
	node.expectNoDirect(t, 50*time.Millisecond)

	expected := `
# HELP splinter_service_processor_messages_dropped_total Messages dropped, by reason.
# TYPE splinter_service_processor_messages_dropped_total counter
splinter_service_processor_messages_dropped_total{reason="unknown_recipient"} 1
`
	if err := testutil.GatherAndCompare(metrics.Gatherer(), strings.NewReader(expected), "splinter_service_processor_messages_dropped_total"); err != nil {
		t.Fatalf("unexpected drop metrics: %v", err)
	}
}

func TestProcessorIgnoresHeartbeatsAndMalformedFrames(t *testing.T) {
	t.Parallel()
	p, node := newTestProcessor(t, "alpha")
	if err := p.AddService(echo.New("svc", echo.WithLogger(quietLogger()))); err != nil {
		t.Fatalf("add service: %v", err)
	}
	handle := startProcessor(t, p, node)
	defer handle.Shutdown()
	nextRequest(t, node.connects, "connect request")

	heartbeat := protocol.NetworkMessage{MessageType: protocol.NetworkHeartbeat}
	node.sendRaw(t, heartbeat.Marshal())
	node.sendRaw(t, []byte{0xff, 0xff, 0xff})
	echoMsg := protocol.NetworkMessage{MessageType: protocol.NetworkEcho, Payload: []byte("ping")}
	node.sendRaw(t, echoMsg.Marshal())
	node.sendDirect(t, protocol.CircuitDirectMessageType, protocol.DirectMessage{
		Circuit: "alpha", Sender: "peer", Recipient: "svc", Payload: []byte("hello"), CorrelationID: "c1",
	})

	got := node.nextDirect(t)
	if string(got.msg.Payload) != "hello" || got.msg.CorrelationID != "c1" {
		t.Fatalf("processor must keep running after bad frames, got %+v", got.msg)
	}
}

func TestProcessorLifecycleErrors(t *testing.T) {
	t.Parallel()
	p, node := newTestProcessor(t, "alpha")

	if err := p.AddService(echo.New("svc", echo.WithLogger(quietLogger()))); err != nil {
		t.Fatalf("add service: %v", err)
	}
	var dup *service.AddServiceError
	if err := p.AddService(echo.New("svc")); !errors.As(err, &dup) || dup.ServiceID != "svc" {
		t.Fatalf("expected AddServiceError, got %v", err)
	}
	if p.ServiceCount() != 1 {
		t.Fatalf("duplicate add must not change state, count=%d", p.ServiceCount())
	}

	handle := startProcessor(t, p, node)
	if _, err := p.Start(); !errors.Is(err, service.ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if !p.Running() {
		t.Fatal("processor must report running")
	}

	// Services may join a running processor.
	if err := p.AddService(echo.New("late", echo.WithLogger(quietLogger()))); err != nil {
		t.Fatalf("add late service: %v", err)
	}
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		seen[nextRequest(t, node.connects, "connect request").ServiceID] = true
	}
	if !seen["svc"] || !seen["late"] {
		t.Fatalf("expected both services to connect, got %v", seen)
	}

	if err := handle.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if p.Running() {
		t.Fatal("processor must not report running after shutdown")
	}
	if err := handle.Shutdown(); !errors.Is(err, service.ErrAlreadyShutdown) {
		t.Fatalf("expected ErrAlreadyShutdown, got %v", err)
	}
	if err := p.AddService(echo.New("after")); !errors.Is(err, service.ErrProcessorShutdown) {
		t.Fatalf("expected ErrProcessorShutdown, got %v", err)
	}

	names := []string{}
	for _, jh := range handle.JoinHandles() {
		if err := jh.Join(); err != nil {
			t.Fatalf("pump %s: %v", jh.Name(), err)
		}
		names = append(names, jh.Name())
	}
	if strings.Join(names, ",") != "incoming,outgoing,inbound" {
		t.Fatalf("unexpected pumps %v", names)
	}
}

func TestProcessorShutdownReportsRejectedService(t *testing.T) {
	t.Parallel()
	p, node := newTestProcessor(t, "alpha")
	node.rejectConnect("bad", protocol.StatusErrorServiceRegistration)

	if err := p.AddService(echo.New("bad", echo.WithLogger(quietLogger()))); err != nil {
		t.Fatalf("add service: %v", err)
	}
	if err := p.AddService(echo.New("good", echo.WithLogger(quietLogger()))); err != nil {
		t.Fatalf("add service: %v", err)
	}
	handle := startProcessor(t, p, node)
	nextRequest(t, node.connects, "connect request")
	nextRequest(t, node.connects, "connect request")

	err := handle.Shutdown()
	var rejected *service.RejectedError
	if !errors.As(err, &rejected) || rejected.ServiceID != "bad" {
		t.Fatalf("expected rejection of bad, got %v", err)
	}
	var lifecycle *service.LifecycleError
	if !errors.As(err, &lifecycle) || lifecycle.Phase != service.PhaseStart {
		t.Fatalf("expected start LifecycleError, got %v", err)
	}
	if req := nextRequest(t, node.disconnects, "disconnect request"); req.ServiceID != "good" {
		t.Fatalf("the healthy service must still be stopped, got %+v", req)
	}
}

func TestProcessorFailsWaitersWhenNodeDisconnects(t *testing.T) {
	t.Parallel()
	p, node := newTestProcessor(t, "alpha")
	if err := p.AddService(echo.New("svc", echo.WithLogger(quietLogger()))); err != nil {
		t.Fatalf("add service: %v", err)
	}
	handle := startProcessor(t, p, node)
	nextRequest(t, node.connects, "connect request")

	node.sendDirect(t, protocol.CircuitDirectMessageType, protocol.DirectMessage{
		Circuit: "alpha", Sender: "peer", Recipient: "svc", Payload: []byte(echo.CommandSendAndAwait),
	})
	if got := node.nextDirect(t); string(got.msg.Payload) != echo.AwaitRequest {
		t.Fatalf("unexpected message %+v", got.msg)
	}
	if err := node.conn.Close(); err != nil {
		t.Fatalf("close node connection: %v", err)
	}

	deadline := time.Now().Add(nodeWait)
	for p.Router().Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("pending waiter was not failed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}

	err := handle.Shutdown()
	if !errors.Is(err, service.ErrTransportDisconnected) {
		t.Fatalf("expected the await to fail with ErrTransportDisconnected, got %v", err)
	}
}

func TestNewProcessorValidatesArguments(t *testing.T) {
	t.Parallel()
	if _, err := service.NewProcessor(nil, "alpha", 1, 1, 1); !errors.Is(err, service.ErrProcessorConstruction) {
		t.Fatalf("expected ErrProcessorConstruction for nil connection, got %v", err)
	}
	local, _ := mesh.NewInprocPair("validate")
	if _, err := service.NewProcessor(local, "alpha", 1, 1, 0); !errors.Is(err, service.ErrProcessorConstruction) {
		t.Fatalf("expected ErrProcessorConstruction for zero capacity, got %v", err)
	}
}
