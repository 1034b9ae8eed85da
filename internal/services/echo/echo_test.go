package echo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"splinter-services/go-runtime/internal/service"
)

type sentMessage struct {
	kind          string
	recipient     string
	payload       string
	correlationID string
}

type fakeSender struct {
	sent       []sentMessage
	awaitReply []byte
	awaitErr   error
	sawCtx     bool
}

func (f *fakeSender) Send(recipient string, payload []byte) error {
	f.sent = append(f.sent, sentMessage{kind: "send", recipient: recipient, payload: string(payload)})
	return nil
}

func (f *fakeSender) SendAndAwait(recipient string, payload []byte) ([]byte, error) {
	f.sent = append(f.sent, sentMessage{kind: "await", recipient: recipient, payload: string(payload)})
	return f.awaitReply, f.awaitErr
}

func (f *fakeSender) SendAndAwaitContext(ctx context.Context, recipient string, payload []byte) ([]byte, error) {
	f.sawCtx = true
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("expected a deadline")
	}
	return f.SendAndAwait(recipient, payload)
}

func (f *fakeSender) Reply(origin service.MessageContext, payload []byte) error {
	f.sent = append(f.sent, sentMessage{
		kind:          "reply",
		recipient:     origin.Sender,
		payload:       string(payload),
		correlationID: origin.CorrelationID,
	})
	return nil
}

type fakeRegistry struct {
	sender       *fakeSender
	connected    []string
	disconnected []string
	connectErr   error
}

func (r *fakeRegistry) Connect(serviceID string) (service.NetworkSender, error) {
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	r.connected = append(r.connected, serviceID)
	return r.sender, nil
}

func (r *fakeRegistry) Disconnect(serviceID string) error {
	r.disconnected = append(r.disconnected, serviceID)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEchoCommands(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{awaitReply: []byte("respond to waiting")}
	registry := &fakeRegistry{sender: sender}
	svc := New("echo-1", WithLogger(quietLogger()))

	if err := svc.Start(registry); err != nil {
		t.Fatalf("start: %v", err)
	}
	origin := service.MessageContext{Sender: "peer", Circuit: "alpha", CorrelationID: "corr-1"}
	for _, payload := range []string{CommandSend, CommandSendAndAwait, CommandReply, "hello"} {
		if err := svc.HandleMessage([]byte(payload), origin); err != nil {
			t.Fatalf("handle %q: %v", payload, err)
		}
	}

	want := []sentMessage{
		{kind: "send", recipient: "peer", payload: SendResponse},
		{kind: "await", recipient: "peer", payload: AwaitRequest},
		{kind: "reply", recipient: "peer", payload: ReplyResponse, correlationID: "corr-1"},
		{kind: "reply", recipient: "peer", payload: "hello", correlationID: "corr-1"},
	}
	if len(sender.sent) != len(want) {
		t.Fatalf("unexpected sends: %+v", sender.sent)
	}
	for i := range want {
		if sender.sent[i] != want[i] {
			t.Fatalf("send %d: got %+v want %+v", i, sender.sent[i], want[i])
		}
	}
	replies := svc.AwaitedReplies()
	if len(replies) != 1 || string(replies[0]) != "respond to waiting" {
		t.Fatalf("unexpected awaited replies: %q", replies)
	}
	if svc.Handled() != 4 {
		t.Fatalf("expected 4 handled messages, got %d", svc.Handled())
	}

	if err := svc.Stop(registry); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(registry.disconnected) != 1 || registry.disconnected[0] != "echo-1" {
		t.Fatalf("unexpected disconnects: %v", registry.disconnected)
	}
	if err := svc.HandleMessage([]byte(CommandSend), origin); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after stop, got %v", err)
	}
}

func TestEchoAwaitTimeoutUsesContext(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{awaitReply: []byte("ok")}
	svc := New("echo-2", WithLogger(quietLogger()), WithAwaitTimeout(time.Second))
	if err := svc.Start(&fakeRegistry{sender: sender}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.HandleMessage([]byte(CommandSendAndAwait), service.MessageContext{Sender: "peer"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !sender.sawCtx {
		t.Fatal("expected the bounded await to be used")
	}
}

func TestEchoPropagatesAwaitAndConnectErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	svc := New("echo-3", WithLogger(quietLogger()))
	if err := svc.Start(&fakeRegistry{connectErr: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected connect error, got %v", err)
	}

	sender := &fakeSender{awaitErr: boom}
	if err := svc.Start(&fakeRegistry{sender: sender}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.HandleMessage([]byte(CommandSendAndAwait), service.MessageContext{Sender: "peer"}); !errors.Is(err, boom) {
		t.Fatalf("expected await error, got %v", err)
	}
}
