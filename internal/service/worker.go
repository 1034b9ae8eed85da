package service

import (
	"fmt"

	"splinter-services/go-runtime/internal/protocol"
)

// serviceHandle is the processor's side of a running worker.
type serviceHandle struct {
	id   string
	ch   chan ProcessorMessage
	done chan struct{}
}

func newServiceHandle(id string, capacity int) *serviceHandle {
	return &serviceHandle{
		id:   id,
		ch:   make(chan ProcessorMessage, capacity),
		done: make(chan struct{}),
	}
}

// deliver blocks while the worker's channel is full and reports false once
// the worker has exited.
func (h *serviceHandle) deliver(msg ProcessorMessage) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.ch <- msg:
		return true
	case <-h.done:
		return false
	}
}

type worker struct {
	svc      Service
	registry NetworkRegistry
	inbox    <-chan ProcessorMessage
	log      processorLogger
}

// run drives the service lifecycle: Start, handle messages until Shutdown,
// then Stop and Destroy. The first failing hook ends the worker.
func (w *worker) run() (err error) {
	id := w.svc.ServiceID()
	defer func() {
		if r := recover(); r != nil {
			err = &LifecycleError{ServiceID: id, Phase: PhasePanic, Err: fmt.Errorf("%v", r)}
		}
	}()

	if err := w.svc.Start(w.registry); err != nil {
		return &LifecycleError{ServiceID: id, Phase: PhaseStart, Err: err}
	}
	w.log.logDebug("worker", "service started", "service_id", id)

	for {
		msg, ok := <-w.inbox
		if !ok {
			return &LifecycleError{ServiceID: id, Phase: PhaseReceive, Err: ErrServiceChannelClosed}
		}
		switch m := msg.(type) {
		case Shutdown:
			if err := w.svc.Stop(w.registry); err != nil {
				return &LifecycleError{ServiceID: id, Phase: PhaseStop, Err: err}
			}
			if err := w.svc.Destroy(); err != nil {
				return &LifecycleError{ServiceID: id, Phase: PhaseDestroy, Err: err}
			}
			w.log.logDebug("worker", "service stopped", "service_id", id)
			return nil
		case Deliver:
			if err := w.handle(id, m.Message); err != nil {
				return err
			}
		}
	}
}

func (w *worker) handle(id string, msg ServiceMessage) error {
	var direct *protocol.DirectMessage
	switch m := msg.(type) {
	case *protocol.CircuitDirectMessage:
		direct = &m.DirectMessage
	case *protocol.AdminDirectMessage:
		direct = &m.DirectMessage
	default:
		w.log.logWarn("worker", "service received unsupported message", "service_id", id, "message_type", fmt.Sprintf("%T", msg))
		return nil
	}

	msgCtx := MessageContext{
		Sender:        direct.Sender,
		Circuit:       direct.Circuit,
		CorrelationID: direct.CorrelationID,
	}
	if err := w.svc.HandleMessage(direct.Payload, msgCtx); err != nil {
		return &LifecycleError{ServiceID: id, Phase: PhaseHandle, Err: err}
	}
	return nil
}
