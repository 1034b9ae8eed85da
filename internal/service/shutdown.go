package service

import (
	"fmt"
	"sync/atomic"
)

// JoinHandle waits for a pump goroutine.
type JoinHandle struct {
	name string
	done chan struct{}
	err  error
}

func spawn(name string, fn func() error) *JoinHandle {
	h := &JoinHandle{name: name, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("%s pump panicked: %v", name, r)
			}
		}()
		h.err = fn()
	}()
	return h
}

func (h *JoinHandle) Name() string {
	return h.name
}

// Join blocks until the goroutine returns and yields its error.
func (h *JoinHandle) Join() error {
	<-h.done
	return h.err
}

// ShutdownHandle stops a started processor.
type ShutdownHandle struct {
	processor *Processor
	pumps     []*JoinHandle
	called    atomic.Bool
}

// JoinHandles returns the incoming, outgoing and inbound pump handles.
func (h *ShutdownHandle) JoinHandles() []*JoinHandle {
	out := make([]*JoinHandle, len(h.pumps))
	copy(out, h.pumps)
	return out
}

// Shutdown stops every service, then the pumps, then the mesh. Services are
// stopped first because Stop disconnects through the running pumps. The
// first error from a worker or pump is returned after everything is joined.
func (h *ShutdownHandle) Shutdown() error {
	if !h.called.CompareAndSwap(false, true) {
		return ErrAlreadyShutdown
	}
	p := h.processor
	p.log.logInfo("shutdown", "shutting down service processor")

	p.state.mu.Lock()
	p.state.closed = true
	for id, handle := range p.state.services {
		p.log.logDebug("shutdown", "shutting down service", "service_id", id)
		if !handle.deliver(Shutdown{}) {
			p.log.logDebug("shutdown", "service already exited", "service_id", id)
		}
	}
	p.state.mu.Unlock()

	// Workers are joined outside the lock so dispatch can keep draining the
	// unmatched queue while services disconnect.
	firstErr := p.state.workers.Wait()

	p.running.Store(false)
	close(p.stopped)
	p.router.Close()
	for _, pump := range h.pumps {
		if err := pump.Join(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.mesh.Shutdown()
	p.log.logInfo("shutdown", "service processor stopped")
	return firstErr
}
