package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type routedReply struct {
	msg ServiceMessage
	err error
}

// Router routes inbound messages either to the caller awaiting their
// correlation id or, when nobody waits, to the unmatched queue read by the
// dispatch pump.
type Router struct {
	mu        sync.Mutex
	expected  map[string]chan routedReply
	failure   error
	unmatched chan ServiceMessage
	closed    chan struct{}
	closeOnce sync.Once
	metrics   *Metrics
}

func NewRouter(capacity int, metrics *Metrics) *Router {
	if capacity < 1 {
		capacity = 1
	}
	return &Router{
		expected:  make(map[string]chan routedReply),
		unmatched: make(chan ServiceMessage, capacity),
		closed:    make(chan struct{}),
		metrics:   metrics,
	}
}

// NewCorrelationID returns a random UUIDv4 string.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Route hands msg to its waiter if one exists, otherwise queues it for
// dispatch. Blocks while the unmatched queue is full.
func (r *Router) Route(msg ServiceMessage) error {
	if id := msg.GetCorrelationID(); id != "" {
		r.mu.Lock()
		waiter, ok := r.expected[id]
		if ok {
			delete(r.expected, id)
			r.metrics.SetPendingReplies(len(r.expected))
		}
		r.mu.Unlock()
		if ok {
			waiter <- routedReply{msg: msg}
			r.metrics.RecordRouted(true)
			return nil
		}
	}

	select {
	case <-r.closed:
		return ErrRouterClosed
	default:
	}
	select {
	case r.unmatched <- msg:
		r.metrics.RecordRouted(false)
		return nil
	case <-r.closed:
		return ErrRouterClosed
	}
}

// ExpectReply registers a one-shot waiter for correlationID. Register before
// sending the request so the reply cannot overtake the registration.
func (r *Router) ExpectReply(correlationID string) *MessageFuture {
	ch := make(chan routedReply, 1)
	future := &MessageFuture{router: r, correlationID: correlationID, ch: ch}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure != nil {
		ch <- routedReply{err: r.failure}
		return future
	}
	if _, exists := r.expected[correlationID]; exists {
		ch <- routedReply{err: ErrDuplicateCorrelationID}
		return future
	}
	r.expected[correlationID] = ch
	r.metrics.SetPendingReplies(len(r.expected))
	return future
}

func (r *Router) Unmatched() <-chan ServiceMessage {
	return r.unmatched
}

// Fail resolves every pending waiter with err. Waiters registered afterwards
// fail immediately with the same error.
func (r *Router) Fail(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure == nil {
		r.failure = err
	}
	for id, waiter := range r.expected {
		waiter <- routedReply{err: err}
		delete(r.expected, id)
	}
	r.metrics.SetPendingReplies(0)
}

func (r *Router) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
	})
	r.Fail(ErrRouterClosed)
}

func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expected)
}

func (r *Router) cancel(correlationID string, ch chan routedReply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.expected[correlationID]; ok && current == ch {
		delete(r.expected, correlationID)
		r.metrics.SetPendingReplies(len(r.expected))
	}
}

// MessageFuture is the receiving side of ExpectReply. It is owned by a
// single caller.
type MessageFuture struct {
	router        *Router
	correlationID string
	ch            chan routedReply
	result        *routedReply
}

func (f *MessageFuture) CorrelationID() string {
	return f.correlationID
}

// Get waits for the reply. When ctx ends first the waiter is removed and a
// late reply goes to the unmatched queue.
func (f *MessageFuture) Get(ctx context.Context) (ServiceMessage, error) {
	if f.result != nil {
		return f.result.msg, f.result.err
	}
	select {
	case reply := <-f.ch:
		f.result = &reply
		return reply.msg, reply.err
	case <-ctx.Done():
		f.Cancel()
		// The reply may have landed between ctx firing and the removal.
		select {
		case reply := <-f.ch:
			f.result = &reply
			return reply.msg, reply.err
		default:
		}
		return nil, ctx.Err()
	}
}

// Cancel drops the waiter without waiting.
func (f *MessageFuture) Cancel() {
	f.router.cancel(f.correlationID, f.ch)
}
