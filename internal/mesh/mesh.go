// Package mesh multiplexes a set of point-to-point connections behind one
// bounded incoming queue. Each connection gets a mesh id, a reader goroutine
// feeding the shared incoming queue and a writer goroutine draining its own
// bounded outgoing queue.
package mesh

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrTimeout           = errors.New("mesh receive timed out")
	ErrDisconnected      = errors.New("mesh disconnected")
	ErrQueueFull         = errors.New("mesh outgoing queue is full")
	ErrUnknownConnection = errors.New("unknown mesh connection")
	ErrMeshShutdown      = errors.New("mesh is shut down")
	ErrConnectionClosed  = errors.New("connection closed")
)

// Connection is a framed, bidirectional byte transport to a single peer.
// Recv blocks until a frame arrives or the connection fails; Close must unblock
// a pending Recv.
type Connection interface {
	Send(payload []byte) error
	Recv() ([]byte, error)
	RemoteEndpoint() string
	Close() error
}

// Envelope is one frame tagged with the mesh id of the connection it came
// from or is destined for.
type Envelope struct {
	MeshID  int
	Payload []byte
}

type Option func(*Mesh)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Mesh) {
		if logger != nil {
			m.logger = logger
		}
	}
}

type Mesh struct {
	mu               sync.RWMutex
	conns            map[int]*meshConn
	nextID           int
	shutdown         bool
	incoming         chan Envelope
	outgoingCapacity int
	disconnected     chan struct{}
	disconnectOnce   sync.Once
	wg               sync.WaitGroup
	logger           *slog.Logger
}

type meshConn struct {
	id       int
	conn     Connection
	outgoing chan []byte
	done     chan struct{}
}

func New(incomingCapacity, outgoingCapacity int, opts ...Option) *Mesh {
	if incomingCapacity < 1 {
		incomingCapacity = 1
	}
	if outgoingCapacity < 1 {
		outgoingCapacity = 1
	}
	m := &Mesh{
		conns:            make(map[int]*meshConn),
		incoming:         make(chan Envelope, incomingCapacity),
		outgoingCapacity: outgoingCapacity,
		disconnected:     make(chan struct{}),
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add registers conn and returns its mesh id.
func (m *Mesh) Add(conn Connection) (int, error) {
	if conn == nil {
		return 0, errors.New("connection is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return 0, ErrMeshShutdown
	}
	id := m.nextID
	m.nextID++
	mc := &meshConn{
		id:       id,
		conn:     conn,
		outgoing: make(chan []byte, m.outgoingCapacity),
		done:     make(chan struct{}),
	}
	m.conns[id] = mc

	m.wg.Add(2)
	go m.readLoop(mc)
	go m.writeLoop(mc)
	return id, nil
}

// Send queues env.Payload for the connection env.MeshID without blocking.
func (m *Mesh) Send(env Envelope) error {
	m.mu.RLock()
	mc, ok := m.conns[env.MeshID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, env.MeshID)
	}
	select {
	case <-mc.done:
		return fmt.Errorf("%w: %d", ErrUnknownConnection, env.MeshID)
	default:
	}
	select {
	case mc.outgoing <- env.Payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// RecvTimeout waits up to timeout for the next incoming envelope. It returns
// ErrDisconnected once every connection is gone and nothing is left queued.
func (m *Mesh) RecvTimeout(timeout time.Duration) (Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-m.incoming:
		return env, nil
	case <-m.disconnected:
		select {
		case env := <-m.incoming:
			return env, nil
		default:
			return Envelope{}, ErrDisconnected
		}
	case <-timer.C:
		return Envelope{}, ErrTimeout
	}
}

// Remove closes and forgets the connection with the given mesh id.
func (m *Mesh) Remove(id int) error {
	m.mu.Lock()
	mc, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	remaining := len(m.conns)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, id)
	}
	close(mc.done)
	if err := mc.conn.Close(); err != nil {
		m.logger.Debug("connection close failed", "component", "mesh", "mesh_id", id, "error", err.Error())
	}
	if remaining == 0 {
		m.markDisconnected()
	}
	return nil
}

// Shutdown closes every connection and waits for the mesh goroutines to exit.
func (m *Mesh) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	ids := make([]int, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Remove(id)
	}
	m.markDisconnected()
	m.wg.Wait()
}

func (m *Mesh) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

func (m *Mesh) markDisconnected() {
	m.disconnectOnce.Do(func() {
		close(m.disconnected)
	})
}

func (m *Mesh) readLoop(mc *meshConn) {
	defer m.wg.Done()
	for {
		payload, err := mc.conn.Recv()
		if err != nil {
			select {
			case <-mc.done:
			default:
				m.logger.Warn("connection receive failed", "component", "mesh", "mesh_id", mc.id, "remote", mc.conn.RemoteEndpoint(), "error", err.Error())
				_ = m.Remove(mc.id)
			}
			return
		}
		select {
		case m.incoming <- Envelope{MeshID: mc.id, Payload: payload}:
		case <-mc.done:
			return
		}
	}
}

func (m *Mesh) writeLoop(mc *meshConn) {
	defer m.wg.Done()
	for {
		select {
		case <-mc.done:
			return
		case payload := <-mc.outgoing:
			if err := mc.conn.Send(payload); err != nil {
				m.logger.Warn("connection send failed", "component", "mesh", "mesh_id", mc.id, "remote", mc.conn.RemoteEndpoint(), "error", err.Error())
				_ = m.Remove(mc.id)
				return
			}
		}
	}
}
