package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"splinter-services/go-runtime/internal/mesh"
	"splinter-services/go-runtime/internal/platform/ratelimiter"
	"splinter-services/go-runtime/internal/protocol"
)

const (
	DefaultRecvTimeout = 2 * time.Second

	defaultDropWarningsPerSecond = 1.0
	defaultDropWarningBurst      = 5

	meshRetryInterval = 5 * time.Millisecond
)

type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRecvTimeout sets how long each pump blocks before re-checking the
// running flag. It bounds shutdown latency.
func WithRecvTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.recvTimeout = d
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(p *Processor) {
		p.metrics = metrics
	}
}

// WithDropWarningLimit throttles "unknown recipient" warnings per recipient.
// A non-positive rate disables throttling.
func WithDropWarningLimit(perSecond float64, burst int) Option {
	return func(p *Processor) {
		p.dropWarningRate = perSecond
		p.dropWarningBurst = burst
	}
}

type sharedState struct {
	mu       sync.RWMutex
	services map[string]*serviceHandle
	workers  errgroup.Group
	closed   bool
}

// Processor hosts services on one node connection.
type Processor struct {
	circuit         string
	channelCapacity int
	recvTimeout     time.Duration

	mesh       *mesh.Mesh
	nodeMeshID int

	outgoing chan []byte
	stopped  chan struct{}
	router   *Router
	registry *Registry
	state    sharedState

	started atomic.Bool
	running atomic.Bool

	logger           *slog.Logger
	log              processorLogger
	metrics          *Metrics
	dropWarningRate  float64
	dropWarningBurst int
	dropWarnings     *ratelimiter.MapLimiter
}

// NewProcessor adds conn to a new mesh and prepares a processor for
// circuit. incomingCapacity and outgoingCapacity size the mesh queues;
// channelCapacity sizes the outbound channel, the unmatched queue and each
// service channel.
func NewProcessor(conn mesh.Connection, circuit string, incomingCapacity, outgoingCapacity, channelCapacity int, opts ...Option) (*Processor, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: connection is required", ErrProcessorConstruction)
	}
	if incomingCapacity < 1 || outgoingCapacity < 1 || channelCapacity < 1 {
		return nil, fmt.Errorf("%w: capacities must be positive", ErrProcessorConstruction)
	}

	p := &Processor{
		circuit:          circuit,
		channelCapacity:  channelCapacity,
		recvTimeout:      DefaultRecvTimeout,
		outgoing:         make(chan []byte, channelCapacity),
		stopped:          make(chan struct{}),
		logger:           slog.Default(),
		dropWarningRate:  defaultDropWarningsPerSecond,
		dropWarningBurst: defaultDropWarningBurst,
	}
	p.state.services = make(map[string]*serviceHandle)
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.log = processorLogger{logger: p.logger, metrics: p.metrics}
	p.dropWarnings = ratelimiter.New(p.dropWarningRate, p.dropWarningBurst, 0)

	p.mesh = mesh.New(incomingCapacity, outgoingCapacity, mesh.WithLogger(p.logger))
	id, err := p.mesh.Add(conn)
	if err != nil {
		p.mesh.Shutdown()
		return nil, fmt.Errorf("%w: add connection to mesh: %w", ErrProcessorConstruction, err)
	}
	p.nodeMeshID = id
	p.router = NewRouter(channelCapacity, p.metrics)
	p.registry = newRegistry(circuit, outbound{frames: p.outgoing, done: p.stopped}, p.router)
	return p, nil
}

func (p *Processor) Circuit() string {
	return p.circuit
}

func (p *Processor) Router() *Router {
	return p.router
}

// Running reports whether the pumps are active.
func (p *Processor) Running() bool {
	return p.running.Load()
}

// ServiceCount returns the number of registered services.
func (p *Processor) ServiceCount() int {
	p.state.mu.RLock()
	defer p.state.mu.RUnlock()
	return len(p.state.services)
}

// AddService registers svc and spawns its worker. The worker's Start runs
// right away; a Connect inside it completes once the processor is started.
func (p *Processor) AddService(svc Service) error {
	if svc == nil {
		return errors.New("service is required")
	}
	id := svc.ServiceID()

	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if p.state.closed {
		return ErrProcessorShutdown
	}
	if _, exists := p.state.services[id]; exists {
		return &AddServiceError{ServiceID: id}
	}

	handle := newServiceHandle(id, p.channelCapacity)
	w := &worker{svc: svc, registry: p.registry, inbox: handle.ch, log: p.log}
	p.state.services[id] = handle
	p.state.workers.Go(func() error {
		defer close(handle.done)
		err := w.run()
		if err != nil {
			p.log.recordError(ErrorCategoryService, err, "worker", "service_id", id)
		}
		return err
	})
	p.metrics.SetServices(len(p.state.services))
	p.log.logInfo("add_service", "service added", "service_id", id, "service_type", svc.ServiceType())
	return nil
}

// Start sends the connect handshake and launches the pumps.
func (p *Processor) Start() (*ShutdownHandle, error) {
	if !p.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	if err := p.mesh.Send(mesh.Envelope{MeshID: p.nodeMeshID, Payload: protocol.NewConnectRequest()}); err != nil {
		err = fmt.Errorf("send connect request: %w", err)
		p.router.Fail(err)
		return nil, err
	}

	p.running.Store(true)
	incoming := spawn("incoming", p.runIncoming)
	outgoing := spawn("outgoing", p.runOutgoing)
	inbound := spawn("inbound", p.runInbound)
	p.log.logInfo("start", "service processor started", "circuit", p.circuit)

	return &ShutdownHandle{
		processor: p,
		pumps:     []*JoinHandle{incoming, outgoing, inbound},
	}, nil
}

func (p *Processor) runIncoming() error {
	for p.running.Load() {
		env, err := p.mesh.RecvTimeout(p.recvTimeout)
		switch {
		case errors.Is(err, mesh.ErrTimeout):
			continue
		case errors.Is(err, mesh.ErrDisconnected):
			p.log.recordError(ErrorCategoryNetwork, err, "incoming")
			p.router.Fail(fmt.Errorf("%w: %w", ErrTransportDisconnected, err))
			return nil
		case err != nil:
			p.log.recordError(ErrorCategoryNetwork, err, "incoming")
			continue
		}

		if err := p.processIncoming(env.Payload); err != nil {
			if errors.Is(err, ErrRouterClosed) {
				return nil
			}
			p.log.recordError(ErrorCategoryProtocol, err, "incoming", "mesh_id", env.MeshID)
		}
	}
	return nil
}

func (p *Processor) processIncoming(frame []byte) error {
	network, err := protocol.ParseNetworkMessage(frame)
	if err != nil {
		return fmt.Errorf("parse network message: %w", err)
	}

	switch network.MessageType {
	case protocol.NetworkCircuit:
		return p.processCircuitMessage(network.Payload)
	case protocol.NetworkHeartbeat:
		p.log.logDebug("incoming", "received heartbeat")
		return nil
	case protocol.NetworkAuthorization:
		var auth protocol.AuthorizationMessage
		if err := auth.Unmarshal(network.Payload); err != nil {
			return fmt.Errorf("parse authorization message: %w", err)
		}
		p.log.logDebug("incoming", "received authorization message", "message_type", auth.MessageType.String())
		return nil
	default:
		p.metrics.RecordDropped("unsupported_network_type")
		p.log.logWarn("incoming", "received unimplemented message", "message_type", network.MessageType.String())
		return nil
	}
}

func (p *Processor) processCircuitMessage(payload []byte) error {
	var circuit protocol.CircuitMessage
	if err := circuit.Unmarshal(payload); err != nil {
		return fmt.Errorf("parse circuit message: %w", err)
	}
	msg, err := decodeServiceMessage(circuit.MessageType, circuit.Payload)
	if err != nil {
		return fmt.Errorf("parse %s: %w", circuit.MessageType, err)
	}
	if msg == nil {
		p.metrics.RecordDropped("unsupported_circuit_type")
		p.log.logWarn("incoming", "received unimplemented message", "message_type", circuit.MessageType.String())
		return nil
	}
	p.metrics.RecordReceived(circuit.MessageType.String())
	return p.router.Route(msg)
}

// decodeServiceMessage returns nil, nil for circuit message types the
// processor does not route.
func decodeServiceMessage(msgType protocol.CircuitMessageType, payload []byte) (ServiceMessage, error) {
	var msg interface {
		ServiceMessage
		protocol.Message
	}
	switch msgType {
	case protocol.AdminDirectMessageType:
		msg = &protocol.AdminDirectMessage{}
	case protocol.CircuitDirectMessageType:
		msg = &protocol.CircuitDirectMessage{}
	case protocol.ServiceConnectResponseType:
		msg = &protocol.ServiceConnectResponse{}
	case protocol.ServiceDisconnectResponseType:
		msg = &protocol.ServiceDisconnectResponse{}
	case protocol.CircuitErrorMessage:
		msg = &protocol.CircuitError{}
	default:
		return nil, nil
	}
	if err := msg.Unmarshal(payload); err != nil {
		return nil, err
	}
	return msg, nil
}

func (p *Processor) runInbound() error {
	timer := time.NewTimer(p.recvTimeout)
	defer timer.Stop()
	for p.running.Load() {
		timer.Reset(p.recvTimeout)
		select {
		case msg := <-p.router.Unmatched():
			p.dispatch(msg)
		case <-timer.C:
		}
	}
	return nil
}

func (p *Processor) dispatch(msg ServiceMessage) {
	var recipient string
	switch m := msg.(type) {
	case *protocol.AdminDirectMessage:
		recipient = m.Recipient
	case *protocol.CircuitDirectMessage:
		recipient = m.Recipient
	case *protocol.CircuitError:
		p.metrics.RecordDropped("circuit_error")
		p.log.logWarn("inbound", "received circuit error without a waiting caller",
			"service_id", m.ServiceID, "circuit_error", m.Error.String(), "error_message", m.ErrorMessage)
		return
	default:
		p.metrics.RecordDropped("unexpected_response")
		p.log.logWarn("inbound", "received response that nobody awaits",
			"message_type", fmt.Sprintf("%T", msg), "correlation_id", msg.GetCorrelationID())
		return
	}

	p.state.mu.RLock()
	handle, ok := p.state.services[recipient]
	p.state.mu.RUnlock()
	if !ok {
		p.metrics.RecordDropped("unknown_recipient")
		if p.dropWarnings.Allow(recipient, time.Now()) {
			p.log.logWarn("inbound", "service not found, dropping message", "recipient", recipient)
		}
		return
	}
	if !handle.deliver(Deliver{Message: msg}) {
		p.metrics.RecordDropped("service_stopped")
		p.log.logWarn("inbound", "service is no longer running, dropping message", "recipient", recipient)
	}
}

func (p *Processor) runOutgoing() error {
	timer := time.NewTimer(p.recvTimeout)
	defer timer.Stop()
	for p.running.Load() {
		timer.Reset(p.recvTimeout)
		select {
		case frame := <-p.outgoing:
			if err := p.sendToNode(frame); err != nil {
				p.log.recordError(ErrorCategoryNetwork, err, "outgoing")
				continue
			}
			p.metrics.RecordSent()
		case <-timer.C:
		}
	}
	return nil
}

// sendToNode retries while the mesh queue is full and the processor runs.
func (p *Processor) sendToNode(frame []byte) error {
	for {
		err := p.mesh.Send(mesh.Envelope{MeshID: p.nodeMeshID, Payload: frame})
		if !errors.Is(err, mesh.ErrQueueFull) || !p.running.Load() {
			return err
		}
		time.Sleep(meshRetryInterval)
	}
}
