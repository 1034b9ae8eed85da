package mesh

import "sync"

const defaultInprocBuffer = 128

type inprocConn struct {
	endpoint   string
	in         <-chan []byte
	out        chan<- []byte
	closed     chan struct{}
	peerClosed <-chan struct{}
	closeOnce  sync.Once
}

// NewInprocPair returns two connected in-process connections. Frames sent on
// one side are received on the other in order.
func NewInprocPair(endpoint string) (Connection, Connection) {
	aToB := make(chan []byte, defaultInprocBuffer)
	bToA := make(chan []byte, defaultInprocBuffer)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})
	a := &inprocConn{
		endpoint:   "inproc://" + endpoint + "#a",
		in:         bToA,
		out:        aToB,
		closed:     aClosed,
		peerClosed: bClosed,
	}
	b := &inprocConn{
		endpoint:   "inproc://" + endpoint + "#b",
		in:         aToB,
		out:        bToA,
		closed:     bClosed,
		peerClosed: aClosed,
	}
	return a, b
}

func (c *inprocConn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	case <-c.peerClosed:
		return ErrConnectionClosed
	default:
	}
	frame := append([]byte(nil), payload...)
	select {
	case c.out <- frame:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	case <-c.peerClosed:
		return ErrConnectionClosed
	}
}

func (c *inprocConn) Recv() ([]byte, error) {
	select {
	case frame := <-c.in:
		return frame, nil
	case <-c.closed:
		return nil, ErrConnectionClosed
	case <-c.peerClosed:
		// frames sent before the peer closed are still delivered
		select {
		case frame := <-c.in:
			return frame, nil
		default:
			return nil, ErrConnectionClosed
		}
	}
}

func (c *inprocConn) RemoteEndpoint() string {
	return c.endpoint
}

func (c *inprocConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}
