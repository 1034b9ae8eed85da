package mesh

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// Frames on a TCP connection are [4-byte big-endian length][payload].
const (
	tcpFrameHeaderLen = 4
	tcpMaxFrameSize   = 16 << 20
	tcpDialTimeout    = 5 * time.Second
	tcpWriteTimeout   = 10 * time.Second
)

// TCPConnection carries length-prefixed frames over a TCP stream addressed by a
// multiaddr such as /ip4/127.0.0.1/tcp/8044.
type TCPConnection struct {
	conn    manet.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// DialTCP connects to a node endpoint given as a multiaddr string.
func DialTCP(ctx context.Context, endpoint string) (*TCPConnection, error) {
	addr, err := ma.NewMultiaddr(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse node endpoint %q: %w", endpoint, err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, tcpDialTimeout)
	defer cancel()
	var dialer manet.Dialer
	conn, err := dialer.DialContext(dialCtx, addr)
	if err != nil {
		return nil, fmt.Errorf("dial node endpoint %s: %w", addr, err)
	}
	return NewTCPConnection(conn), nil
}

func NewTCPConnection(conn manet.Conn) *TCPConnection {
	return &TCPConnection{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64<<10),
	}
}

func (c *TCPConnection) Send(payload []byte) error {
	if len(payload) > tcpMaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit %d", len(payload), tcpMaxFrameSize)
	}
	frame := make([]byte, tcpFrameHeaderLen+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[tcpFrameHeaderLen:], payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(tcpWriteTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(frame)
	return err
}

func (c *TCPConnection) Recv() ([]byte, error) {
	var header [tcpFrameHeaderLen]byte
	if _, err := io.ReadFull(c.reader, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > tcpMaxFrameSize {
		return nil, fmt.Errorf("incoming frame of %d bytes exceeds limit %d", size, tcpMaxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *TCPConnection) RemoteEndpoint() string {
	return c.conn.RemoteMultiaddr().String()
}

func (c *TCPConnection) Close() error {
	return c.conn.Close()
}

// TCPListener accepts framed TCP connections. The processor only dials; the
// listener exists for node-side tooling and tests.
type TCPListener struct {
	listener manet.Listener
}

func ListenTCP(endpoint string) (*TCPListener, error) {
	addr, err := ma.NewMultiaddr(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse listen endpoint %q: %w", endpoint, err)
	}
	l, err := manet.Listen(addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &TCPListener{listener: l}, nil
}

func (l *TCPListener) Accept() (*TCPConnection, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return NewTCPConnection(conn), nil
}

// Endpoint returns the bound multiaddr, including the port chosen for tcp/0.
func (l *TCPListener) Endpoint() string {
	return l.listener.Multiaddr().String()
}

func (l *TCPListener) Close() error {
	return l.listener.Close()
}
