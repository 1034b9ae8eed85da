//go:build real_waku

package mesh

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	wakuNode "github.com/waku-org/go-waku/waku/v2/node"
	wakuprotocol "github.com/waku-org/go-waku/waku/v2/protocol"
	wpb "github.com/waku-org/go-waku/waku/v2/protocol/pb"
	"github.com/waku-org/go-waku/waku/v2/protocol/relay"
)

const wakuPublishTimeout = 5 * time.Second

type wakuConnection struct {
	node      *wakuNode.WakuNode
	cfg       WakuConfig
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// DialWaku starts a relay node, dials the bootstrap peers and subscribes to the
// inbound content topic.
func DialWaku(ctx context.Context, cfg WakuConfig) (Connection, error) {
	cfg = cfg.normalize()
	hostAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, err
	}
	node, err := wakuNode.New(wakuNode.WithHostAddress(hostAddr), wakuNode.WithWakuRelay())
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		return nil, err
	}
	for _, addr := range cfg.BootstrapNodes {
		if err := node.DialPeer(ctx, addr); err != nil {
			slog.Warn("waku bootstrap dial failed", "component", "mesh", "peer_addr", addr, "reason", err.Error())
		}
	}

	filter := wakuprotocol.NewContentFilter(cfg.PubsubTopic, cfg.InboundContentTopic)
	subs, err := node.Relay().Subscribe(context.Background(), filter)
	if err != nil {
		node.Stop()
		return nil, err
	}

	c := &wakuConnection{
		node:   node,
		cfg:    cfg,
		in:     make(chan []byte, defaultInprocBuffer),
		closed: make(chan struct{}),
	}
	for _, sub := range subs {
		go c.consume(sub)
	}
	return c, nil
}

func (c *wakuConnection) consume(subscription *relay.Subscription) {
	for env := range subscription.Ch {
		if env == nil || env.Message() == nil {
			continue
		}
		frame := append([]byte(nil), env.Message().Payload...)
		select {
		case c.in <- frame:
		case <-c.closed:
			return
		}
	}
}

func (c *wakuConnection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	ctx, cancel := context.WithTimeout(context.Background(), wakuPublishTimeout)
	defer cancel()
	ts := time.Now().UnixNano()
	wm := &wpb.WakuMessage{
		Payload:      payload,
		ContentTopic: c.cfg.OutboundContentTopic,
		Timestamp:    &ts,
	}
	_, err := c.node.Relay().Publish(ctx, wm, relay.WithPubSubTopic(c.cfg.PubsubTopic))
	return err
}

func (c *wakuConnection) Recv() ([]byte, error) {
	select {
	case frame := <-c.in:
		return frame, nil
	case <-c.closed:
		return nil, ErrConnectionClosed
	}
}

func (c *wakuConnection) RemoteEndpoint() string {
	return "waku:" + c.cfg.PubsubTopic + c.cfg.OutboundContentTopic
}

func (c *wakuConnection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.node.Stop()
	})
	return nil
}
