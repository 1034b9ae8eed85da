package mesh

import "errors"

var ErrWakuUnavailable = errors.New("go-waku transport is not available in this build (build with -tags real_waku)")

const (
	DefaultWakuPubsubTopic   = "/waku/2/default-waku/proto"
	defaultWakuInboundTopic  = "/splinter/1/node-to-service/proto"
	defaultWakuOutboundTopic = "/splinter/1/service-to-node/proto"
)

// WakuConfig describes a relay-backed connection: frames to the node are
// published on OutboundContentTopic, frames from the node arrive on
// InboundContentTopic.
type WakuConfig struct {
	Port                 int      `yaml:"port"`
	BootstrapNodes       []string `yaml:"bootstrapNodes"`
	PubsubTopic          string   `yaml:"pubsubTopic"`
	InboundContentTopic  string   `yaml:"inboundContentTopic"`
	OutboundContentTopic string   `yaml:"outboundContentTopic"`
}

func DefaultWakuConfig() WakuConfig {
	return WakuConfig{
		Port:                 60000,
		PubsubTopic:          DefaultWakuPubsubTopic,
		InboundContentTopic:  defaultWakuInboundTopic,
		OutboundContentTopic: defaultWakuOutboundTopic,
	}
}

func (c WakuConfig) normalize() WakuConfig {
	def := DefaultWakuConfig()
	if c.Port < 0 {
		c.Port = def.Port
	}
	if c.PubsubTopic == "" {
		c.PubsubTopic = def.PubsubTopic
	}
	if c.InboundContentTopic == "" {
		c.InboundContentTopic = def.InboundContentTopic
	}
	if c.OutboundContentTopic == "" {
		c.OutboundContentTopic = def.OutboundContentTopic
	}
	return c
}
