package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type NetworkMessageType int32

const (
	NetworkMessageTypeUnset NetworkMessageType = 0
	NetworkEcho             NetworkMessageType = 1
	NetworkHeartbeat        NetworkMessageType = 2
	NetworkCircuit          NetworkMessageType = 3
	NetworkAuthorization    NetworkMessageType = 4
)

func (t NetworkMessageType) String() string {
	switch t {
	case NetworkMessageTypeUnset:
		return "UNSET_NETWORK_MESSAGE_TYPE"
	case NetworkEcho:
		return "NETWORK_ECHO"
	case NetworkHeartbeat:
		return "NETWORK_HEARTBEAT"
	case NetworkCircuit:
		return "CIRCUIT"
	case NetworkAuthorization:
		return "AUTHORIZATION"
	default:
		return fmt.Sprintf("NetworkMessageType(%d)", int32(t))
	}
}

// NetworkMessage is the outer frame of everything sent over a node connection.
type NetworkMessage struct {
	MessageType NetworkMessageType
	Payload     []byte
}

func (m *NetworkMessage) Marshal() []byte {
	var b []byte
	b = appendEnum(b, 1, int32(m.MessageType))
	b = appendBytes(b, 2, m.Payload)
	return b
}

func (m *NetworkMessage) Unmarshal(b []byte) error {
	*m = NetworkMessage{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		switch num {
		case 1:
			var t int32
			n, ok, err := consumeEnum(num, typ, v, &t)
			m.MessageType = NetworkMessageType(t)
			return n, ok, err
		case 2:
			return consumeBytes(num, typ, v, &m.Payload)
		}
		return 0, false, nil
	})
}

// ParseNetworkMessage decodes the outer frame of a message received from the node.
func ParseNetworkMessage(b []byte) (*NetworkMessage, error) {
	msg := &NetworkMessage{}
	if err := msg.Unmarshal(b); err != nil {
		return nil, fmt.Errorf("parse network message: %w", err)
	}
	return msg, nil
}
