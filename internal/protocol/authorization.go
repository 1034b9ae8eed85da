package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type AuthorizationMessageType int32

const (
	AuthorizationMessageTypeUnset AuthorizationMessageType = 0
	AuthConnectRequest            AuthorizationMessageType = 1
	AuthConnectResponse           AuthorizationMessageType = 2
	AuthAuthorize                 AuthorizationMessageType = 3
	AuthAuthorizationError        AuthorizationMessageType = 4
)

func (t AuthorizationMessageType) String() string {
	switch t {
	case AuthorizationMessageTypeUnset:
		return "UNSET_AUTHORIZATION_MESSAGE_TYPE"
	case AuthConnectRequest:
		return "CONNECT_REQUEST"
	case AuthConnectResponse:
		return "CONNECT_RESPONSE"
	case AuthAuthorize:
		return "AUTHORIZE"
	case AuthAuthorizationError:
		return "AUTHORIZATION_ERROR"
	default:
		return fmt.Sprintf("AuthorizationMessageType(%d)", int32(t))
	}
}

type HandshakeMode int32

const (
	HandshakeModeUnset      HandshakeMode = 0
	HandshakeUnidirectional HandshakeMode = 1
	HandshakeBidirectional  HandshakeMode = 2
)

type AuthorizationMessage struct {
	MessageType AuthorizationMessageType
	Payload     []byte
}

func (m *AuthorizationMessage) Marshal() []byte {
	var b []byte
	b = appendEnum(b, 1, int32(m.MessageType))
	b = appendBytes(b, 2, m.Payload)
	return b
}

func (m *AuthorizationMessage) Unmarshal(b []byte) error {
	*m = AuthorizationMessage{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		switch num {
		case 1:
			var t int32
			n, ok, err := consumeEnum(num, typ, v, &t)
			m.MessageType = AuthorizationMessageType(t)
			return n, ok, err
		case 2:
			return consumeBytes(num, typ, v, &m.Payload)
		}
		return 0, false, nil
	})
}

type ConnectRequest struct {
	HandshakeMode HandshakeMode
}

func (m *ConnectRequest) Marshal() []byte {
	return appendEnum(nil, 1, int32(m.HandshakeMode))
}

func (m *ConnectRequest) Unmarshal(b []byte) error {
	*m = ConnectRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		if num == 1 {
			var mode int32
			n, ok, err := consumeEnum(num, typ, v, &mode)
			m.HandshakeMode = HandshakeMode(mode)
			return n, ok, err
		}
		return 0, false, nil
	})
}

// NewConnectRequest builds the framed handshake a processor sends once when it
// starts: NetworkMessage{AUTHORIZATION} > AuthorizationMessage{CONNECT_REQUEST} >
// ConnectRequest{UNIDIRECTIONAL}.
func NewConnectRequest() []byte {
	req := ConnectRequest{HandshakeMode: HandshakeUnidirectional}
	auth := AuthorizationMessage{
		MessageType: AuthConnectRequest,
		Payload:     req.Marshal(),
	}
	network := NetworkMessage{
		MessageType: NetworkAuthorization,
		Payload:     auth.Marshal(),
	}
	return network.Marshal()
}
