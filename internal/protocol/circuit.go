package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type CircuitMessageType int32

const (
	CircuitMessageTypeUnset       CircuitMessageType = 0
	CircuitErrorMessage           CircuitMessageType = 1
	ServiceConnectRequestType     CircuitMessageType = 2
	ServiceConnectResponseType    CircuitMessageType = 3
	ServiceDisconnectRequestType  CircuitMessageType = 4
	ServiceDisconnectResponseType CircuitMessageType = 5
	CircuitDirectMessageType      CircuitMessageType = 6
	AdminDirectMessageType        CircuitMessageType = 7
)

func (t CircuitMessageType) String() string {
	switch t {
	case CircuitMessageTypeUnset:
		return "UNSET_CIRCUIT_MESSAGE_TYPE"
	case CircuitErrorMessage:
		return "CIRCUIT_ERROR_MESSAGE"
	case ServiceConnectRequestType:
		return "SERVICE_CONNECT_REQUEST"
	case ServiceConnectResponseType:
		return "SERVICE_CONNECT_RESPONSE"
	case ServiceDisconnectRequestType:
		return "SERVICE_DISCONNECT_REQUEST"
	case ServiceDisconnectResponseType:
		return "SERVICE_DISCONNECT_RESPONSE"
	case CircuitDirectMessageType:
		return "CIRCUIT_DIRECT_MESSAGE"
	case AdminDirectMessageType:
		return "ADMIN_DIRECT_MESSAGE"
	default:
		return fmt.Sprintf("CircuitMessageType(%d)", int32(t))
	}
}

type CircuitMessage struct {
	MessageType CircuitMessageType
	Payload     []byte
}

func (m *CircuitMessage) Marshal() []byte {
	var b []byte
	b = appendEnum(b, 1, int32(m.MessageType))
	b = appendBytes(b, 2, m.Payload)
	return b
}

func (m *CircuitMessage) Unmarshal(b []byte) error {
	*m = CircuitMessage{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		switch num {
		case 1:
			var t int32
			n, ok, err := consumeEnum(num, typ, v, &t)
			m.MessageType = CircuitMessageType(t)
			return n, ok, err
		case 2:
			return consumeBytes(num, typ, v, &m.Payload)
		}
		return 0, false, nil
	})
}

// DirectMessage is the shared body of circuit and admin direct messages.
// An empty CorrelationID marks a fire-and-forget send.
type DirectMessage struct {
	Circuit       string
	Sender        string
	Recipient     string
	Payload       []byte
	CorrelationID string
}

func (m *DirectMessage) GetCorrelationID() string { return m.CorrelationID }

func (m *DirectMessage) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Circuit)
	b = appendString(b, 2, m.Sender)
	b = appendString(b, 3, m.Recipient)
	b = appendBytes(b, 4, m.Payload)
	b = appendString(b, 5, m.CorrelationID)
	return b
}

func (m *DirectMessage) Unmarshal(b []byte) error {
	*m = DirectMessage{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		switch num {
		case 1:
			return consumeString(num, typ, v, &m.Circuit)
		case 2:
			return consumeString(num, typ, v, &m.Sender)
		case 3:
			return consumeString(num, typ, v, &m.Recipient)
		case 4:
			return consumeBytes(num, typ, v, &m.Payload)
		case 5:
			return consumeString(num, typ, v, &m.CorrelationID)
		}
		return 0, false, nil
	})
}

// CircuitDirectMessage is addressed to a service on a regular circuit.
type CircuitDirectMessage struct {
	DirectMessage
}

// AdminDirectMessage is addressed to an admin service; it may travel over the
// admin circuit or any other circuit.
type AdminDirectMessage struct {
	DirectMessage
}

// ServiceRequest is the body of both service connect and disconnect requests.
type ServiceRequest struct {
	Circuit       string
	ServiceID     string
	CorrelationID string
}

func (m *ServiceRequest) GetCorrelationID() string { return m.CorrelationID }

func (m *ServiceRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Circuit)
	b = appendString(b, 2, m.ServiceID)
	b = appendString(b, 3, m.CorrelationID)
	return b
}

func (m *ServiceRequest) Unmarshal(b []byte) error {
	*m = ServiceRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		switch num {
		case 1:
			return consumeString(num, typ, v, &m.Circuit)
		case 2:
			return consumeString(num, typ, v, &m.ServiceID)
		case 3:
			return consumeString(num, typ, v, &m.CorrelationID)
		}
		return 0, false, nil
	})
}

type ServiceConnectRequest struct {
	ServiceRequest
}

type ServiceDisconnectRequest struct {
	ServiceRequest
}

// ResponseStatus is shared by connect and disconnect responses. Only StatusOK
// means the node accepted the request.
type ResponseStatus int32

const (
	StatusUnset                            ResponseStatus = 0
	StatusOK                               ResponseStatus = 1
	StatusErrorCircuitDoesNotExist         ResponseStatus = 2
	StatusErrorServiceNotInCircuitRegistry ResponseStatus = 3
	StatusErrorServiceRegistration         ResponseStatus = 4
	StatusErrorNotAnAllowedNode            ResponseStatus = 5
	StatusErrorQueueFull                   ResponseStatus = 6
	StatusErrorInternalError               ResponseStatus = 7
)

func (s ResponseStatus) String() string {
	switch s {
	case StatusUnset:
		return "UNSET_STATUS"
	case StatusOK:
		return "OK"
	case StatusErrorCircuitDoesNotExist:
		return "ERROR_CIRCUIT_DOES_NOT_EXIST"
	case StatusErrorServiceNotInCircuitRegistry:
		return "ERROR_SERVICE_NOT_IN_CIRCUIT_REGISTRY"
	case StatusErrorServiceRegistration:
		return "ERROR_SERVICE_REGISTRATION"
	case StatusErrorNotAnAllowedNode:
		return "ERROR_NOT_AN_ALLOWED_NODE"
	case StatusErrorQueueFull:
		return "ERROR_QUEUE_FULL"
	case StatusErrorInternalError:
		return "ERROR_INTERNAL_ERROR"
	default:
		return fmt.Sprintf("ResponseStatus(%d)", int32(s))
	}
}

// ServiceResponse is the body of both service connect and disconnect responses.
type ServiceResponse struct {
	Circuit       string
	ServiceID     string
	Status        ResponseStatus
	ErrorMessage  string
	CorrelationID string
}

func (m *ServiceResponse) GetCorrelationID() string { return m.CorrelationID }

func (m *ServiceResponse) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Circuit)
	b = appendString(b, 2, m.ServiceID)
	b = appendEnum(b, 3, int32(m.Status))
	b = appendString(b, 4, m.ErrorMessage)
	b = appendString(b, 5, m.CorrelationID)
	return b
}

func (m *ServiceResponse) Unmarshal(b []byte) error {
	*m = ServiceResponse{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		switch num {
		case 1:
			return consumeString(num, typ, v, &m.Circuit)
		case 2:
			return consumeString(num, typ, v, &m.ServiceID)
		case 3:
			var s int32
			n, ok, err := consumeEnum(num, typ, v, &s)
			m.Status = ResponseStatus(s)
			return n, ok, err
		case 4:
			return consumeString(num, typ, v, &m.ErrorMessage)
		case 5:
			return consumeString(num, typ, v, &m.CorrelationID)
		}
		return 0, false, nil
	})
}

type ServiceConnectResponse struct {
	ServiceResponse
}

type ServiceDisconnectResponse struct {
	ServiceResponse
}

type CircuitErrorCode int32

const (
	CircuitErrorUnset                   CircuitErrorCode = 0
	CircuitErrorInternal                CircuitErrorCode = 1
	CircuitErrorCircuitDoesNotExist     CircuitErrorCode = 2
	CircuitErrorRecipientNotInCircuit   CircuitErrorCode = 3
	CircuitErrorSenderNotInCircuit      CircuitErrorCode = 4
	CircuitErrorRecipientNotInDirectory CircuitErrorCode = 5
	CircuitErrorSenderNotInDirectory    CircuitErrorCode = 6
)

func (c CircuitErrorCode) String() string {
	switch c {
	case CircuitErrorUnset:
		return "UNSET_ERROR"
	case CircuitErrorInternal:
		return "ERROR_INTERNAL"
	case CircuitErrorCircuitDoesNotExist:
		return "ERROR_CIRCUIT_DOES_NOT_EXIST"
	case CircuitErrorRecipientNotInCircuit:
		return "ERROR_RECIPIENT_NOT_IN_CIRCUIT_ROSTER"
	case CircuitErrorSenderNotInCircuit:
		return "ERROR_SENDER_NOT_IN_CIRCUIT_ROSTER"
	case CircuitErrorRecipientNotInDirectory:
		return "ERROR_RECIPIENT_NOT_IN_DIRECTORY"
	case CircuitErrorSenderNotInDirectory:
		return "ERROR_SENDER_NOT_IN_DIRECTORY"
	default:
		return fmt.Sprintf("CircuitErrorCode(%d)", int32(c))
	}
}

// CircuitError is sent by the node when it cannot deliver a message.
type CircuitError struct {
	ServiceID     string
	Error         CircuitErrorCode
	ErrorMessage  string
	CorrelationID string
}

func (m *CircuitError) GetCorrelationID() string { return m.CorrelationID }

func (m *CircuitError) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.ServiceID)
	b = appendEnum(b, 2, int32(m.Error))
	b = appendString(b, 3, m.ErrorMessage)
	b = appendString(b, 4, m.CorrelationID)
	return b
}

func (m *CircuitError) Unmarshal(b []byte) error {
	*m = CircuitError{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool, error) {
		switch num {
		case 1:
			return consumeString(num, typ, v, &m.ServiceID)
		case 2:
			var code int32
			n, ok, err := consumeEnum(num, typ, v, &code)
			m.Error = CircuitErrorCode(code)
			return n, ok, err
		case 3:
			return consumeString(num, typ, v, &m.ErrorMessage)
		case 4:
			return consumeString(num, typ, v, &m.CorrelationID)
		}
		return 0, false, nil
	})
}

// WrapCircuitMessage frames an encoded circuit-level body as
// NetworkMessage{CIRCUIT} > CircuitMessage{msgType}.
func WrapCircuitMessage(msgType CircuitMessageType, body []byte) []byte {
	circuit := CircuitMessage{MessageType: msgType, Payload: body}
	network := NetworkMessage{MessageType: NetworkCircuit, Payload: circuit.Marshal()}
	return network.Marshal()
}
