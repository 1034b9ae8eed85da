// Package protocol holds the wire messages exchanged with a Splinter node.
//
// Messages are protobuf encoded. The encoders below write fields in field-number
// order and skip zero values, which matches what generated code emits, so the
// bytes interoperate with any protobuf peer using the same field numbers.
package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformedMessage = errors.New("malformed protobuf message")

// Message is implemented by every wire type in this package.
type Message interface {
	Marshal() []byte
	Unmarshal(b []byte) error
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendEnum(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

// fieldFunc consumes the value of one field and reports how many bytes it used.
// Returning handled=false makes walkFields skip the value as an unknown field.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (n int, handled bool, err error)

func walkFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
		}
		b = b[n:]
		used, handled, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if !handled {
			used = protowire.ConsumeFieldValue(num, typ, b)
			if used < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(used))
			}
		}
		b = b[used:]
	}
	return nil
}

func consumeString(num protowire.Number, typ protowire.Type, b []byte, dst *string) (int, bool, error) {
	if typ != protowire.BytesType {
		return 0, false, wireTypeError(num, typ)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, false, fmt.Errorf("%w: field %d: %v", ErrMalformedMessage, num, protowire.ParseError(n))
	}
	*dst = v
	return n, true, nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte, dst *[]byte) (int, bool, error) {
	if typ != protowire.BytesType {
		return 0, false, wireTypeError(num, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, false, fmt.Errorf("%w: field %d: %v", ErrMalformedMessage, num, protowire.ParseError(n))
	}
	*dst = append([]byte(nil), v...)
	return n, true, nil
}

func consumeEnum(num protowire.Number, typ protowire.Type, b []byte, dst *int32) (int, bool, error) {
	if typ != protowire.VarintType {
		return 0, false, wireTypeError(num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, false, fmt.Errorf("%w: field %d: %v", ErrMalformedMessage, num, protowire.ParseError(n))
	}
	*dst = int32(v)
	return n, true, nil
}

func wireTypeError(num protowire.Number, typ protowire.Type) error {
	return fmt.Errorf("%w: field %d has unexpected wire type %d", ErrMalformedMessage, num, typ)
}
