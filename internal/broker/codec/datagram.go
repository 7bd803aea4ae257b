// Package codec implements the wire formats used by the broker: the fixed
// layout UDP datagram publishers send, and the fixed layout control frame
// carried over subscriber streams.
package codec

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	// TopicMaxLen is the size of the zero-terminated topic field in a datagram.
	TopicMaxLen = 50
	// UDPPayloadMaxLen is the size of the type-tagged payload field in a datagram.
	UDPPayloadMaxLen = 1500
	// DatagramLen is the total wire size of one UDP datagram record.
	DatagramLen = TopicMaxLen + 1 + UDPPayloadMaxLen
)

// ErrMalformedDatagram is returned for any datagram that does not conform
// to the fixed layout: wrong size, unterminated topic, or an unknown type
// tag. ReadControlFrame also returns it for a control frame whose declared
// length exceeds the text field.
var ErrMalformedDatagram = errors.New("codec: malformed datagram")

// DataType is the one-byte tag identifying how a datagram's payload is encoded.
type DataType byte

const (
	TypeInt       DataType = 0
	TypeShortReal DataType = 1
	TypeFloat     DataType = 2
	TypeString    DataType = 3
)

// String renders the tag the way it appears in a notification line.
func (t DataType) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeShortReal:
		return "SHORT_REAL"
	case TypeFloat:
		return "FLOAT"
	case TypeString:
		return "STRING"
	default:
		return "UNKNOWN"
	}
}

// Measurement is a decoded datagram: a topic, its type tag, and the value
// already rendered to the text form used in notifications.
type Measurement struct {
	Topic string
	Type  DataType
	Value string
}

// DecodeDatagram parses one UDP datagram record. buf must be exactly
// DatagramLen bytes; anything else is rejected, matching the "short
// datagrams are rejected" rule.
func DecodeDatagram(buf []byte) (Measurement, error) {
	if len(buf) != DatagramLen {
		return Measurement{}, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedDatagram, len(buf), DatagramLen)
	}

	topicField := buf[:TopicMaxLen]
	nul := bytes.IndexByte(topicField, 0)
	if nul < 0 {
		return Measurement{}, fmt.Errorf("%w: topic not zero-terminated", ErrMalformedDatagram)
	}
	topic := string(topicField[:nul])

	tag := DataType(buf[TopicMaxLen])
	payload := buf[TopicMaxLen+1:]

	var value string
	switch tag {
	case TypeInt:
		value = renderInt(payload)
	case TypeShortReal:
		value = renderShortReal(payload)
	case TypeFloat:
		value = renderFloat(payload)
	case TypeString:
		value = renderString(payload)
	default:
		return Measurement{}, fmt.Errorf("%w: unknown type tag %d", ErrMalformedDatagram, tag)
	}

	return Measurement{Topic: topic, Type: tag, Value: value}, nil
}

func renderInt(payload []byte) string {
	sign := payload[0]
	magnitude := beUint32(payload[1:5])
	if sign != 0 && magnitude != 0 {
		return fmt.Sprintf("-%d", magnitude)
	}
	return fmt.Sprintf("%d", magnitude)
}

func renderShortReal(payload []byte) string {
	scaled := beUint16(payload[0:2])
	return fmt.Sprintf("%d.%02d", scaled/100, scaled%100)
}

func renderFloat(payload []byte) string {
	sign := payload[0]
	magnitude := beUint32(payload[1:5])
	exp := payload[5]
	whole, frac := splitDecimal(magnitude, exp)
	if sign != 0 {
		return fmt.Sprintf("-%d.%s", whole, frac)
	}
	return fmt.Sprintf("%d.%s", whole, frac)
}

func splitDecimal(magnitude uint32, exp byte) (whole uint64, frac string) {
	div := uint64(1)
	for i := byte(0); i < exp; i++ {
		div *= 10
	}
	if div == 0 {
		return uint64(magnitude), "00"
	}
	whole = uint64(magnitude) / div
	rem := uint64(magnitude) % div
	frac = fmt.Sprintf("%0*d", int(exp), rem)
	if frac == "" {
		frac = "00"
	}
	return whole, frac
}

func renderString(payload []byte) string {
	nul := bytes.IndexByte(payload, 0)
	if nul < 0 {
		return string(payload)
	}
	return string(payload[:nul])
}

func beUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBEUint16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func putBEUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// EncodeDatagram builds one wire-format datagram record from a topic and an
// already-built payload (TopicMaxLen+1+UDPPayloadMaxLen bytes total). It
// exists for publishers (such as the test fixtures in this package and in
// internal/broker/core) rather than the broker itself, which only ever
// decodes.
func EncodeDatagram(topic string, tag DataType, payload []byte) ([]byte, error) {
	if len(topic) >= TopicMaxLen {
		return nil, fmt.Errorf("codec: topic %q too long for %d-byte field", topic, TopicMaxLen)
	}
	if len(payload) > UDPPayloadMaxLen {
		return nil, fmt.Errorf("codec: payload too long (%d > %d)", len(payload), UDPPayloadMaxLen)
	}
	buf := make([]byte, DatagramLen)
	copy(buf[:TopicMaxLen], topic)
	buf[TopicMaxLen] = byte(tag)
	copy(buf[TopicMaxLen+1:], payload)
	return buf, nil
}

// EncodeIntPayload builds the payload bytes for an INT datagram.
func EncodeIntPayload(negative bool, magnitude uint32) []byte {
	buf := make([]byte, UDPPayloadMaxLen)
	if negative {
		buf[0] = 1
	}
	putBEUint32(buf[1:5], magnitude)
	return buf
}

// EncodeShortRealPayload builds the payload bytes for a SHORT_REAL datagram.
// scaled is the value multiplied by 100 (two decimal places).
func EncodeShortRealPayload(scaled uint16) []byte {
	buf := make([]byte, UDPPayloadMaxLen)
	putBEUint16(buf[0:2], scaled)
	return buf
}

// EncodeFloatPayload builds the payload bytes for a FLOAT datagram. magnitude
// is the unscaled integer value and exp is the number of implied decimal
// digits (magnitude / 10^exp . magnitude % 10^exp).
func EncodeFloatPayload(negative bool, magnitude uint32, exp byte) []byte {
	buf := make([]byte, UDPPayloadMaxLen)
	if negative {
		buf[0] = 1
	}
	putBEUint32(buf[1:5], magnitude)
	buf[5] = exp
	return buf
}

// EncodeStringPayload builds the payload bytes for a STRING datagram.
func EncodeStringPayload(s string) ([]byte, error) {
	if len(s) >= UDPPayloadMaxLen {
		return nil, fmt.Errorf("codec: string payload %d bytes exceeds field capacity", len(s))
	}
	buf := make([]byte, UDPPayloadMaxLen)
	copy(buf, s)
	return buf, nil
}
