package osc

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	goosc "github.com/hypebeast/go-osc/osc"
)

// Message is one OSC message: an address pattern and typed arguments.
//
// Supported argument Go types: int32 (i), float32 (f), string (s),
// []byte (b), int64 (h), float64 (d), bool (T/F), nil (N) and
// go-osc Timetag (t). Plain int values are accepted on encode and sent as
// int32.
type Message struct {
	Address string
	Args    []any
}

func NewMessage(address string, args ...any) *Message {
	return &Message{Address: address, Args: args}
}

// TypeTags returns the argument signature without the leading comma.
func (m *Message) TypeTags() (string, error) {
	var b strings.Builder
	for i, arg := range m.Args {
		tag, err := typeTag(arg)
		if err != nil {
			return "", fmt.Errorf("%w: arg[%d] %T", err, i, arg)
		}
		b.WriteByte(tag)
	}
	return b.String(), nil
}

// String returns the i-th argument as a string.
func (m *Message) String(i int) (string, bool) {
	if i < 0 || i >= len(m.Args) {
		return "", false
	}
	s, ok := m.Args[i].(string)
	return s, ok
}

// Int32 returns the i-th argument as an int32.
func (m *Message) Int32(i int) (int32, bool) {
	if i < 0 || i >= len(m.Args) {
		return 0, false
	}
	v, ok := m.Args[i].(int32)
	return v, ok
}

func typeTag(arg any) (byte, error) {
	switch v := arg.(type) {
	case int32, int:
		return 'i', nil
	case float32:
		return 'f', nil
	case string:
		return 's', nil
	case []byte:
		return 'b', nil
	case int64:
		return 'h', nil
	case float64:
		return 'd', nil
	case bool:
		if v {
			return 'T', nil
		}
		return 'F', nil
	case nil:
		return 'N', nil
	case goosc.Timetag:
		return 't', nil
	default:
		return 0, ErrUnsupportedType
	}
}

// Encode serializes msg as one OSC packet.
func Encode(msg *Message) ([]byte, error) {
	if msg == nil || !strings.HasPrefix(msg.Address, "/") {
		return nil, ErrInvalidAddress
	}
	args := make([]any, len(msg.Args))
	for i, arg := range msg.Args {
		if _, err := typeTag(arg); err != nil {
			return nil, fmt.Errorf("%w: arg[%d] %T", err, i, arg)
		}
		if v, ok := arg.(int); ok {
			if v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("%w: arg[%d] int %d overflows int32", ErrUnsupportedType, i, v)
			}
			arg = int32(v)
		}
		args[i] = arg
	}
	b, err := goosc.NewMessage(msg.Address, args...).MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("osc: encode %q: %w", msg.Address, err)
	}
	return b, nil
}

// DecodePacket parses one datagram. Bundles are flattened depth first: a
// bundle's own messages come before those of its nested bundles.
func DecodePacket(b []byte) ([]*Message, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: packet size %d", ErrMalformed, len(b))
	}
	if msg, ok := bareAddress(b); ok {
		return []*Message{msg}, nil
	}
	packet, err := goosc.ParsePacket(string(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	out := make([]*Message, 0, 1)
	if err := flatten(packet, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// bareAddress accepts the OSC 1.0 form of an argument-less message that
// omits the type tag string.
func bareAddress(b []byte) (*Message, bool) {
	if b[0] != '/' {
		return nil, false
	}
	end := bytes.IndexByte(b, 0)
	if end < 0 || end+1+pad(end+1) != len(b) {
		return nil, false
	}
	return &Message{Address: string(b[:end]), Args: []any{}}, true
}

func flatten(packet goosc.Packet, out *[]*Message) error {
	switch p := packet.(type) {
	case *goosc.Message:
		msg, err := fromWire(p)
		if err != nil {
			return err
		}
		*out = append(*out, msg)
	case *goosc.Bundle:
		for _, m := range p.Messages {
			if err := flatten(m, out); err != nil {
				return err
			}
		}
		for _, nested := range p.Bundles {
			if err := flatten(nested, out); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: packet type %T", ErrMalformed, packet)
	}
	return nil
}

func fromWire(m *goosc.Message) (*Message, error) {
	if !strings.HasPrefix(m.Address, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, m.Address)
	}
	args := make([]any, len(m.Arguments))
	copy(args, m.Arguments)
	msg := &Message{Address: m.Address, Args: args}
	if _, err := msg.TypeTags(); err != nil {
		return nil, err
	}
	return msg, nil
}

func pad(n int) int {
	return (4 - n%4) % 4
}
