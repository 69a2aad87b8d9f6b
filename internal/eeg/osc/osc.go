// Package osc decodes and encodes Open Sound Control 1.0 packets as sent by
// Muse headbands and the Mind Monitor / muse-io bridges.
package osc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed is wrapped by every decoding error.
var ErrMalformed = errors.New("malformed OSC packet")

const (
	bundleTag = "#bundle"
	// maxDepth bounds bundle nesting.
	maxDepth = 8
)

// Message is a decoded OSC message. Args hold int32, int64, float32,
// float64, string, []byte, bool, nil or Timetag values.
type Message struct {
	Address string
	Args    []interface{}
}

// Timetag is the 64-bit NTP-format OSC time tag.
type Timetag uint64

// Numbers returns the numeric arguments as float64 in order. ok is false if
// any argument is not numeric.
func (m Message) Numbers() (vals []float64, ok bool) {
	vals = make([]float64, 0, len(m.Args))
	for _, a := range m.Args {
		switch v := a.(type) {
		case int32:
			vals = append(vals, float64(v))
		case int64:
			vals = append(vals, float64(v))
		case float32:
			vals = append(vals, float64(v))
		case float64:
			vals = append(vals, v)
		default:
			return nil, false
		}
	}
	return vals, true
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Parse decodes a packet into its messages, flattening bundles in order.
func Parse(packet []byte) ([]Message, error) {
	var out []Message
	if err := parse(packet, 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func parse(p []byte, depth int, out *[]Message) error {
	if len(p) == 0 || len(p)%4 != 0 {
		return malformed("size %d is not a positive multiple of 4", len(p))
	}
	switch p[0] {
	case '/':
		m, err := parseMessage(p)
		if err != nil {
			return err
		}
		*out = append(*out, m)
		return nil
	case '#':
		if depth >= maxDepth {
			return malformed("bundles nested deeper than %d", maxDepth)
		}
		return parseBundle(p, depth, out)
	}
	return malformed("unexpected leading byte %q", p[0])
}

func parseBundle(p []byte, depth int, out *[]Message) error {
	tag, rest, err := readString(p)
	if err != nil {
		return err
	}
	if tag != bundleTag {
		return malformed("bad bundle tag %q", tag)
	}
	if len(rest) < 8 {
		return malformed("bundle missing time tag")
	}
	rest = rest[8:]
	for len(rest) > 0 {
		if len(rest) < 4 {
			return malformed("truncated bundle element size")
		}
		size := int(int32(binary.BigEndian.Uint32(rest)))
		rest = rest[4:]
		if size < 0 || size > len(rest) {
			return malformed("bundle element size %d exceeds %d remaining", size, len(rest))
		}
		if err := parse(rest[:size], depth+1, out); err != nil {
			return err
		}
		rest = rest[size:]
	}
	return nil
}

func parseMessage(p []byte) (Message, error) {
	addr, rest, err := readString(p)
	if err != nil {
		return Message{}, err
	}
	m := Message{Address: addr}
	if len(rest) == 0 {
		// Type tag string omitted by some old senders.
		return m, nil
	}
	tags, rest, err := readString(rest)
	if err != nil {
		return Message{}, err
	}
	if len(tags) == 0 || tags[0] != ',' {
		return Message{}, malformed("type tag string %q lacks leading comma", tags)
	}
	for _, t := range tags[1:] {
		var v interface{}
		switch t {
		case 'i':
			if len(rest) < 4 {
				return Message{}, malformed("truncated int32")
			}
			v, rest = int32(binary.BigEndian.Uint32(rest)), rest[4:]
		case 'f':
			if len(rest) < 4 {
				return Message{}, malformed("truncated float32")
			}
			v, rest = math.Float32frombits(binary.BigEndian.Uint32(rest)), rest[4:]
		case 'h':
			if len(rest) < 8 {
				return Message{}, malformed("truncated int64")
			}
			v, rest = int64(binary.BigEndian.Uint64(rest)), rest[8:]
		case 'd':
			if len(rest) < 8 {
				return Message{}, malformed("truncated float64")
			}
			v, rest = math.Float64frombits(binary.BigEndian.Uint64(rest)), rest[8:]
		case 't':
			if len(rest) < 8 {
				return Message{}, malformed("truncated timetag")
			}
			v, rest = Timetag(binary.BigEndian.Uint64(rest)), rest[8:]
		case 's', 'S':
			v, rest, err = readString(rest)
			if err != nil {
				return Message{}, err
			}
		case 'b':
			v, rest, err = readBlob(rest)
			if err != nil {
				return Message{}, err
			}
		case 'T':
			v = true
		case 'F':
			v = false
		case 'N', 'I':
			v = nil
		default:
			return Message{}, malformed("unsupported type tag %q", t)
		}
		m.Args = append(m.Args, v)
	}
	return m, nil
}

func pad4(n int) int { return (n + 3) &^ 3 }

// readString reads a NUL-terminated string padded to a 4-byte boundary.
func readString(p []byte) (string, []byte, error) {
	i := bytes.IndexByte(p, 0)
	if i < 0 {
		return "", nil, malformed("unterminated string")
	}
	n := pad4(i + 1)
	if n > len(p) {
		return "", nil, malformed("string padding past end of packet")
	}
	return string(p[:i]), p[n:], nil
}

func readBlob(p []byte) ([]byte, []byte, error) {
	if len(p) < 4 {
		return nil, nil, malformed("truncated blob size")
	}
	size := int(int32(binary.BigEndian.Uint32(p)))
	p = p[4:]
	if size < 0 || pad4(size) > len(p) {
		return nil, nil, malformed("blob size %d exceeds packet", size)
	}
	return append([]byte(nil), p[:size]...), p[pad4(size):], nil
}
