package osc

import (
	"encoding/binary"
	"fmt"
	"math"
)

func appendString(b []byte, s string) []byte {
	b = append(b, s...)
	b = append(b, 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// MarshalBinary encodes m. Supported argument types mirror Parse.
func (m Message) MarshalBinary() ([]byte, error) {
	tags := []byte{','}
	var body []byte
	for _, a := range m.Args {
		switch v := a.(type) {
		case int32:
			tags = append(tags, 'i')
			body = binary.BigEndian.AppendUint32(body, uint32(v))
		case int:
			tags = append(tags, 'i')
			body = binary.BigEndian.AppendUint32(body, uint32(int32(v)))
		case float32:
			tags = append(tags, 'f')
			body = binary.BigEndian.AppendUint32(body, math.Float32bits(v))
		case int64:
			tags = append(tags, 'h')
			body = binary.BigEndian.AppendUint64(body, uint64(v))
		case float64:
			tags = append(tags, 'd')
			body = binary.BigEndian.AppendUint64(body, math.Float64bits(v))
		case Timetag:
			tags = append(tags, 't')
			body = binary.BigEndian.AppendUint64(body, uint64(v))
		case string:
			tags = append(tags, 's')
			body = appendString(body, v)
		case []byte:
			tags = append(tags, 'b')
			body = binary.BigEndian.AppendUint32(body, uint32(len(v)))
			body = append(body, v...)
			for len(body)%4 != 0 {
				body = append(body, 0)
			}
		case bool:
			if v {
				tags = append(tags, 'T')
			} else {
				tags = append(tags, 'F')
			}
		case nil:
			tags = append(tags, 'N')
		default:
			return nil, fmt.Errorf("osc: unsupported argument type %T", a)
		}
	}
	out := appendString(nil, m.Address)
	out = appendString(out, string(tags))
	return append(out, body...), nil
}

// Bundle encodes msgs as one bundle with the "immediately" time tag.
func Bundle(msgs ...Message) ([]byte, error) {
	out := appendString(nil, bundleTag)
	out = binary.BigEndian.AppendUint64(out, 1)
	for _, m := range msgs {
		b, err := m.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = binary.BigEndian.AppendUint32(out, uint32(len(b)))
		out = append(out, b...)
	}
	return out, nil
}

// EEG returns a /muse/eeg message with the four channel values as float32.
func EEG(tp9, af7, af8, tp10 float32) Message {
	return Message{Address: "/muse/eeg", Args: []interface{}{tp9, af7, af8, tp10}}
}
