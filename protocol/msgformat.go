package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFormat is returned for malformed message format strings
var ErrFormat = errors.New("invalid message format")

// ParamType identifies the wire type of a message parameter
type ParamType uint8

const (
	ParamUint   ParamType = iota // %u, %hu, %c
	ParamInt                     // %i, %hi
	ParamBuffer                  // %*s, %.*s, %s
)

// ParamFormat describes one "name=%x" parameter of a message
type ParamFormat struct {
	Name string
	Type ParamType
}

// MessageFormat is a parsed dictionary entry such as
// "endstop_state oid=%c homing=%c next_clock=%u pin_value=%c"
type MessageFormat struct {
	Name   string
	Params []ParamFormat
}

// ParseMessageFormat parses a Klipper dictionary format string
func ParseMessageFormat(format string) (*MessageFormat, error) {
	fields := strings.Fields(format)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrFormat)
	}

	mf := &MessageFormat{Name: fields[0]}
	for _, field := range fields[1:] {
		name, verb, ok := strings.Cut(field, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q in %q", ErrFormat, field, format)
		}

		var pt ParamType
		switch verb {
		case "%u", "%hu", "%c":
			pt = ParamUint
		case "%i", "%hi":
			pt = ParamInt
		case "%s", "%*s", "%.*s":
			pt = ParamBuffer
		default:
			return nil, fmt.Errorf("%w: unknown type %q for %s", ErrFormat, verb, name)
		}
		mf.Params = append(mf.Params, ParamFormat{Name: name, Type: pt})
	}

	return mf, nil
}

// Encode writes the positional args according to the format.
// Integer params accept any Go integer type or bool; buffer params accept
// string or []byte.
func (mf *MessageFormat) Encode(output OutputBuffer, args ...any) error {
	if len(args) != len(mf.Params) {
		return fmt.Errorf("%s: expected %d args, got %d", mf.Name, len(mf.Params), len(args))
	}

	for i, p := range mf.Params {
		if p.Type == ParamBuffer {
			switch v := args[i].(type) {
			case string:
				EncodeVLQString(output, v)
			case []byte:
				EncodeVLQBytes(output, v)
			default:
				return fmt.Errorf("%s: param %s wants bytes, got %T", mf.Name, p.Name, args[i])
			}
			continue
		}

		v, err := toInt32(args[i])
		if err != nil {
			return fmt.Errorf("%s: param %s: %w", mf.Name, p.Name, err)
		}
		EncodeVLQInt(output, v)
	}
	return nil
}

// Decode reads the parameters of one message from data and advances data.
// The message id must already have been consumed.
func (mf *MessageFormat) Decode(data *[]byte) (Params, error) {
	params := make(Params, len(mf.Params))
	for _, p := range mf.Params {
		switch p.Type {
		case ParamBuffer:
			b, err := DecodeVLQBytes(data)
			if err != nil {
				return nil, fmt.Errorf("%s: param %s: %w", mf.Name, p.Name, err)
			}
			buf := make([]byte, len(b))
			copy(buf, b)
			params[p.Name] = buf
		case ParamInt:
			v, err := DecodeVLQInt(data)
			if err != nil {
				return nil, fmt.Errorf("%s: param %s: %w", mf.Name, p.Name, err)
			}
			params[p.Name] = int64(v)
		default:
			v, err := DecodeVLQUint(data)
			if err != nil {
				return nil, fmt.Errorf("%s: param %s: %w", mf.Name, p.Name, err)
			}
			params[p.Name] = int64(v)
		}
	}
	return params, nil
}

func toInt32(v any) (int32, error) {
	switch n := v.(type) {
	case int:
		return int32(n), nil
	case int32:
		return n, nil
	case int64:
		return int32(n), nil
	case uint8:
		return int32(n), nil
	case uint16:
		return int32(n), nil
	case uint32:
		return int32(n), nil
	case uint64:
		return int32(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unsupported integer type %T", v)
}

// Params holds decoded message parameters by name
type Params map[string]any

// Int returns an integer parameter, or 0 when absent
func (p Params) Int(name string) int64 {
	v, _ := p[name].(int64)
	return v
}

// Uint returns an unsigned integer parameter truncated to 32 bits
func (p Params) Uint(name string) uint32 {
	return uint32(p.Int(name))
}

// Bytes returns a buffer parameter, or nil when absent
func (p Params) Bytes(name string) []byte {
	v, _ := p[name].([]byte)
	return v
}
