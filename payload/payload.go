package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Mode selects how message payloads are encoded and decoded for a
// connection.
type Mode string

const (
	Raw  Mode = "raw"
	UTF8 Mode = "utf8"
	JSON Mode = "json"
)

var (
	ErrUnknownMode     = errors.New("Unknown payload mode")
	ErrUnsupportedType = errors.New("Value cannot be encoded in this payload mode")
	ErrInvalidUTF8     = errors.New("Payload is not valid UTF-8")
	ErrInvalidJSON     = errors.New("Payload is not valid JSON")
)

// Codec converts between application values and payload bytes. The codec
// never inspects anything but the value or bytes it is given.
//
// Every codec encodes a nil value as an empty payload.
type Codec interface {
	Mode() Mode
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte) (interface{}, error)
}

// ParseMode parses a mode name. The empty string selects Raw.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", Raw:
		return Raw, nil
	case UTF8, "string":
		return UTF8, nil
	case JSON:
		return JSON, nil
	default:
		return "", fmt.Errorf("Failed to parse payload mode '%s': %w", s, ErrUnknownMode)
	}
}

// For returns the codec for mode.
func For(mode Mode) (Codec, error) {
	switch mode {
	case "", Raw:
		return RawCodec{}, nil
	case UTF8:
		return UTF8Codec{}, nil
	case JSON:
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("No codec for payload mode '%s': %w", mode, ErrUnknownMode)
	}
}

// RawCodec passes bytes through untouched. Decoded values are []byte.
type RawCodec struct{}

func (RawCodec) Mode() Mode { return Raw }

func (RawCodec) Encode(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("Failed to encode %T: %w", v, ErrUnsupportedType)
	}
}

func (RawCodec) Decode(data []byte) (interface{}, error) {
	return data, nil
}

// UTF8Codec exchanges strings. Decoded values are string.
type UTF8Codec struct{}

func (UTF8Codec) Mode() Mode { return UTF8 }

func (UTF8Codec) Encode(v interface{}) ([]byte, error) {
	var data []byte

	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		data = []byte(t)
	case []byte:
		data = t
	case fmt.Stringer:
		data = []byte(t.String())
	default:
		return nil, fmt.Errorf("Failed to encode %T: %w", v, ErrUnsupportedType)
	}

	if !utf8.Valid(data) {
		return nil, ErrInvalidUTF8
	}

	return data, nil
}

func (UTF8Codec) Decode(data []byte) (interface{}, error) {
	if !utf8.Valid(data) {
		return nil, ErrInvalidUTF8
	}

	return string(data), nil
}

// JSONCodec exchanges JSON documents. Values are marshalled with
// encoding/json, except for []byte and json.RawMessage which are assumed to
// already be JSON and are sent unchanged. Decoded values are the generic
// map[string]interface{}, []interface{}, string, float64, bool or nil.
type JSONCodec struct{}

func (JSONCodec) Mode() Mode { return JSON }

func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return t, nil
	case json.RawMessage:
		return t, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("Failed to encode %T: %w", v, err)
	}

	return data, nil
}

func (JSONCodec) Decode(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}

	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}

	return gjson.ParseBytes(data).Value(), nil
}

var _ Codec = RawCodec{}
var _ Codec = UTF8Codec{}
var _ Codec = JSONCodec{}
