package codec

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer names.
const (
	JSON    = "json"
	MsgPack = "msgpack"
	Raw     = "raw"
)

// Serializer converts payload values to bytes and back.
type Serializer interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

var serializers = map[string]Serializer{
	JSON:    jsonSerializer{},
	MsgPack: msgpackSerializer{},
	Raw:     rawSerializer{},
}

// LookupSerializer returns the serializer registered under name.
// Empty and "default" resolve to JSON.
func LookupSerializer(name string) (Serializer, error) {
	if name == "" || name == Default {
		name = JSON
	}
	s, ok := serializers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSerializer, name)
	}
	return s, nil
}

func serializerByContentType(contentType string) (Serializer, bool) {
	for _, s := range serializers {
		if s.ContentType() == contentType {
			return s, true
		}
	}
	return nil, false
}

type jsonSerializer struct{}

func (jsonSerializer) Name() string        { return JSON }
func (jsonSerializer) ContentType() string { return "application/json" }

func (jsonSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonSerializer) Unmarshal(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

type msgpackSerializer struct{}

func (msgpackSerializer) Name() string        { return MsgPack }
func (msgpackSerializer) ContentType() string { return "application/x-msgpack" }

func (msgpackSerializer) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackSerializer) Unmarshal(data []byte) (any, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// rawSerializer passes bytes and strings through untouched.
type rawSerializer struct{}

func (rawSerializer) Name() string        { return Raw }
func (rawSerializer) ContentType() string { return "application/octet-stream" }

func (rawSerializer) Marshal(v any) ([]byte, error) {
	switch p := v.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	case nil:
		return []byte{}, nil
	default:
		return nil, fmt.Errorf("%w: raw serializer accepts []byte or string, got %T", ErrUnsupportedPayload, v)
	}
}

func (rawSerializer) Unmarshal(data []byte) (any, error) {
	return data, nil
}
