package cache

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes cached values to bytes and back.
type Codec interface {
	Name() string
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
}

// JSONCodec stores values as JSON text. It is the SQL store format.
type JSONCodec struct{}

func (JSONCodec) Name() string                 { return "json" }
func (JSONCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }
func (JSONCodec) Decode(b []byte) (any, error) {
	var v any
	err := json.Unmarshal(b, &v)
	return v, err
}

// MsgpackCodec stores values with vmihailenco/msgpack. The zero value is ready to use.
// Numbers come back as the smallest fitting Go integer type.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string                 { return "msgpack" }
func (MsgpackCodec) Encode(v any) ([]byte, error) { return msgpack.Marshal(v) }
func (MsgpackCodec) Decode(b []byte) (any, error) {
	var v any
	err := msgpack.Unmarshal(b, &v)
	return v, err
}

// CBORCodec stores values with fxamacker/cbor using core deterministic
// encoding. Construct with NewCBORCodec.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds a CBOR codec that decodes maps as map[string]any so
// values look the same as JSON-decoded ones.
func NewCBORCodec() (CBORCodec, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return CBORCodec{}, err
	}
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return CBORCodec{}, err
	}
	return CBORCodec{enc: em, dec: dm}, nil
}

func (CBORCodec) Name() string { return "cbor" }

func (c CBORCodec) Encode(v any) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBORCodec) Decode(b []byte) (any, error) {
	var v any
	err := c.dec.Unmarshal(b, &v)
	return v, err
}

// CodecByName resolves "json", "msgpack" or "cbor". An empty name is JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	case "cbor":
		return NewCBORCodec()
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
