// Package codec
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Serializers that turn values into the bytes stored in table cells.
// Absence is never encoded: a cell either exists or it does not, so false,
// zero and empty values round-trip as themselves.

package codec

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/fxamacker/cbor/v2"
)

// Codec converts V to and from bytes.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// JSON encodes with bytedance/sonic in encoding/json compatible mode.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) {
	b, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: json encode %T: %w", v, err)
	}
	return b, nil
}

func (JSON[V]) Decode(data []byte) (V, error) {
	var v V
	if err := sonic.ConfigStd.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("codec: json decode: %w", err)
	}
	return v, nil
}

// CBOR encodes with fxamacker/cbor. It is more compact than JSON and keeps
// integer and byte-string types intact.
type CBOR[V any] struct{}

func (CBOR[V]) Encode(v V) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: cbor encode %T: %w", v, err)
	}
	return b, nil
}

func (CBOR[V]) Decode(data []byte) (V, error) {
	var v V
	if err := cbor.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("codec: cbor decode: %w", err)
	}
	return v, nil
}

// Raw stores byte slices as they are.
type Raw struct{}

func (Raw) Encode(v []byte) ([]byte, error) { return v, nil }

func (Raw) Decode(data []byte) ([]byte, error) { return data, nil }

var (
	_ Codec[any]    = JSON[any]{}
	_ Codec[any]    = CBOR[any]{}
	_ Codec[[]byte] = Raw{}
)
