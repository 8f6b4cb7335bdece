package proto

import (
	"github.com/steveyegge/surgo/codec"
)

// Encoding selects the on-wire payload format. Negotiation is static:
// the choice is made at construction and never changes for the life of
// the client.
type Encoding int

const (
	EncodingText Encoding = iota // JSON
	EncodingBinary               // CBOR
)

func (e Encoding) String() string {
	if e == EncodingBinary {
		return "cbor"
	}
	return "json"
}

// ContentType returns the HTTP content type for the encoding.
func (e Encoding) ContentType() string {
	if e == EncodingBinary {
		return "application/cbor"
	}
	return "application/json"
}

// Marshal serializes a wire value with the encoding.
func (e Encoding) Marshal(v codec.Value) ([]byte, error) {
	if e == EncodingBinary {
		return codec.SerializeBinary(v)
	}
	return codec.SerializeText(v)
}

// Unmarshal parses a wire value with the encoding.
func (e Encoding) Unmarshal(data []byte) (codec.Value, error) {
	if e == EncodingBinary {
		return codec.ParseBinary(data)
	}
	return codec.ParseText(data)
}
