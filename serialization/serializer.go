package serialization

import (
	"encoding/json"
	"fmt"
)

// Serializer converts application values to and from their wire form.
// Implement this interface to plug in a custom encoding (Protobuf, ETF,
// MessagePack, ...); brokers default to JSON.
type Serializer interface {
	// Marshal encodes a value into wire-ready bytes.
	Marshal(v interface{}) ([]byte, error)

	// Unmarshal decodes wire bytes into a generic value.
	Unmarshal(data []byte) (interface{}, error)
}

// JSONSerializer is the default Serializer. It round-trips values through
// encoding/json, decoding into generic maps/slices.
type JSONSerializer struct{}

// NewJSONSerializer creates the default JSON serializer.
func NewJSONSerializer() JSONSerializer {
	return JSONSerializer{}
}

// Marshal implements Serializer.
func (JSONSerializer) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialization: encode: %w", err)
	}
	return data, nil
}

// Unmarshal implements Serializer.
func (JSONSerializer) Unmarshal(data []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("serialization: decode: %w", err)
	}
	return v, nil
}

// ContentType reports the MIME type carried on published messages.
func (JSONSerializer) ContentType() string {
	return "application/json"
}
