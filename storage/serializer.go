package storage

import (
	"bytes"
	"context"
	"encoding/json"

	"go.trai.ch/zerr"
)

// Serializer defines the interface for serialization.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer implements Serializer using JSON. Numbers decoded into
// interface values stay json.Number so balances and IDs keep full precision.
type JSONSerializer struct{}

// Marshal serializes a value to JSON.
func (js *JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes a value from JSON.
func (js *JSONSerializer) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// NewJSONSerializer creates a new JSON serializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// ErrUnsupportedFormat is returned by GetSerializer for unknown formats.
var ErrUnsupportedFormat = zerr.New("unsupported serialization format")

// GetSerializer returns a serializer for format. Empty means JSON.
func GetSerializer(format string) (Serializer, error) {
	switch format {
	case "json", "":
		return NewJSONSerializer(), nil
	default:
		return nil, zerr.With(ErrUnsupportedFormat, "format", format)
	}
}

// Load reads key from store and decodes it into v. It returns ErrNotFound
// unchanged so callers can treat a missing key as empty state.
func Load(ctx context.Context, store Store, ser Serializer, key string, v any) error {
	data, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := ser.Unmarshal(data, v); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to decode stored value"), "key", key)
	}
	return nil
}

// Save encodes v and writes it under key.
func Save(ctx context.Context, store Store, ser Serializer, key string, v any) error {
	data, err := ser.Marshal(v)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to encode value"), "key", key)
	}
	return store.Set(ctx, key, data)
}
