package cache

import (
	"bytes"
	"encoding/json"
)

// CanonicalJSON encodes v so that semantically equal values produce equal
// bytes: object keys are sorted and numbers keep their textual form.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}

// Key derives the cache key for an endpoint and its arguments.
// Nil arguments and a JSON null both yield "endpoint()".
func Key(endpoint string, args any) (string, error) {
	if args == nil {
		return endpoint + "()", nil
	}

	canonical, err := CanonicalJSON(args)
	if err != nil {
		return "", err
	}
	if string(canonical) == "null" {
		return endpoint + "()", nil
	}

	return endpoint + "(" + string(canonical) + ")", nil
}
