package store

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// DecodeFlexible decodes data into a slice of T, tolerating the four
// response shapes a stored payload may arrive in: (a) a bare JSON
// array, (b) {"result": [...]}, (c) {"result": <single object>}, (d) a
// single record object. Empty/null input yields an empty slice, never
// an error. The sqlite/postgres codecs route every metadata column
// through it, so rows imported from document-store exports (which wrap
// each record in a result envelope) decode the same as natively
// written rows.
func DecodeFlexible[T any](data []byte) ([]T, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return []T{}, nil
	}

	// (a) bare array
	var arr []T
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr, nil
	}

	// (b)/(c) {"result": ...}
	var wrapper struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Result != nil {
		var wrapped []T
		if err := json.Unmarshal(wrapper.Result, &wrapped); err == nil {
			return wrapped, nil
		}
		var single T
		if err := json.Unmarshal(wrapper.Result, &single); err == nil {
			return []T{single}, nil
		}
	}

	// (d) single record dict
	var single T
	if err := json.Unmarshal(data, &single); err == nil {
		return []T{single}, nil
	}

	return nil, errors.Errorf("unrecognized storage response shape: %s", truncate(data, 80))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
