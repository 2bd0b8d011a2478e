// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrEmptyBatch is returned for a JSON array with no elements, which the
// JSON-RPC 2.0 specification forbids.
var ErrEmptyBatch = errors.New("invalid batch request: empty array")

// IsBatch reports whether the payload is a JSON array.
func IsBatch(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// IsObject reports whether the payload is a JSON object.
func IsObject(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// ParseBatch decodes a JSON-RPC batch. Empty arrays are rejected.
func ParseBatch(data []byte) ([]*Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrEmptyBatch
	}

	messages := make([]*Message, 0, len(raw))
	for _, element := range raw {
		m, err := Parse(element)
		if err != nil {
			// A non-object element still occupies a batch slot; represent
			// it as an empty message so the dispatcher can reject it.
			m = &Message{}
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// BatchResponse is the ordered list of responses for the request elements
// of a batch.
type BatchResponse []*Response

// MarshalJSON renders an empty batch response as an empty array rather
// than null.
func (b BatchResponse) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal([]*Response(b))
}
