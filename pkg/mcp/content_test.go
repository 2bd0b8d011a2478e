// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcpgate/mcpgate/pkg/errors"
	"github.com/mcpgate/mcpgate/pkg/protocol"
)

func audioItem(mime, data string) map[string]any {
	return map[string]any{"type": "audio", "data": data, "mimeType": mime}
}

func TestValidateAudioContent(t *testing.T) {
	t.Parallel()

	valid := base64.StdEncoding.EncodeToString([]byte("riff data"))

	// Every allowed MIME type passes on a version with the feature.
	for mime := range allowedAudioMimeTypes {
		assert.NoError(t, ValidateContentItem(audioItem(mime, valid), protocol.V20250326), mime)
	}

	// Audio is rejected wholesale on 2024-11-05.
	err := ValidateContentItem(audioItem("audio/mpeg", valid), protocol.V20241105)
	assert.True(t, errors.IsInvalidParams(err))

	// Unknown MIME type.
	err = ValidateContentItem(audioItem("audio/x-midi", valid), protocol.V20250618)
	assert.True(t, errors.IsInvalidParams(err))

	// Broken base64.
	err = ValidateContentItem(audioItem("audio/wav", "%%%not-base64%%%"), protocol.V20250618)
	assert.True(t, errors.IsInvalidParams(err))

	// Missing fields.
	err = ValidateContentItem(map[string]any{"type": "audio", "mimeType": "audio/wav"}, protocol.V20250618)
	assert.True(t, errors.IsInvalidParams(err))
	err = ValidateContentItem(map[string]any{"type": "audio", "data": valid}, protocol.V20250618)
	assert.True(t, errors.IsInvalidParams(err))
}

func TestValidateAudioDuration(t *testing.T) {
	t.Parallel()

	valid := base64.StdEncoding.EncodeToString([]byte("x"))

	item := audioItem("audio/ogg", valid)
	item["duration"] = 12.5
	assert.NoError(t, ValidateContentItem(item, protocol.V20250618))

	item["duration"] = "twelve"
	err := ValidateContentItem(item, protocol.V20250618)
	assert.True(t, errors.IsInvalidParams(err))
}

func TestValidateTextAndImage(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateContentItem(map[string]any{"type": "text", "text": "hello"}, protocol.V20241105))

	err := ValidateContentItem(map[string]any{"type": "text"}, protocol.V20241105)
	assert.True(t, errors.IsInvalidParams(err))

	assert.NoError(t, ValidateContentItem(map[string]any{
		"type": "image", "data": "aGk=", "mimeType": "image/png",
	}, protocol.V20241105))

	err = ValidateContentItem(map[string]any{"type": "image", "data": "aGk="}, protocol.V20241105)
	assert.True(t, errors.IsInvalidParams(err))

	err = ValidateContentItem(map[string]any{"type": "hologram"}, protocol.V20250618)
	assert.True(t, errors.IsInvalidParams(err))

	err = ValidateContentItem(map[string]any{"text": "no type"}, protocol.V20250618)
	assert.True(t, errors.IsInvalidParams(err))
}

func TestValidateMessagesContent(t *testing.T) {
	t.Parallel()

	messages := []any{
		map[string]any{"role": "user", "content": map[string]any{"type": "text", "text": "hi"}},
		map[string]any{"role": "user", "content": []any{
			map[string]any{"type": "text", "text": "part"},
			audioItem("audio/flac", base64.StdEncoding.EncodeToString([]byte("pcm"))),
		}},
	}
	assert.NoError(t, ValidateMessagesContent(messages, protocol.V20250618))

	// The nested audio item fails on the oldest revision.
	err := ValidateMessagesContent(messages, protocol.V20241105)
	assert.True(t, errors.IsInvalidParams(err))
}
