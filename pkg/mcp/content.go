// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"encoding/base64"
	"fmt"

	"github.com/mcpgate/mcpgate/pkg/errors"
	"github.com/mcpgate/mcpgate/pkg/protocol"
)

// maxAudioBytes caps the decoded size of an audio content item.
const maxAudioBytes = 50 << 20

// allowedAudioMimeTypes is the closed set of accepted audio formats.
var allowedAudioMimeTypes = map[string]bool{
	"audio/mpeg": true,
	"audio/wav":  true,
	"audio/ogg":  true,
	"audio/mp4":  true,
	"audio/webm": true,
	"audio/flac": true,
	"audio/aac":  true,
}

// ValidateContentItem checks one content object from a message payload.
// Text and image items pass structural checks only; audio items are
// gated on the session version and fully validated. Violations surface
// as invalid-params errors (-32602).
func ValidateContentItem(item map[string]any, version string) error {
	contentType, _ := item["type"].(string)
	switch contentType {
	case "text":
		if _, ok := item["text"].(string); !ok {
			return errors.NewInvalidParamsError("text content requires a text field", nil)
		}
		return nil
	case "image":
		return validateBinary(item, "image")
	case "audio":
		if !protocol.HasFeature(version, protocol.FeatureAudioContent) {
			return errors.NewInvalidParamsError(
				fmt.Sprintf("audio content is not supported on protocol version %s", version), nil)
		}
		return validateAudio(item)
	case "":
		return errors.NewInvalidParamsError("content item requires a type field", nil)
	default:
		return errors.NewInvalidParamsError("unknown content type: "+contentType, nil)
	}
}

// validateBinary checks the data and mimeType fields shared by image
// and audio items.
func validateBinary(item map[string]any, kind string) error {
	if data, ok := item["data"].(string); !ok || data == "" {
		return errors.NewInvalidParamsError(kind+" content requires a data field", nil)
	}
	if mime, ok := item["mimeType"].(string); !ok || mime == "" {
		return errors.NewInvalidParamsError(kind+" content requires a mimeType field", nil)
	}
	return nil
}

// validateAudio enforces the audio contract: an allowed MIME type,
// well-formed base64 data and a decoded size within the limit.
func validateAudio(item map[string]any) error {
	if err := validateBinary(item, "audio"); err != nil {
		return err
	}

	mime := item["mimeType"].(string)
	if !allowedAudioMimeTypes[mime] {
		return errors.NewInvalidParamsError("unsupported audio mimeType: "+mime, nil)
	}

	data := item["data"].(string)
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return errors.NewInvalidParamsError("audio data is not valid base64", err)
	}
	if len(decoded) > maxAudioBytes {
		return errors.NewInvalidParamsError(
			fmt.Sprintf("audio data exceeds %d bytes", maxAudioBytes), nil)
	}

	if duration, present := item["duration"]; present {
		if _, ok := duration.(float64); !ok {
			return errors.NewInvalidParamsError("audio duration must be a number", nil)
		}
	}
	return nil
}

// ValidateMessagesContent walks a sampling-style messages array and
// validates every content item it finds.
func ValidateMessagesContent(messages []any, version string) error {
	for _, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok {
			return errors.NewInvalidParamsError("message must be an object", nil)
		}
		switch content := msg["content"].(type) {
		case map[string]any:
			if err := ValidateContentItem(content, version); err != nil {
				return err
			}
		case []any:
			for _, rawItem := range content {
				item, ok := rawItem.(map[string]any)
				if !ok {
					return errors.NewInvalidParamsError("content item must be an object", nil)
				}
				if err := ValidateContentItem(item, version); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
