// SPDX-License-Identifier: Apache-2.0

// Package protocol implements MCP protocol-version negotiation, the
// per-version feature matrix, and per-session version resolution.
package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// Supported protocol revisions, as dated version tokens.
const (
	V20241105 = "2024-11-05"
	V20250326 = "2025-03-26"
	V20250618 = "2025-06-18"
)

// DefaultSupportedVersions lists every known revision, newest first.
var DefaultSupportedVersions = []string{V20250618, V20250326, V20241105}

// Negotiate selects the newest supported version that is not newer than
// the client-requested one. Dated version tokens order lexicographically.
// A client older than everything we support gets the oldest entry, per
// the MCP negotiation rules.
func Negotiate(requested string, supported []string) string {
	for _, v := range supported {
		if v <= requested {
			return v
		}
	}
	return supported[len(supported)-1]
}

// NewSessionID allocates a session identifier of the form
// <version>_<32 hex chars>, binding the negotiated version into the id.
func NewSessionID(version string) string {
	var buf [16]byte
	// rand.Read never fails on supported platforms.
	_, _ = rand.Read(buf[:])
	return version + "_" + hex.EncodeToString(buf[:])
}

// VersionFromSessionID extracts the version prefix of a session id, or ""
// when the id has no prefix.
func VersionFromSessionID(sessionID string) string {
	if idx := strings.Index(sessionID, "_"); idx > 0 {
		return sessionID[:idx]
	}
	return ""
}
