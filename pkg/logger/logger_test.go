// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSingletonReplacement(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	prev := Get()
	Set(zap.New(core).Sugar())
	defer Set(prev)

	Infow("session created", "session_id", "2025-06-18_abc")
	Debugf("negotiated %s", "2025-06-18")
	Warn("token rejected")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "session created", entries[0].Message)
	assert.Equal(t, "negotiated 2025-06-18", entries[1].Message)
	assert.Equal(t, zap.WarnLevel, entries[2].Level)
}

func TestDefaultLoggerDoesNotPanic(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		Info("default logger works without Initialize")
	})
}
