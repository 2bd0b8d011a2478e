// SPDX-License-Identifier: Apache-2.0

package versions

import (
	"fmt"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionInfo(t *testing.T) { //nolint:paralleltest // mutates package globals
	origVersion, origCommit, origDate := Version, Commit, BuildDate
	t.Cleanup(func() {
		Version, Commit, BuildDate = origVersion, origCommit, origDate
	})

	Version = "v1.2.3"
	Commit = "abc123def456789"
	BuildDate = "2024-01-15T10:30:00Z"

	info := GetVersionInfo()
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "abc123def456789", info.Commit)
	assert.Equal(t, "2024-01-15 10:30:00 UTC", info.BuildDate)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH), info.Platform)
}

func TestGetVersionInfoDevBuild(t *testing.T) { //nolint:paralleltest // mutates package globals
	origVersion, origCommit, origDate := Version, Commit, BuildDate
	t.Cleanup(func() {
		Version, Commit, BuildDate = origVersion, origCommit, origDate
	})

	Version = "dev"
	Commit = "abc123def456789"
	BuildDate = unknownStr

	info := GetVersionInfo()
	assert.Equal(t, "build-abc123de", info.Version)
	assert.Equal(t, unknownStr, info.BuildDate)

	Commit = unknownStr
	info = GetVersionInfo()
	assert.True(t, strings.HasPrefix(info.Version, "build-"))
}
