// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the mcpgate server.
package main

import (
	"os"

	"github.com/mcpgate/mcpgate/cmd/mcpgate/app"
	"github.com/mcpgate/mcpgate/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
