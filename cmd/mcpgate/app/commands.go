// SPDX-License-Identifier: Apache-2.0

// Package app provides the command tree for the mcpgate CLI.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpgate/mcpgate/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "mcpgate",
	DisableAutoGenTag: true,
	Short:             "mcpgate is a multi-tenant MCP server with an embedded OAuth 2.1 authorization server",
	Long: `mcpgate hosts Model Context Protocol (MCP) endpoints for multiple tenants
over HTTP. It speaks the 2024-11-05, 2025-03-26 and 2025-06-18 protocol
revisions, streams responses over SSE or chunked transfer, and protects
tenant endpoints with an embedded OAuth 2.1 authorization server using
PKCE and RFC 8707 resource indicators.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// NewRootCmd creates the root command for the mcpgate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			if outputJSON {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(out))
				return nil
			}
			cmd.Println(fmt.Sprintf("mcpgate %s (commit %s, built %s, %s, %s)",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform))
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output version information as JSON")
	return cmd
}
