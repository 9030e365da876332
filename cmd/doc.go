// Package cmd implements the command-line interface for icloudmcp.
//
// This package provides the following commands:
//   - serve: Start the MCP server exposing iCloud mail and calendar tools
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
package cmd
