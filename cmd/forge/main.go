// Package main is the entry point for the forge server, the runtime that
// pairs chat sessions with sandboxed app-building agents.
//
// Start the server:
//
//	forge serve --config forge.yaml
//
// Configuration can also come from the environment; ANTHROPIC_API_KEY is
// required either way.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "forge",
		Short:        "Forge - session runtime for AI app-building agents",
		Long:         `Forge hosts chat sessions that drive a sandboxed coding agent: each session gets an isolated workspace, a managed dev server and a policy gate over every tool call.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}
