package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the entry point when the binary is called without subcommands
var rootCmd = &cobra.Command{
	Use:   "agent-oauth",
	Short: "OAuth 2.0 authorization server for platform agents",
	Long: `agent-oauth issues OAuth 2.0 credentials to AI agents and other
programmatic clients on behalf of the platform.

Agents register themselves dynamically (RFC 7591), send users through the
authorization code flow with PKCE, and exchange codes for short-lived JWT
access tokens plus rotating refresh tokens. Resource servers verify access
tokens statelessly with the shared signing key.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called by main.main().
func Execute() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(`{{printf "agent-oauth version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
