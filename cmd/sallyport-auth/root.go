package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is injected at build time via -ldflags
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "sallyport-auth",
	Short: "Self-contained OAuth 2.1 authorization server",
	Long: `sallyport-auth is a standalone OAuth 2.1 authorization server with
dynamic client registration, PKCE-protected authorization code flow,
refresh token rotation with reuse detection, and token revocation.

Clients register themselves over HTTP, obtain tokens through the
authorization code flow, and present Bearer tokens to protected
resources. State lives in memory by default or in Redis for
multi-instance deployments.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called by main.main().
func Execute() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(`{{printf "sallyport-auth version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
