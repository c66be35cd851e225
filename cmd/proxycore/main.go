// Package main is the CLI entry point for proxycore — a web-based
// HTTP/HTTPS intercepting proxy: MITM via an on-the-fly-minted CA,
// manual intercept/modify/forward of in-flight requests, a rule engine
// for automatic header/body rewrites and blocks, and intruder, spider,
// and scanner engines driven over the same recorded traffic.
//
// Architecture overview:
//
//	Browser --> proxycore proxy (:8080) --> origin server
//	             |                            |
//	             +-- rule engine --------------+
//	             |-- intercept coordinator (pause for review)
//	             |-- record flow (SQLite)
//	             +-- forward (modified or original) response to client
//
//	proxycore API (:8081) serves the REST/WebSocket facade used by the
//	UI and by the intruder/spider/scanner engines' own control surface.
//
// CLI commands (cobra):
//
//	proxycore start [-d]  - Start the proxy + API (foreground or daemon)
//	proxycore stop        - Stop the running proxy
//	proxycore status      - Show proxy status
//	proxycore rules       - Manage the rule engine's rule set
//	proxycore intercept   - Toggle interception, list/decide pending slots
//	proxycore intruder    - Configure and drive intruder attacks
//	proxycore spider      - Configure and drive spider sessions
//	proxycore scan        - Run scanner checks against a recorded flow
//	proxycore ca          - Export the root CA certificate
//	proxycore replay      - Re-issue a recorded flow's request
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-02-10"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// configDir is the global flag for the proxycore config/state directory.
var configDir string

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".proxycore"
	}
	return filepath.Join(home, ".proxycore")
}

var rootCmd = &cobra.Command{
	Use:   "proxycore",
	Short: "proxycore — intercepting HTTP/HTTPS proxy",
	Long: `proxycore is a web-based HTTP/HTTPS intercepting proxy. It MITMs TLS
connections with an on-the-fly-minted CA, runs every flow through a
rule engine, lets an operator pause and modify requests in flight, and
drives intruder, spider, and scanner engines over the recorded traffic.

Run 'proxycore start' to start the proxy and API.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configDir,
		"config-dir",
		defaultConfigDir(),
		"Path to proxycore config and state directory",
	)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(interceptCmd)
	rootCmd.AddCommand(intruderCmd)
	rootCmd.AddCommand(spiderCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(caCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
