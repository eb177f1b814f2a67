package main

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/CanopyNet/canopy-core/internal/config"
	"github.com/spf13/cobra"
)

// Build-time variables (injected via -ldflags)
var (
	version   = "dev"     // Default for development
	commit    = "unknown" // Git commit hash
	date      = "unknown" // Build date
	goVersion = runtime.Version()
	platform  = runtime.GOOS + "/" + runtime.GOARCH

	configFile string
)

func getVersionInfo() string {
	commitHash := commit
	if len(commit) > 8 {
		commitHash = commit[:8]
	}
	return fmt.Sprintf("canopy-core %s (%s) built with %s on %s at %s",
		version, commitHash, goVersion, platform, date)
}

var rootCmd = &cobra.Command{
	Use:     "canopy-core",
	Version: version,
	Short:   "canopy-core directory transfer service",
	Long:    `A self-hosted service for chunked, integrity-checked directory uploads and downloads, with a matching client built on the same parallel transfer engine.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file (env vars still override)")
	rootCmd.SetVersionTemplate(getVersionInfo() + "\n")

	rootCmd.AddCommand(apiCmd, uploadCmd)
}

// loadConfig runs inside command handlers, after flag parsing, so the
// --config value is visible.
func loadConfig() *config.Config {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
