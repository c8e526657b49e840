// Package main implements the projectflow CLI: the workflow API server, the
// event worker, migrations and outbox administration.
package main

import (
	"os"

	"projectflow/pkg/config"

	"github.com/spf13/cobra"
)

var (
	// version information
	version = "dev"

	envName   string
	configDir string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "projectflow",
	Short: "Project workflow engine",
	Long: `projectflow drives projects through their eight delivery phases, enforcing
document and quality-gate preconditions, and tracks inspections and NCRs.`,
	Version:       version,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envName, "env", config.GetConfigEnv(), "config environment (CONFIG_ENV)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", config.GetEnv("CONFIG_DIR", "config"), "config directory (CONFIG_DIR)")
}
