package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral-internal/internal/storagesrv/config"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "corralctl",
	Short: "corralctl administers the Corral record storage engine",
	Long: `corralctl administers the Corral record storage engine.
It installs and migrates the backend schema, checks backend health, and
inspects collection state.`,
	PersistentPreRunE: loadConfigFile,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file to override default")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(timestampCmd)
}

func loadConfigFile(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		return nil
	}
	if err := config.LoadConfig(configFile); err != nil {
		return fmt.Errorf("unable to load config file %s: %w", configFile, err)
	}
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
