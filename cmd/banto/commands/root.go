package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shizukutanaka/Banto/internal/app"
	"github.com/shizukutanaka/Banto/internal/config"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "banto",
	Short: "Adaptive mining controller",
	Long: `Banto keeps a mining host on its most profitable algorithm while four
rule-driven loops watch profitability, resource headroom, alert
thresholds, and component health. Every loop shares the same engine:
conditions over a metrics snapshot, cooldown gating, and bounded
corrective actions.`,
	Version: app.Version,
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "force debug logging")

	rootCmd.SetVersionTemplate(`Banto {{.Version}}
Adaptive mining controller
https://github.com/shizukutanaka/Banto
`)
}

// configPath resolves the configuration file for this invocation
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath
}
