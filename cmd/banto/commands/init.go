package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shizukutanaka/Banto/internal/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long:  `Generate a configuration file holding the defaults as a starting point.`,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().Bool("force", false, "Overwrite an existing file")
}

func runInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	path := configPath()

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Wrote %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Review the store, notifiers, and api sections")
	fmt.Println("  2. Run 'banto start'")
	return nil
}
