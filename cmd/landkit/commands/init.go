package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keeperhq/landkit/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Write a configuration file with every default filled in.

By default, the file is created at $XDG_CONFIG_HOME/landkit/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  landkit init

  # Initialize with custom path
  landkit init --config /etc/landkit/config.yaml

  # Force overwrite existing config
  landkit init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := config.Save(config.Default(), path); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the node with: landkit start")
	fmt.Printf("  3. Or specify custom config: landkit start --config %s\n", path)
	return nil
}
