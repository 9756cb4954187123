package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after defaults and environment overrides.
Secrets (API key, database DSN, webhook URLs) are masked.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg.Redacted())
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the config file",
	RunE: func(_ *cobra.Command, _ []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Println("Configuration is valid.")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configValidateCmd)
}
