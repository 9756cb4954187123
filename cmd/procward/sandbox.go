package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Manage the shared sandbox directory",
}

var sandboxPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the sandbox directory",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ws, err := initWorkspace(cfg)
		if err != nil {
			return err
		}
		fmt.Println(ws.SandboxDir())
		return nil
	},
}

var sandboxCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove everything inside the sandbox directory",
	Long: `Remove every file and directory inside the shared sandbox directory.
The directory itself is kept. Do not run this while a launched command is
still writing there.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ws, err := initWorkspace(cfg)
		if err != nil {
			return err
		}
		if err := ws.CleanSandbox(); err != nil {
			return err
		}
		fmt.Printf("Sandbox %s cleaned.\n", ws.SandboxDir())
		return nil
	},
}

func init() {
	sandboxCmd.AddCommand(sandboxPathCmd, sandboxCleanCmd)
}
