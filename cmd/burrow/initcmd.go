package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/burrowq/burrow/pkg/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default burrow.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := flagConfig
		if path == "" {
			path = "burrow.yaml"
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}

		data, err := config.Default().Render()
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}
