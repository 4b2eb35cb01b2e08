package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petstay/hotel-scraper/internal/brands"
)

var brandsCmd = &cobra.Command{
	Use:   "brands",
	Short: "List the registered brand scrapers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		for _, name := range brands.Names() {
			paths, err := brands.PathsFor(name, cfg.Storage.DataDir)
			if err != nil {
				continue
			}
			line := fmt.Sprintf("%-10s %s", name, paths.OutputJSON)
			if paths.SeedFile != "" {
				line += fmt.Sprintf(" (seeds: %s)", paths.SeedFile)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(brandsCmd)
}
