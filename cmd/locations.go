package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/melify/peacemap/internal/locimport"
)

var locationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "Manage curated locations",
}

var locationsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import curated locations from a CSV or XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := locimport.ReadFile(args[0])
		if err != nil {
			return err
		}

		env, err := initEngine(cmd.Context(), "locations")
		if err != nil {
			return err
		}
		defer env.Close()

		imported, err := env.Store.CreateLocations(cmd.Context(), res.Locations)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.String("file", args[0]),
			zap.Int("imported", imported),
			zap.Int("skipped", res.Skipped),
		)
		return nil
	},
}

var (
	locationsLimit  int
	locationsOffset int
)

var locationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List curated locations with their rolling statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), "locations")
		if err != nil {
			return err
		}
		defer env.Close()

		locs, err := env.Store.ListLocations(cmd.Context(), locationsLimit, locationsOffset)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(locs)
	},
}

func init() {
	locationsListCmd.Flags().IntVar(&locationsLimit, "limit", 50, "maximum locations to list")
	locationsListCmd.Flags().IntVar(&locationsOffset, "offset", 0, "listing offset")
	locationsCmd.AddCommand(locationsImportCmd)
	locationsCmd.AddCommand(locationsListCmd)
	rootCmd.AddCommand(locationsCmd)
}
