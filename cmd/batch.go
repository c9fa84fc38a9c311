package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/melify/peacemap/internal/engine"
	"github.com/melify/peacemap/internal/model"
)

var batchFile string

// batchItem is one line of a batch input file.
type batchItem struct {
	Lat         float64                `json:"lat"`
	Lng         float64                `json:"lng"`
	UserID      string                 `json:"user_id,omitempty"`
	Preferences *model.UserPreferences `json:"preferences,omitempty"`
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Analyze a batch of coordinates from a JSON file",
	Long:  "Reads a JSON array of coordinate items and analyzes them concurrently. Batches are capped; split larger files into multiple runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(batchFile)
		if err != nil {
			return eris.Wrap(err, "read batch file")
		}
		var items []batchItem
		if err := json.Unmarshal(data, &items); err != nil {
			return eris.Wrap(err, "parse batch file")
		}

		env, err := initEngine(cmd.Context(), "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		reqs := make([]engine.AnalyzeRequest, len(items))
		for i, item := range items {
			reqs[i] = engine.AnalyzeRequest{
				Coordinates: model.Coordinates{Lat: item.Lat, Lng: item.Lng},
				UserID:      item.UserID,
				Preferences: item.Preferences,
			}
		}

		results, err := env.Engine.BatchAnalyze(cmd.Context(), reqs)
		if err != nil {
			return err
		}

		succeeded := 0
		for _, r := range results {
			if r.Success {
				succeeded++
			}
		}
		zap.L().Info("batch complete",
			zap.Int("total", len(results)),
			zap.Int("succeeded", succeeded),
			zap.Int("failed", len(results)-succeeded),
		)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "JSON file with coordinate items")
	batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}
