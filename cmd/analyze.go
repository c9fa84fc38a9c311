package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/melify/peacemap/internal/classifier"
	"github.com/melify/peacemap/internal/engine"
	"github.com/melify/peacemap/internal/model"
)

var (
	analyzeLat       float64
	analyzeLng       float64
	analyzeImagePath string
	analyzeMediaType string
	analyzeUserID    string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze the peacefulness of one coordinate",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		req := engine.AnalyzeRequest{
			Coordinates: model.Coordinates{Lat: analyzeLat, Lng: analyzeLng},
			UserID:      analyzeUserID,
		}
		if analyzeImagePath != "" {
			data, err := os.ReadFile(analyzeImagePath)
			if err != nil {
				return eris.Wrap(err, "read image")
			}
			req.Image = data
			req.ImageMeta = &classifier.ImageMetadata{MediaType: analyzeMediaType}
		}

		outcome, err := env.Engine.Analyze(cmd.Context(), req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	},
}

func init() {
	analyzeCmd.Flags().Float64Var(&analyzeLat, "lat", 0, "latitude")
	analyzeCmd.Flags().Float64Var(&analyzeLng, "lng", 0, "longitude")
	analyzeCmd.Flags().StringVar(&analyzeImagePath, "image", "", "path to an aerial or map image (optional)")
	analyzeCmd.Flags().StringVar(&analyzeMediaType, "media-type", "image/jpeg", "image media type")
	analyzeCmd.Flags().StringVar(&analyzeUserID, "user", "", "user ID for the history log")
	analyzeCmd.MarkFlagRequired("lat")
	analyzeCmd.MarkFlagRequired("lng")
	rootCmd.AddCommand(analyzeCmd)
}
