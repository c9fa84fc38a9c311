package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/melify/peacemap/internal/classifier"
	"github.com/melify/peacemap/internal/engine"
	"github.com/melify/peacemap/internal/model"
	"github.com/melify/peacemap/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the HTTP route tree.
func newRouter(env *engineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Post("/analyze", handleAnalyze(env))
		api.Post("/analyze/batch", handleBatchAnalyze(env))
		api.Get("/history/{userID}", handleHistory(env))
		api.Get("/insights/{userID}", handleInsights(env))
		api.Get("/locations", handleListLocations(env))
	})

	return r
}

// analyzeRequestBody is the wire form of one analysis request. The image
// travels base64-encoded.
type analyzeRequestBody struct {
	Lat         float64                `json:"lat"`
	Lng         float64                `json:"lng"`
	Image       string                 `json:"image,omitempty"`
	MediaType   string                 `json:"media_type,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	Preferences *model.UserPreferences `json:"preferences,omitempty"`
}

func (b analyzeRequestBody) toEngineRequest() (engine.AnalyzeRequest, error) {
	req := engine.AnalyzeRequest{
		Coordinates: model.Coordinates{Lat: b.Lat, Lng: b.Lng},
		UserID:      b.UserID,
		Preferences: b.Preferences,
	}
	if b.Image != "" {
		data, err := base64.StdEncoding.DecodeString(b.Image)
		if err != nil {
			return req, eris.Wrap(err, "decode image")
		}
		req.Image = data
		req.ImageMeta = &classifier.ImageMetadata{MediaType: b.MediaType}
	}
	return req, nil
}

func handleAnalyze(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body analyzeRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req, err := body.toEngineRequest()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		outcome, err := env.Engine.Analyze(r.Context(), req)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	}
}

func handleBatchAnalyze(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Items []analyzeRequestBody `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		reqs := make([]engine.AnalyzeRequest, len(body.Items))
		for i, item := range body.Items {
			req, err := item.toEngineRequest()
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("item %d: %s", i, err))
				return
			}
			reqs[i] = req
		}

		results, err := env.Engine.BatchAnalyze(r.Context(), reqs)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

func handleHistory(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		page := queryInt(r, "page", 1)
		pageSize := queryInt(r, "page_size", 20)
		sortBy := store.LogSort(r.URL.Query().Get("sort"))

		result, err := env.Engine.GetHistory(r.Context(), userID, page, pageSize, sortBy)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleInsights(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := env.Engine.GetInsights(r.Context(), chi.URLParam(r, "userID"), queryInt(r, "window_days", 0))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleListLocations(env *engineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)

		locs, err := env.Store.ListLocations(r.Context(), limit, offset)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"locations": locs})
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeEngineError(w http.ResponseWriter, err error) {
	if engine.IsValidation(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	zap.L().Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
