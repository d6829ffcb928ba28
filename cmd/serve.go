package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/marketsense/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server",
	Long:  "Exposes per-stage trigger endpoints plus a full-run endpoint, mirroring the hosted function surface the dashboard invokes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
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

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// stageRequest is the body every function endpoint accepts. Context fields
// beyond the requirement ID are carried by the stored requirement row.
type stageRequest struct {
	RequirementID string `json:"requirementId"`
}

// stageResponse mirrors the hosted-function result shape.
type stageResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Remaining *int   `json:"remaining,omitempty"`
	Data      any    `json:"data,omitempty"`
}

func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	stages := map[string]model.StageName{
		"generate-market-queries":    model.StageGenerateQueries,
		"process-market-queries":     model.StageSearch,
		"scrape-research-urls":       model.StageScrape,
		"summarize-research-content": model.StageSummarize,
		"analyze-market":             model.StageSynthesize,
	}
	for path, stage := range stages {
		r.Post("/functions/"+path, stageHandler(env, stage))
	}

	r.Post("/functions/run-market-analysis", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeStageRequest(w, r)
		if !ok {
			return
		}

		// The full run is long; accept and drive it in the background. The
		// completion watcher (or GET /runs) observes the outcome. The run
		// must outlive the request, hence the detached context.
		runCtx := context.WithoutCancel(r.Context())
		go func() {
			if _, err := env.Pipeline.Run(runCtx, req.RequirementID); err != nil {
				zap.L().Error("run-market-analysis failed",
					zap.String("requirement_id", req.RequirementID),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, stageResponse{
			Success: true,
			Message: "market analysis started",
		})
	})

	r.Get("/runs/{requirementID}", func(w http.ResponseWriter, r *http.Request) {
		requirementID := chi.URLParam(r, "requirementID")
		run, err := env.Store.GetRun(r.Context(), requirementID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, stageResponse{Success: false, Message: err.Error()})
			return
		}
		if run == nil {
			analysis, err := env.Store.GetAnalysis(r.Context(), requirementID)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, stageResponse{Success: false, Message: err.Error()})
				return
			}
			if analysis.Complete() {
				writeJSON(w, http.StatusOK, stageResponse{Success: true, Message: "completed", Data: analysis})
				return
			}
			writeJSON(w, http.StatusNotFound, stageResponse{Success: false, Message: "no run in progress"})
			return
		}
		writeJSON(w, http.StatusOK, stageResponse{Success: true, Data: run})
	})

	return r
}

func stageHandler(env *appEnv, stage model.StageName) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeStageRequest(w, r)
		if !ok {
			return
		}

		report, err := env.Pipeline.RunStage(r.Context(), req.RequirementID, stage)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, stageResponse{Success: false, Message: err.Error()})
			return
		}

		resp := stageResponse{Success: report.Success, Message: report.Message}
		if stage == model.StageSummarize {
			remaining := report.Remaining
			resp.Remaining = &remaining
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func decodeStageRequest(w http.ResponseWriter, r *http.Request) (stageRequest, bool) {
	var req stageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, stageResponse{Success: false, Message: "invalid request body"})
		return req, false
	}
	if req.RequirementID == "" {
		writeJSON(w, http.StatusBadRequest, stageResponse{Success: false, Message: "requirementId is required"})
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
