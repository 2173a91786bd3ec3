package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meadowrx/dispense-cli/internal/model"
	"github.com/meadowrx/dispense-cli/internal/store"
)

const cacheMaintenanceInterval = 15 * time.Minute

var servePort int

// pipelineRunner is the part of the pipeline the HTTP layer needs.
type pipelineRunner interface {
	Run(ctx context.Context, rawText string) (*model.DispenseResult, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
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
			Handler: newRouter(env.Pipeline, env.Store),
		}

		// Periodic cache maintenance: sweep expired memory entries and
		// delete expired durable rows.
		go func() {
			ticker := time.NewTicker(cacheMaintenanceInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					swept, deleted := env.Cache.Purge(ctx)
					zap.L().Debug("cache maintenance",
						zap.Int("memory_swept", swept),
						zap.Int("durable_deleted", deleted),
					)
				}
			}
		}()

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(context.Background())
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

func newRouter(runner pipelineRunner, st store.Store) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/v1/dispense", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.Text == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
			return
		}

		result, err := runner.Run(req.Context(), body.Text)
		if err != nil {
			zap.L().Error("dispense request failed", zap.Error(err))
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, result)
	})

	r.Get("/v1/audits", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		filter := model.AuditFilter{
			CalculationID: q.Get("calculation_id"),
			EventType:     model.EventType(q.Get("event_type")),
			Status:        model.AuditStatus(q.Get("status")),
		}
		if raw := q.Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 1 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
			filter.Limit = limit
		}

		records, err := st.ListAudits(req.Context(), filter)
		if err != nil {
			zap.L().Error("audit listing failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "audit listing failed"})
			return
		}
		if records == nil {
			records = []model.AuditRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
