package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/transport"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Cortex daemon: embedded bus, Tool Dispatch, and the dashboard HTTP surface",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override the dashboard HTTP port from config")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Println("===============================================")
	log.Println("  Cortex - cognitive memory and coordination substrate")
	log.Println("===============================================")

	cfg := loadConfig(configPath)
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize Cortex: %w", err)
	}
	defer a.stop()
	a.start()

	bus, err := transport.StartEmbedded(cfg.Server.NATSPort, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer bus.Shutdown()
	log.Printf("[MAIN] embedded transport bus listening on %s", bus.URL())

	dispatchClient, err := transport.NewClient(bus.URL(), "dispatch")
	if err != nil {
		return fmt.Errorf("failed to connect dispatch worker: %w", err)
	}
	defer dispatchClient.Close()
	if err := a.router.Serve(ctx, dispatchClient); err != nil {
		return fmt.Errorf("failed to start tool dispatch: %w", err)
	}
	log.Println("[MAIN] Tool Dispatch subscribed to every cortex.tool.* subject")

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: dashboardMux(a),
	}
	go func() {
		log.Printf("[MAIN] dashboard listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[MAIN] dashboard server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[MAIN] shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[MAIN] dashboard shutdown error: %v", err)
	}
	return nil
}

// dashboardMux exposes a health check plus read-only session/lock/agent
// state and memory statistics, and a POST /api/materialize that flushes a
// workspace to disk, the way cmd/cliairmonitor/main.go exposes /health and
// /api/agents over the agent spawner.
func dashboardMux(a *app) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := a.sessions.List(r.Context(), domain.SessionFilters{
			WorkspaceID: r.URL.Query().Get("workspace_id"),
			Limit:       200,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total_count": len(sessions)})
	})

	mux.HandleFunc("/api/locks", func(w http.ResponseWriter, r *http.Request) {
		entityID := r.URL.Query().Get("entity_id")
		if entityID == "" {
			http.Error(w, "entity_id query parameter required", http.StatusBadRequest)
			return
		}
		locks := a.locks.ListEntityLocks(entityID)
		writeJSON(w, http.StatusOK, map[string]any{"locks": locks, "total_count": len(locks)})
	})

	mux.HandleFunc("/api/agents", func(w http.ResponseWriter, r *http.Request) {
		agents, err := a.agents.ListAgents(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"agents": agents, "total_count": len(agents)})
	})

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		workspaceID := domain.WorkspaceID(r.URL.Query().Get("workspace_id"))
		if workspaceID == "" {
			http.Error(w, "workspace_id query parameter required", http.StatusBadRequest)
			return
		}
		stats, err := a.cognitiveMgr.Statistics(r.Context(), workspaceID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	mux.HandleFunc("/api/materialize", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		workspaceID := r.URL.Query().Get("workspace_id")
		outputDir := r.URL.Query().Get("output_dir")
		if workspaceID == "" || outputDir == "" {
			http.Error(w, "workspace_id and output_dir query parameters required", http.StatusBadRequest)
			return
		}
		report, err := a.materializer.Flush(r.Context(), workspaceID, outputDir,
			domain.FlushScope{Kind: domain.ScopeAll},
			domain.FlushOptions{Atomic: true, CreateBackup: true, Parallel: true, MaxWorkers: 4})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[MAIN] failed to encode response: %v", err)
	}
}
