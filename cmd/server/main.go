// vulnlab - AI vulnerability-assessment lab server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/akarpov/vulnlab/internal/agent"
	"github.com/akarpov/vulnlab/internal/api"
	"github.com/akarpov/vulnlab/internal/config"
	"github.com/akarpov/vulnlab/internal/identity"
	"github.com/akarpov/vulnlab/internal/mcp"
	"github.com/akarpov/vulnlab/internal/middleware"
	"github.com/akarpov/vulnlab/internal/store"
)

const defaultInstructions = `You are a security assessment assistant. Investigate the target the user
describes, record every vulnerability you identify with the record_finding
tool, and produce the final report with the synthesize_report tool when
asked.`

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	instructions := loadInstructions(cfg.Agent.InstructionsPath)

	// The runtime is optional: without an API key the server still serves
	// session reads, deletes and MCP inspection.
	var runtime agent.Runtime
	if cfg.Agent.APIKey != "" {
		runtime = agent.NewAnthropicRuntime(agent.AnthropicConfig{
			APIKey:            cfg.Agent.APIKey,
			Model:             cfg.Agent.Model,
			MaxTurns:          cfg.Agent.MaxTurns,
			InputCostPerMTok:  cfg.Agent.InputCostPerMTok,
			OutputCostPerMTok: cfg.Agent.OutputCostPerMTok,
		})
		slog.Info("Agent runtime initialized", "model", cfg.Agent.Model, "max_turns", cfg.Agent.MaxTurns)
	} else {
		slog.Info("Agent runtime disabled (ANTHROPIC_API_KEY not set)")
	}

	turnLog, err := agent.NewTurnLogger(agent.TurnLogConfig{
		Enabled:    cfg.ConversationLog.Enabled,
		Dir:        cfg.ConversationLog.Dir,
		GlobalPath: cfg.ConversationLog.GlobalPath,
		QueueSize:  cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	agentService := agent.NewService(repo, runtime, instructions, turnLog)
	defer agentService.Close()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo)
	agentHandler := agent.NewHandler(agentService, cfg)
	wsHandler := agent.NewWebSocketHandler(agentService, agentHandler.Limiter(), cfg.FrontendURL, cfg.IsDevelopment())
	mcpHandler := mcp.NewHandler(mcp.NewInspector(cfg.MCPInspectTimeout))

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	r.Get("/api/health", baseHandler.HandleHealth)
	agentHandler.RegisterRoutes(r)
	mcpHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/query", wsHandler.ServeHTTP)

	// Note: streaming responses require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartCleanupWorker(ctx, repo, cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// loadInstructions reads the standing instructions file, falling back to
// the built-in default when the path is unset or unreadable.
func loadInstructions(path string) string {
	if path == "" {
		return defaultInstructions
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Failed to read instructions file, using default", "path", path, "error", err)
		return defaultInstructions
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return defaultInstructions
	}
	return text
}
