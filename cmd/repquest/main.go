package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"tailscale.com/tsnet"

	"github.com/claude/repquest/internal/analysis"
	"github.com/claude/repquest/internal/coach"
	"github.com/claude/repquest/internal/config"
	"github.com/claude/repquest/internal/gemini"
	"github.com/claude/repquest/internal/mcp"
	"github.com/claude/repquest/internal/progression"
	"github.com/claude/repquest/internal/server"
	"github.com/claude/repquest/internal/storage"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the config")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("RepQuest starting", "version", Version)

	// Keys may live in a .env file next to the config.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("dotenv not loaded", "path", *envFile, "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	dsn := cfg.Database.DSN()
	version, err := storage.RunMigrations(dsn, cfg.Migrations)
	if err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}
	log.Info("migrations applied", "version", version)

	if *migrateOnly {
		log.Info("migrate-only: exiting")
		return
	}

	ctx := context.Background()
	db, err := storage.New(ctx, dsn)
	if err != nil {
		log.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database connected")

	prog := progression.NewService(db, log)

	var gem *gemini.Client
	if cfg.Gemini.APIKey != "" {
		gem, err = gemini.New(ctx, cfg.Gemini.APIKey, cfg.Gemini.CoachModel, log)
		if err != nil {
			log.Error("failed to create gemini client", "error", err)
			os.Exit(1)
		}
	} else {
		log.Warn("gemini key not configured: video analysis disabled")
	}

	coachSvc := coach.NewService(textGenerator(cfg, gem, log), log)

	deps := server.Deps{
		Progression: prog,
		Coach:       coachSvc,
		Analyses:    db,
		History:     db,
		DB:          db,
		Tokens:      cfg.Auth.Tokens,
	}
	if gem != nil {
		pipeline := analysis.New(gem, gem, analysis.Options{
			MaxBytes:       cfg.Analysis.MaxBytes,
			InlineMaxBytes: cfg.Analysis.InlineMaxBytes,
			PollInterval:   cfg.Analysis.PollInterval,
			PollAttempts:   cfg.Analysis.PollAttempts,
			Models:         cfg.Analysis.Models,
		}, log)
		pipeline.SetRecorder(db)
		deps.Analyzer = pipeline
	}

	mcpSrv := mcp.New(mcp.Local{Progression: prog, DB: db}, Version, log)
	deps.MCP = mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if subject, ok := server.SubjectFromContext(r.Context()); ok {
				return mcp.WithSubject(ctx, subject)
			}
			return ctx
		}),
	)

	if cfg.Decay.Enabled {
		sched, err := progression.NewScheduler(prog, cfg.Decay.Schedule, log)
		if err != nil {
			log.Error("invalid decay schedule", "error", err)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop()
	}

	// Start server on tsnet or plain HTTP.
	var listener net.Listener
	var tsServer *tsnet.Server

	if cfg.Tailscale.Enabled {
		tsServer = &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		lc, err := tsServer.LocalClient()
		if err != nil {
			log.Error("tsnet local client failed", "error", err)
			os.Exit(1)
		}
		deps.WhoIs = lc

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
	}

	srv := server.New(deps, log)
	httpSrv := &http.Server{Handler: srv}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
}

// textGenerator picks the coaching backend. A nil generator makes the coach
// answer with its fixed fallback cue.
func textGenerator(cfg *config.Config, gem *gemini.Client, log *slog.Logger) coach.TextGenerator {
	switch cfg.Coach.Provider {
	case "openai":
		log.Info("coach provider", "provider", "openai", "model", cfg.OpenAI.Model)
		return coach.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	case "gemini":
		if gem != nil {
			log.Info("coach provider", "provider", "gemini")
			return gem.Coach()
		}
	}
	log.Warn("coach provider disabled: serving fallback cues")
	return nil
}
