package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/claude/repquest/internal/apiclient"
	"github.com/claude/repquest/internal/attempts"
	"github.com/claude/repquest/internal/completion"
	"github.com/claude/repquest/internal/config"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd(&app{out: os.Stdout}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every subcommand shares once the config is loaded.
type app struct {
	cfg    *config.LiveConfig
	log    *slog.Logger
	client *apiclient.Client
	out    io.Writer
	tty    bool
}

// crediter returns the client when it can act for a subject, else nil so
// completions are shown without a credit request.
func (a *app) crediter() completion.Crediter {
	if a.client.Authenticated() {
		return a.client
	}
	return nil
}

func (a *app) openAttempts() (*attempts.Store, error) {
	s, err := attempts.Open(a.cfg.AttemptsDB)
	if err != nil {
		return nil, fmt.Errorf("opening attempt history: %w", err)
	}
	return s, nil
}

func newRootCmd(a *app) *cobra.Command {
	var configPath, envFile string
	var verbose bool

	root := &cobra.Command{
		Use:           "repquest-live",
		Short:         "Live rep tracking and quest tools for RepQuest",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("loading %s: %w", envFile, err)
			}

			path := configPath
			optional := path == ""
			if optional {
				path = config.DefaultLivePath()
			}
			cfg, err := config.LoadLive(path, optional)
			if err != nil {
				return err
			}
			a.cfg = cfg

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			a.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			a.client = apiclient.New(cfg.ServerURL, cfg.Token, cfg.Subject, cfg.Timeout)
			if f, ok := a.out.(*os.File); ok {
				a.tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to live config (default "+config.DefaultLivePath()+")")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")

	root.AddCommand(
		newTrackCmd(a),
		newAnalyzeCmd(a),
		newAttemptsCmd(a),
		newProfileCmd(a),
		newQuestsCmd(a),
		newMCPCmd(a),
	)
	return root
}
