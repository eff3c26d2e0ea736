package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/claude/repquest/internal/analysis"
	"github.com/claude/repquest/internal/coach"
	"github.com/claude/repquest/internal/progression"
	"github.com/claude/repquest/internal/storage"
)

// Progression applies experience credits and reads profiles.
type Progression interface {
	Credit(ctx context.Context, subjectID string, gain int) (progression.CreditResult, error)
	Profile(ctx context.Context, subjectID string) (progression.Profile, error)
}

// Analyzer runs offline video analysis jobs.
type Analyzer interface {
	Validate(mimeType string, size int64) error
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Job, error)
	Options() analysis.Options
}

// Coach produces coaching tips.
type Coach interface {
	Tip(ctx context.Context, req coach.Request) string
}

// AnalysisLog lists recorded analysis jobs.
type AnalysisLog interface {
	QueryAnalyses(ctx context.Context, subjectID string, limit int) ([]storage.AnalysisRecord, error)
}

// ExpHistory lists experience ledger entries.
type ExpHistory interface {
	QueryExpLog(ctx context.Context, subjectID string, limit int) ([]storage.ExpLogEntry, error)
}

// Pinger reports backing store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP API. Analyzer and MCP may be
// nil.
type Deps struct {
	Progression Progression
	Analyzer    Analyzer
	Coach       Coach
	Analyses    AnalysisLog
	History     ExpHistory
	DB          Pinger
	Tokens      map[string]string
	WhoIs       WhoIser
	MCP         http.Handler
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	progression Progression
	analyzer    Analyzer
	coach       Coach
	analyses    AnalysisLog
	history     ExpHistory
	db          Pinger
	tokens      map[string]string
	whois       WhoIser
	mcp         http.Handler
	log         *slog.Logger
	router      chi.Router
}

// New creates a new Server with all routes configured.
func New(deps Deps, log *slog.Logger) *Server {
	s := &Server{
		progression: deps.Progression,
		analyzer:    deps.Analyzer,
		coach:       deps.Coach,
		analyses:    deps.Analyses,
		history:     deps.History,
		db:          deps.DB,
		tokens:      deps.Tokens,
		whois:       deps.WhoIs,
		mcp:         deps.MCP,
		log:         log,
		router:      chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Quest catalog is public.
		r.Get("/quests", s.handleQuests)
		r.Get("/quests/{id}", s.handleQuest)

		r.Group(func(r chi.Router) {
			r.Use(Identity(s.tokens, s.whois))
			r.Post("/workout/log", s.handleWorkoutLog)
			r.Post("/workout/coach", s.handleCoach)
			r.Post("/workout/analyze-video", s.handleAnalyzeVideo)
			r.Get("/profile", s.handleProfile)
			r.Get("/analyses", s.handleAnalyses)
			r.Get("/exp-log", s.handleExpLog)
		})
	})

	if s.mcp != nil {
		s.router.With(Identity(s.tokens, s.whois)).Handle("/mcp", s.mcp)
	}
}
