package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type contextKey int

const subjectKey contextKey = iota

// SubjectFromContext extracts the subject injected by the transport layer.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey).(string)
	return s, ok && s != ""
}

// WithSubject returns a context with the given subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("RepQuest", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("RepQuest workout server. Browse quests, read rank and experience, and review offline video analyses. Profile data is scoped to the authenticated subject."),
	)

	h := &handlers{ds: ds, log: log}

	s.AddTools(
		server.ServerTool{Tool: toolListQuests, Handler: h.listQuests},
		server.ServerTool{Tool: toolGetProfile, Handler: h.getProfile},
		server.ServerTool{Tool: toolRecentAnalyses, Handler: h.recentAnalyses},
	)

	s.AddResources(
		server.ServerResource{Resource: resQuestCatalog, Handler: h.questCatalog},
		server.ServerResource{Resource: resRankTable, Handler: h.rankTable},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	ds  DataSource
	log *slog.Logger
}

var resQuestCatalog = mcp.NewResource(
	"repquest://quests",
	"Quest Catalog",
	mcp.WithResourceDescription("Every quest with its monster, workout, rep goal and difficulty reward"),
	mcp.WithMIMEType("application/json"),
)

var resRankTable = mcp.NewResource(
	"repquest://ranks",
	"Rank Table",
	mcp.WithResourceDescription("Experience thresholds for each rank"),
	mcp.WithMIMEType("application/json"),
)
