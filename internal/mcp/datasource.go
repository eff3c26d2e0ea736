package mcp

import (
	"context"

	"github.com/claude/repquest/internal/progression"
	"github.com/claude/repquest/internal/storage"
)

// DataSource abstracts the data layer for MCP tools. Local (service plus
// database) and apiclient.Client (remote via REST API) satisfy this
// interface.
type DataSource interface {
	Profile(ctx context.Context, subjectID string) (progression.Profile, error)
	QueryAnalyses(ctx context.Context, subjectID string, limit int) ([]storage.AnalysisRecord, error)
}

// Local serves MCP tools from the in-process progression service and
// database.
type Local struct {
	Progression *progression.Service
	DB          *storage.DB
}

// Profile implements DataSource.
func (l Local) Profile(ctx context.Context, subjectID string) (progression.Profile, error) {
	return l.Progression.Profile(ctx, subjectID)
}

// QueryAnalyses implements DataSource.
func (l Local) QueryAnalyses(ctx context.Context, subjectID string, limit int) ([]storage.AnalysisRecord, error) {
	return l.DB.QueryAnalyses(ctx, subjectID, limit)
}

var _ DataSource = Local{}
