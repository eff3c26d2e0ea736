package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/claude/repquest/internal/progression"
	"github.com/claude/repquest/internal/quest"
)

func (h *handlers) questCatalog(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	type entry struct {
		quest.Quest
		Reward int `json:"reward"`
	}
	var catalog []entry
	for _, q := range quest.All() {
		catalog = append(catalog, entry{Quest: q, Reward: q.Difficulty.Reward()})
	}
	return jsonResource(req.Params.URI, catalog)
}

func (h *handlers) rankTable(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(req.Params.URI, progression.Thresholds)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
