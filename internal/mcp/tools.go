package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/claude/repquest/internal/progression"
	"github.com/claude/repquest/internal/quest"
)

const (
	defaultAnalysesLimit = 10
	maxAnalysesLimit     = 100
)

// --- Tool definitions ---

var toolListQuests = mcp.NewTool("list_quests",
	mcp.WithDescription("List available quests. Each quest names a monster, the workout that damages it, the rep goal and the difficulty, which sets the EXP reward."),
	mcp.WithString("difficulty", mcp.Description("Only return quests of this difficulty."), mcp.Enum("Novice", "Adept", "Veteran", "Boss")),
)

var toolGetProfile = mcp.NewTool("get_profile",
	mcp.WithDescription("Get the caller's class, EXP, rank, rank lock and the EXP needed for the next rank."),
)

var toolRecentAnalyses = mcp.NewTool("recent_analyses",
	mcp.WithDescription("List the caller's most recent offline video analyses, newest first, with rep counts, confidence and failure reasons."),
	mcp.WithNumber("limit", mcp.Description("Maximum number of analyses. Defaults to 10, capped at 100.")),
)

// --- Tool handlers ---

func (h *handlers) listQuests(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	difficulty := req.GetString("difficulty", "")

	var out []quest.Quest
	for _, q := range quest.All() {
		if difficulty != "" && string(q.Difficulty) != difficulty {
			continue
		}
		out = append(out, q)
	}

	result, err := mcp.NewToolResultJSON(out)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

type profileResult struct {
	progression.Profile
	NextRank  progression.Rank `json:"nextRank,omitempty"`
	ExpToNext int              `json:"expToNext"`
}

func (h *handlers) getProfile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subject, ok := SubjectFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("no authenticated subject"), nil
	}

	p, err := h.ds.Profile(ctx, subject)
	if err != nil {
		h.log.Error("mcp get_profile", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	out := profileResult{Profile: p}
	if next, needed, ok := progression.NextRank(p.Exp); ok {
		out.NextRank, out.ExpToNext = next, needed
	}

	result, err := mcp.NewToolResultJSON(out)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) recentAnalyses(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subject, ok := SubjectFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("no authenticated subject"), nil
	}

	limit := int(req.GetFloat("limit", defaultAnalysesLimit))
	if limit <= 0 {
		limit = defaultAnalysesLimit
	}
	limit = min(limit, maxAnalysesLimit)

	recs, err := h.ds.QueryAnalyses(ctx, subject, limit)
	if err != nil {
		h.log.Error("mcp recent_analyses", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(recs)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
