package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/claude/repquest/internal/progression"
	"github.com/claude/repquest/internal/quest"
	"github.com/claude/repquest/internal/storage"
)

type fakeSource struct {
	exp       int
	err       error
	lastLimit int
}

func (f *fakeSource) Profile(ctx context.Context, subjectID string) (progression.Profile, error) {
	if f.err != nil {
		return progression.Profile{}, f.err
	}
	return progression.Profile{SubjectID: subjectID, Exp: f.exp, Rank: progression.RankFor(f.exp)}, nil
}

func (f *fakeSource) QueryAnalyses(ctx context.Context, subjectID string, limit int) ([]storage.AnalysisRecord, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []storage.AnalysisRecord{{SubjectID: subjectID, Status: "analyzed"}}, nil
}

func newHandlers(ds DataSource) *handlers {
	return &handlers{ds: ds, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", res.Content[0])
	}
	return text.Text
}

// TestSubjectFromContext verifies the subject round-trips through the
// context and an empty context reports no subject.
func TestSubjectFromContext(t *testing.T) {
	if _, ok := SubjectFromContext(context.Background()); ok {
		t.Error("SubjectFromContext(empty) ok = true, want false")
	}
	ctx := WithSubject(context.Background(), "alice")
	if s, ok := SubjectFromContext(ctx); !ok || s != "alice" {
		t.Errorf("SubjectFromContext = %q, %v, want alice, true", s, ok)
	}
}

// TestListQuestsFilter verifies the difficulty filter.
func TestListQuestsFilter(t *testing.T) {
	h := newHandlers(&fakeSource{})
	res, err := h.listQuests(context.Background(), callRequest(map[string]any{"difficulty": "Adept"}))
	if err != nil {
		t.Fatal(err)
	}
	var quests []quest.Quest
	if err := json.Unmarshal([]byte(resultText(t, res)), &quests); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(quests) != 3 {
		t.Errorf("adept quests = %d, want 3", len(quests))
	}
	for _, q := range quests {
		if q.Difficulty != quest.Adept {
			t.Errorf("quest %s difficulty = %s, want Adept", q.ID, q.Difficulty)
		}
	}
}

// TestGetProfile verifies the profile tool reports the next rank for the
// authenticated subject.
func TestGetProfile(t *testing.T) {
	h := newHandlers(&fakeSource{exp: 60})
	ctx := WithSubject(context.Background(), "alice")

	res, err := h.getProfile(ctx, callRequest(nil))
	if err != nil {
		t.Fatal(err)
	}
	var got profileResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &got); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.SubjectID != "alice" || got.Rank != progression.RankD || got.NextRank != progression.RankC || got.ExpToNext != 90 {
		t.Errorf("profile = %+v, want alice D next C in 90", got)
	}
}

// TestGetProfileRequiresSubject verifies tools refuse to run without an
// authenticated subject.
func TestGetProfileRequiresSubject(t *testing.T) {
	h := newHandlers(&fakeSource{})
	res, err := h.getProfile(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("IsError = false, want true")
	}
}

// TestRecentAnalysesLimit verifies the limit default and cap.
func TestRecentAnalysesLimit(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want int
	}{
		{"default", nil, defaultAnalysesLimit},
		{"explicit", map[string]any{"limit": 5.0}, 5},
		{"capped", map[string]any{"limit": 500.0}, maxAnalysesLimit},
		{"non-positive", map[string]any{"limit": -3.0}, defaultAnalysesLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			h := newHandlers(src)
			ctx := WithSubject(context.Background(), "alice")
			if _, err := h.recentAnalyses(ctx, callRequest(tt.args)); err != nil {
				t.Fatal(err)
			}
			if src.lastLimit != tt.want {
				t.Errorf("limit = %d, want %d", src.lastLimit, tt.want)
			}
		})
	}
}

// TestRecentAnalysesQueryError verifies data source failures become tool
// errors rather than protocol errors.
func TestRecentAnalysesQueryError(t *testing.T) {
	h := newHandlers(&fakeSource{err: errors.New("db down")})
	ctx := WithSubject(context.Background(), "alice")
	res, err := h.recentAnalyses(ctx, callRequest(nil))
	if err != nil {
		t.Fatalf("protocol error = %v, want nil", err)
	}
	if !res.IsError {
		t.Error("IsError = false, want true")
	}
}

// TestQuestCatalogResource verifies the catalog resource carries rewards.
func TestQuestCatalogResource(t *testing.T) {
	h := newHandlers(&fakeSource{})
	var req mcp.ReadResourceRequest
	req.Params.URI = "repquest://quests"

	contents, err := h.questCatalog(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents type = %T, want TextResourceContents", contents[0])
	}
	var catalog []struct {
		ID     string `json:"id"`
		Reward int    `json:"reward"`
	}
	if err := json.Unmarshal([]byte(text.Text), &catalog); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(catalog) != 7 {
		t.Fatalf("catalog = %d entries, want 7", len(catalog))
	}
	for _, e := range catalog {
		if e.ID == "dragon-squats" && e.Reward != 50 {
			t.Errorf("dragon-squats reward = %d, want 50", e.Reward)
		}
	}
}

// TestNewRegistersTools verifies the server builds with the local data
// source.
func TestNewRegistersTools(t *testing.T) {
	s := New(Local{}, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if s == nil {
		t.Fatal("New returned nil")
	}
}
