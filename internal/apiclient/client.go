// Package apiclient is the live CLI's client of the RepQuest HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/claude/repquest/internal/analysis"
	"github.com/claude/repquest/internal/coach"
	"github.com/claude/repquest/internal/completion"
	"github.com/claude/repquest/internal/progression"
	"github.com/claude/repquest/internal/quest"
	"github.com/claude/repquest/internal/storage"
)

// Client calls the RepQuest REST API on behalf of one subject.
type Client struct {
	baseURL    string
	token      string
	subject    string
	httpClient *http.Client
}

var (
	_ coach.Requester     = (*Client)(nil)
	_ completion.Crediter = (*Client)(nil)
)

// New creates a Client targeting baseURL. Requests time out after timeout;
// video analysis, which waits on the remote model, is not bounded by it.
func New(baseURL, token, subject string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		subject:    subject,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response carrying the server's error message.
type APIError struct {
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apiclient: %s returned %d: %s", e.Path, e.Status, e.Message)
}

// Authenticated reports whether the client holds credentials for a subject.
func (c *Client) Authenticated() bool {
	return c.baseURL != "" && c.token != "" && c.subject != ""
}

// Subject returns the subject the client acts for.
func (c *Client) Subject() string { return c.subject }

func (c *Client) do(ctx context.Context, client *http.Client, method, path string, params url.Values, contentType string, body io.Reader, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("apiclient: create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("apiclient: read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Path: path, Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("apiclient: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, c.httpClient, http.MethodGet, path, params, "", nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("apiclient: encode %s: %w", path, err)
	}
	return c.do(ctx, c.httpClient, http.MethodPost, path, nil, "application/json", bytes.NewReader(body), out)
}

// Cue asks the server for a coaching cue. It implements coach.Requester.
func (c *Client) Cue(ctx context.Context, req coach.Request) (string, error) {
	req.SubjectID = c.subject
	var resp struct {
		Tip string `json:"tip"`
	}
	if err := c.postJSON(ctx, "/api/v1/workout/coach", req, &resp); err != nil {
		return "", err
	}
	return resp.Tip, nil
}

// Credit awards amount EXP to the client's subject. It implements
// completion.Crediter.
func (c *Client) Credit(ctx context.Context, amount int) error {
	_, err := c.LogWorkout(ctx, amount)
	return err
}

// LogWorkout awards amount EXP and returns the resulting progression change.
func (c *Client) LogWorkout(ctx context.Context, amount int) (progression.CreditResult, error) {
	in := struct {
		UserID  string `json:"userId"`
		ExpGain int    `json:"expGain"`
	}{c.subject, amount}
	var out progression.CreditResult
	err := c.postJSON(ctx, "/api/v1/workout/log", in, &out)
	return out, err
}

// Analysis is the outcome of a remote video analysis job.
type Analysis struct {
	analysis.Result
	JobID uuid.UUID     `json:"jobId"`
	Model string        `json:"model"`
	Mode  analysis.Mode `json:"mode"`
}

// VideoUpload describes a clip to analyze.
type VideoUpload struct {
	Filename   string
	MIMEType   string
	Workout    string
	TargetReps int
	Data       io.Reader
}

// AnalyzeVideo uploads a clip for offline rep counting and waits for the
// result. The form is streamed, so the clip is never held in memory whole.
func (c *Client) AnalyzeVideo(ctx context.Context, v VideoUpload) (Analysis, error) {
	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	contentType := mw.FormDataContentType()

	go func() {
		pw.CloseWithError(writeVideoForm(mw, c.subject, v))
	}()

	// Uploads wait on remote processing, so only ctx bounds them.
	unbounded := &http.Client{Transport: c.httpClient.Transport}
	var out Analysis
	err := c.do(ctx, unbounded, http.MethodPost, "/api/v1/workout/analyze-video", nil, contentType, pr, &out)
	return out, err
}

func writeVideoForm(mw *multipart.Writer, subject string, v VideoUpload) error {
	fields := [][2]string{
		{"userId", subject},
		{"workout", v.Workout},
		{"targetReps", strconv.Itoa(v.TargetReps)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("apiclient: write field: %w", err)
		}
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename=%q`, v.Filename))
	h.Set("Content-Type", v.MIMEType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("apiclient: create part: %w", err)
	}
	if _, err := io.Copy(part, v.Data); err != nil {
		return fmt.Errorf("apiclient: copy video: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("apiclient: close form: %w", err)
	}
	return nil
}

// ProfileView is a profile with the distance to the next rank.
type ProfileView struct {
	progression.Profile
	NextRank  progression.Rank `json:"nextRank,omitempty"`
	ExpToNext int              `json:"expToNext"`
}

// GetProfile fetches the client's own profile.
func (c *Client) GetProfile(ctx context.Context) (ProfileView, error) {
	var out ProfileView
	err := c.get(ctx, "/api/v1/profile", nil, &out)
	return out, err
}

// Profile implements mcp.DataSource. The server scopes the profile to the
// token's subject.
func (c *Client) Profile(ctx context.Context, _ string) (progression.Profile, error) {
	v, err := c.GetProfile(ctx)
	return v.Profile, err
}

// QueryAnalyses implements mcp.DataSource.
func (c *Client) QueryAnalyses(ctx context.Context, _ string, limit int) ([]storage.AnalysisRecord, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out []storage.AnalysisRecord
	err := c.get(ctx, "/api/v1/analyses", params, &out)
	return out, err
}

// Quests fetches the quest catalog.
func (c *Client) Quests(ctx context.Context) ([]quest.Quest, error) {
	var out []quest.Quest
	err := c.get(ctx, "/api/v1/quests", nil, &out)
	return out, err
}
