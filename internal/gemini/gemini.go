// Package gemini adapts the Gemini API to the analysis media store, the
// analysis model cascade and the coaching text generator.
package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/claude/repquest/internal/analysis"
)

// DefaultCoachModel generates coaching cues.
const DefaultCoachModel = "gemini-1.5-flash"

// Client wraps a genai client.
type Client struct {
	api        *genai.Client
	coachModel string
	log        *slog.Logger
}

// New creates a Client for the Gemini developer API.
func New(ctx context.Context, apiKey, coachModel string, log *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	if coachModel == "" {
		coachModel = DefaultCoachModel
	}
	return &Client{api: api, coachModel: coachModel, log: log}, nil
}

// Upload stores a clip in the Gemini file store.
func (c *Client) Upload(ctx context.Context, data []byte, mimeType, displayName string) (analysis.File, error) {
	f, err := c.api.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return analysis.File{}, err
	}
	c.log.Debug("uploaded video", "file", f.Name, "state", f.State)
	return toFile(f), nil
}

// Get refreshes a file's processing state.
func (c *Client) Get(ctx context.Context, name string) (analysis.File, error) {
	f, err := c.api.Files.Get(ctx, name, nil)
	if err != nil {
		return analysis.File{}, err
	}
	return toFile(f), nil
}

// Delete removes an uploaded file.
func (c *Client) Delete(ctx context.Context, name string) error {
	_, err := c.api.Files.Delete(ctx, name, nil)
	return err
}

func toFile(f *genai.File) analysis.File {
	out := analysis.File{
		Name:     f.Name,
		URI:      f.URI,
		MIMEType: f.MIMEType,
		State:    analysis.FileProcessing,
	}
	switch f.State {
	case genai.FileStateActive:
		out.State = analysis.FileActive
	case genai.FileStateFailed:
		out.State = analysis.FileFailed
		if f.Error != nil && f.Error.Message != "" {
			out.Error = f.Error.Message
		} else {
			out.Error = "Gemini failed to process the video"
		}
	}
	return out
}

// Generate runs one video analysis request against model. The response is
// requested as JSON.
func (c *Client) Generate(ctx context.Context, model, prompt string, media analysis.Media) (string, error) {
	var clip *genai.Part
	if media.Data != nil {
		clip = genai.NewPartFromBytes(media.Data, media.MIMEType)
	} else {
		clip = genai.NewPartFromURI(media.URI, media.MIMEType)
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt), clip}, genai.RoleUser),
	}

	resp, err := c.api.Models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", classify(model, err)
	}
	return resp.Text(), nil
}

// Coach returns a coaching text generator backed by the configured model.
func (c *Client) Coach() *CoachGenerator {
	return &CoachGenerator{client: c, model: c.coachModel}
}

// CoachGenerator produces short coaching cues.
type CoachGenerator struct {
	client *Client
	model  string
}

// Generate returns the model's reply to prompt under the system instruction.
func (g *CoachGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.api.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	})
	if err != nil {
		return "", classify(g.model, err)
	}
	return resp.Text(), nil
}

// classify maps provider errors onto analysis sentinels. The structured
// status is preferred; the message is inspected only when no status is
// available.
func classify(model string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s: %w: %v", model, analysis.ErrModelNotFound, err)
	}
	return err
}

func isNotFound(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return notFoundStatus(apiErr.Code, apiErr.Status)
	}
	var apiPtr *genai.APIError
	if errors.As(err, &apiPtr) && apiPtr != nil {
		return notFoundStatus(apiPtr.Code, apiPtr.Status)
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404")
}

func notFoundStatus(code int, status string) bool {
	return code == http.StatusNotFound || strings.EqualFold(status, "NOT_FOUND")
}
