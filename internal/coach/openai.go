package coach

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI generates cues through the chat completions API.
type OpenAI struct {
	client openai.Client
	model  openai.ChatModel
}

// NewOpenAI creates a generator for model (default gpt-4o-mini).
func NewOpenAI(apiKey, model string, opts ...option.RequestOption) *OpenAI {
	m := openai.ChatModel(model)
	if m == "" {
		m = openai.ChatModelGPT4oMini
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAI{client: openai.NewClient(opts...), model: m}
}

// Generate implements TextGenerator.
func (o *OpenAI) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
