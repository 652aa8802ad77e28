package llm

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/mrsingh-rishi/atlas-server/model"
	"github.com/mrsingh-rishi/atlas-server/upstream"
)

type OpenAIClient struct {
	Client             *openai.Client
	SystemInstructions string
	Model              string // Model to use for OpenAI API
	Temperature        float32
	MaxTokens          int
}

func NewOpenAIClient(apiKey, baseURL, systemInstructions, model string, temperature float32, maxTokens int) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}
	if model == "" {
		return nil, errors.New("model is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		Client:             openai.NewClientWithConfig(cfg),
		SystemInstructions: systemInstructions,
		Model:              model,
		Temperature:        temperature,
		MaxTokens:          maxTokens,
	}, nil
}

// Messages builds the two-message exchange sent for every turn. Each request
// stands alone; no history is kept between uploads.
func (c *OpenAIClient) Messages(transcript model.Transcript) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: c.SystemInstructions},
		{Role: openai.ChatMessageRoleUser, Content: string(transcript)},
	}
}

// Respond sends the transcript to the chat model and returns the trimmed
// content of the first choice. An empty transcript is sent as-is.
func (c *OpenAIClient) Respond(ctx context.Context, transcript model.Transcript) (model.ChatReply, error) {
	resp, err := c.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.Model,
		Messages:    c.Messages(transcript),
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	})
	if err != nil {
		return "", errors.Wrap(upstream.FromOpenAI(err), "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return model.ChatReply(strings.TrimSpace(resp.Choices[0].Message.Content)), nil
}
