package stt

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/mrsingh-rishi/atlas-server/model"
	"github.com/mrsingh-rishi/atlas-server/upstream"
)

type WhisperClient struct {
	Client *openai.Client
	Model  string
}

func NewWhisperClient(apiKey, baseURL, modelName string) (*WhisperClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai API key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &WhisperClient{
		Client: openai.NewClientWithConfig(cfg),
		Model:  modelName,
	}, nil
}

func (w *WhisperClient) Transcribe(ctx context.Context, audio model.AudioBytes) (model.Transcript, error) {
	resp, err := w.Client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.Model,
		FilePath: "recording.wav",
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", errors.Wrap(upstream.FromOpenAI(err), "whisper transcription")
	}
	return model.Transcript(resp.Text), nil
}
