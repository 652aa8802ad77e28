package stt

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/atlas-server/config"
	"github.com/mrsingh-rishi/atlas-server/model"
)

// Transcriber converts a complete recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio model.AudioBytes) (model.Transcript, error)
}

// New builds the transcriber selected by cfg.Provider. The returned close
// function releases provider connections and is never nil.
func New(ctx context.Context, cfg config.STTConfig, openaiCfg config.OpenAIConfig, httpClient *http.Client) (Transcriber, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Provider {
	case config.ProviderDeepgram:
		c, err := NewDeepgramClient(cfg.DeepgramAPIKey, cfg.DeepgramAPIURL, cfg.DeepgramModel, cfg.AudioMimetype, httpClient)
		if err != nil {
			return nil, noop, err
		}
		return c, noop, nil
	case config.ProviderDeepgramStream:
		c, err := NewDeepgramStreamClient(cfg.DeepgramAPIKey, cfg.DeepgramAPIURL, cfg.DeepgramModel)
		if err != nil {
			return nil, noop, err
		}
		return c, noop, nil
	case config.ProviderGoogle:
		c, err := NewGoogleClient(ctx, cfg.GoogleCredFile, cfg.GoogleLanguage, cfg.GoogleSampleRate)
		if err != nil {
			return nil, noop, err
		}
		return c, c.Close, nil
	case config.ProviderWhisper:
		c, err := NewWhisperClient(openaiCfg.APIKey, openaiCfg.BaseURL, cfg.WhisperModel)
		if err != nil {
			return nil, noop, err
		}
		return c, noop, nil
	default:
		return nil, noop, errors.Errorf("unknown STT provider %q", cfg.Provider)
	}
}
