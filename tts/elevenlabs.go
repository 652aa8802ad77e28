package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/atlas-server/model"
	"github.com/mrsingh-rishi/atlas-server/upstream"
)

type ElevenLabsClient struct {
	APIKey       string
	BaseURL      string
	VoiceId      string
	ModelId      string
	OutputFormat string
	Streaming    bool
	Settings     VoiceSettings
	HTTPClient   *http.Client
}

type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelId       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

func NewElevenLabsClient(apiKey, baseURL, voiceId, modelId, outputFormat string, streaming bool, settings VoiceSettings, httpClient *http.Client) (*ElevenLabsClient, error) {
	if apiKey == "" {
		return nil, errors.New("eleven labs API key is required")
	}
	if voiceId == "" {
		return nil, errors.New("voice id is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ElevenLabsClient{
		APIKey:       apiKey,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		VoiceId:      voiceId,
		ModelId:      modelId,
		OutputFormat: outputFormat,
		Streaming:    streaming,
		Settings:     settings,
		HTTPClient:   httpClient,
	}, nil
}

// Synthesize converts text to speech and returns the complete audio.
func (client *ElevenLabsClient) Synthesize(ctx context.Context, text model.ChatReply) (model.SynthesizedAudio, error) {
	if !client.Streaming {
		audio, err := client.Generate(ctx, string(text))
		return model.SynthesizedAudio(audio), err
	}

	stream, err := client.Stream(ctx, string(text))
	if err != nil {
		return nil, err
	}
	audio, err := Collect(stream)
	if err != nil {
		return nil, err
	}
	return model.SynthesizedAudio(audio), nil
}

// Stream starts a streamed synthesis. The caller owns the returned stream and must close it.
func (client *ElevenLabsClient) Stream(ctx context.Context, text string) (ChunkStream, error) {
	resp, err := client.do(ctx, text, true)
	if err != nil {
		return nil, err
	}
	return NewBodyStream(resp.Body), nil
}

// Generate performs a single-shot synthesis and reads the whole body.
func (client *ElevenLabsClient) Generate(ctx context.Context, text string) ([]byte, error) {
	resp, err := client.do(ctx, text, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read audio body")
	}
	return audio, nil
}

func (client *ElevenLabsClient) endpoint(stream bool) (string, error) {
	path := fmt.Sprintf("%s/v1/text-to-speech/%s", client.BaseURL, url.PathEscape(client.VoiceId))
	if stream {
		path += "/stream"
	}
	base, err := url.Parse(path)
	if err != nil {
		return "", errors.Wrap(err, "parse eleven labs url")
	}
	if client.OutputFormat != "" {
		q := base.Query()
		q.Set("output_format", client.OutputFormat)
		base.RawQuery = q.Encode()
	}
	return base.String(), nil
}

func (client *ElevenLabsClient) do(ctx context.Context, text string, stream bool) (*http.Response, error) {
	endpoint, err := client.endpoint(stream)
	if err != nil {
		return nil, err
	}

	bodyBytes, err := json.Marshal(speechRequest{
		Text:          text,
		ModelId:       client.ModelId,
		VoiceSettings: client.Settings,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("xi-api-key", client.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "eleven labs request")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, upstream.NewStatusError("elevenlabs", resp)
	}
	return resp, nil
}
