package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/atlas-server/model"
	"github.com/mrsingh-rishi/atlas-server/upstream"
)

// DeepgramClient transcribes prerecorded audio through Deepgram's /v1/listen endpoint.
type DeepgramClient struct {
	APIKey     string
	Endpoint   string
	Model      string
	Mimetype   string
	HTTPClient *http.Client
}

// TranscriptionMessage is the subset of the prerecorded response we read.
type TranscriptionMessage struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcript returns the first channel's best alternative, or "" when absent.
func (m TranscriptionMessage) Transcript() string {
	if len(m.Results.Channels) == 0 {
		return ""
	}
	alts := m.Results.Channels[0].Alternatives
	if len(alts) == 0 {
		return ""
	}
	return alts[0].Transcript
}

func NewDeepgramClient(apiKey, baseURL, modelName, mimetype string, httpClient *http.Client) (*DeepgramClient, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram API key is required")
	}
	if modelName == "" {
		return nil, errors.New("deepgram model is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/v1/listen")
	if err != nil {
		return nil, errors.Wrap(err, "parse deepgram url")
	}
	q := base.Query()
	q.Set("model", modelName)
	base.RawQuery = q.Encode()

	return &DeepgramClient{
		APIKey:     apiKey,
		Endpoint:   base.String(),
		Model:      modelName,
		Mimetype:   mimetype,
		HTTPClient: httpClient,
	}, nil
}

func (dg *DeepgramClient) Transcribe(ctx context.Context, audio model.AudioBytes) (model.Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dg.Endpoint, bytes.NewReader(audio))
	if err != nil {
		return "", errors.Wrap(err, "build deepgram request")
	}
	req.Header.Set("Authorization", fmt.Sprintf("Token %s", dg.APIKey))
	req.Header.Set("Content-Type", dg.Mimetype)

	resp, err := dg.HTTPClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "deepgram request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", upstream.NewStatusError("deepgram", resp)
	}

	var msg TranscriptionMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return "", errors.Wrap(err, "decode deepgram response")
	}
	return model.Transcript(msg.Transcript()), nil
}
