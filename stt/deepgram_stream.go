package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mrsingh-rishi/atlas-server/model"
	"github.com/mrsingh-rishi/atlas-server/upstream"
)

const defaultStreamChunk = 8 * 1024

var closeStream = []byte(`{"type":"CloseStream"}`)

// StreamMessage is one result frame from the Deepgram listen socket.
type StreamMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// DeepgramStreamClient transcribes a finished clip over Deepgram's WebSocket
// listen API. The clip goes out in chunks followed by CloseStream, and the
// final segments are joined once Deepgram hangs up.
type DeepgramStreamClient struct {
	APIKey    string
	Endpoint  string
	ChunkSize int
	Dialer    *websocket.Dialer
}

func NewDeepgramStreamClient(apiKey, baseURL, modelName string) (*DeepgramStreamClient, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram API key is required")
	}
	if modelName == "" {
		return nil, errors.New("deepgram model is required")
	}

	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/v1/listen")
	if err != nil {
		return nil, errors.Wrap(err, "parse deepgram url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("model", modelName)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()

	return &DeepgramStreamClient{
		APIKey:    apiKey,
		Endpoint:  u.String(),
		ChunkSize: defaultStreamChunk,
		Dialer:    websocket.DefaultDialer,
	}, nil
}

func (dg *DeepgramStreamClient) Transcribe(ctx context.Context, audio model.AudioBytes) (model.Transcript, error) {
	conn, resp, err := dg.Dialer.DialContext(ctx, dg.Endpoint, http.Header{
		"Authorization": {"Token " + dg.APIKey},
	})
	if err != nil {
		if resp != nil {
			return "", errors.Wrap(upstream.NewStatusError("deepgram", resp), "deepgram dial")
		}
		return "", errors.Wrap(err, "deepgram dial")
	}
	defer conn.Close()

	// cancelling ctx fails any blocked read or write
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
		conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	sent := make(chan error, 1)
	go func() {
		sent <- dg.send(conn, audio)
	}()

	parts, readErr := dg.receive(conn)
	if err := <-sent; err != nil {
		return "", errors.Wrap(contextErr(ctx, err), "send audio to deepgram")
	}
	if readErr != nil {
		return "", errors.Wrap(contextErr(ctx, readErr), "read deepgram results")
	}

	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		// Deepgram usually hangs up first
		zerolog.Ctx(ctx).Debug().Err(err).Msg("deepgram close frame not sent")
	}
	return model.Transcript(strings.Join(parts, " ")), nil
}

func (dg *DeepgramStreamClient) send(conn *websocket.Conn, audio []byte) error {
	size := dg.ChunkSize
	if size <= 0 {
		size = defaultStreamChunk
	}
	for start := 0; start < len(audio); start += size {
		end := min(start+size, len(audio))
		if err := conn.WriteMessage(websocket.BinaryMessage, audio[start:end]); err != nil {
			return err
		}
	}
	return conn.WriteMessage(websocket.TextMessage, closeStream)
}

// receive collects final transcripts until Deepgram sends its Metadata frame
// or closes the socket.
func (dg *DeepgramStreamClient) receive(conn *websocket.Conn) ([]string, error) {
	var parts []string
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return parts, nil
			}
			return nil, err
		}

		var msg StreamMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "Metadata" {
			return parts, nil
		}
		if !msg.IsFinal || len(msg.Channel.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript); text != "" {
			parts = append(parts, text)
		}
	}
}

func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
