package call

import (
	"context"
	"io"
	"testing"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrsingh-rishi/atlas-server/model"
	"github.com/mrsingh-rishi/atlas-server/pipeline"
	"github.com/mrsingh-rishi/atlas-server/types"
)

type inbound struct {
	kind int
	data []byte
}

type written struct {
	kind int
	data []byte
	json interface{}
}

type scriptedConn struct {
	in        []inbound
	out       []written
	readLimit int64
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	if len(c.in) == 0 {
		return 0, nil, &fws.CloseError{Code: fws.CloseNormalClosure}
	}
	m := c.in[0]
	c.in = c.in[1:]
	if c.readLimit > 0 && int64(len(m.data)) > c.readLimit {
		return 0, nil, fws.ErrReadLimit
	}
	return m.kind, m.data, nil
}

func (c *scriptedConn) SetReadLimit(limit int64) {
	c.readLimit = limit
}

func (c *scriptedConn) WriteMessage(kind int, data []byte) error {
	c.out = append(c.out, written{kind: kind, data: data})
	return nil
}

func (c *scriptedConn) WriteJSON(v interface{}) error {
	c.out = append(c.out, written{kind: websocket.TextMessage, json: v})
	return nil
}

type runnerFunc func(ctx context.Context, audio model.AudioBytes) (*pipeline.Result, error)

func (f runnerFunc) Run(ctx context.Context, audio model.AudioBytes) (*pipeline.Result, error) {
	return f(ctx, audio)
}

func bin(s string) inbound  { return inbound{kind: websocket.BinaryMessage, data: []byte(s)} }
func text(s string) inbound { return inbound{kind: websocket.TextMessage, data: []byte(s)} }

func echoRunner(calls *[]string) Runner {
	return runnerFunc(func(_ context.Context, audio model.AudioBytes) (*pipeline.Result, error) {
		*calls = append(*calls, string(audio))
		return &pipeline.Result{
			Transcript: model.Transcript(audio),
			Reply:      "ok",
			Audio:      model.SynthesizedAudio("mp3:" + string(audio)),
		}, nil
	})
}

func newTestSession(t *testing.T, conn *scriptedConn, runner Runner, maxBytes int, jsonReplies bool) *Session {
	t.Helper()
	s, err := NewSession(conn, runner, maxBytes, jsonReplies, nil, zerolog.New(io.Discard))
	require.NoError(t, err)
	return s
}

func TestServeBuffersFramesUntilEnd(t *testing.T) {
	var calls []string
	conn := &scriptedConn{in: []inbound{bin("RIFF"), bin("-pcm"), text("hello"), bin("-tail"), text("end")}}

	newTestSession(t, conn, echoRunner(&calls), 1024, false).Serve(context.Background())

	require.Equal(t, []string{"RIFF-pcm-tail"}, calls)
	require.Len(t, conn.out, 1)
	assert.Equal(t, websocket.BinaryMessage, conn.out[0].kind)
	assert.Equal(t, "mp3:RIFF-pcm-tail", string(conn.out[0].data))
}

func TestServeHandlesSeveralUtterances(t *testing.T) {
	var calls []string
	conn := &scriptedConn{in: []inbound{bin("one"), text("end"), bin("two"), text(" end\n")}}

	newTestSession(t, conn, echoRunner(&calls), 1024, false).Serve(context.Background())

	assert.Equal(t, []string{"one", "two"}, calls)
	require.Len(t, conn.out, 2)
	assert.Equal(t, "mp3:two", string(conn.out[1].data))
}

func TestServeJSONReplies(t *testing.T) {
	var calls []string
	conn := &scriptedConn{in: []inbound{bin("clip"), text("end")}}

	newTestSession(t, conn, echoRunner(&calls), 1024, true).Serve(context.Background())

	require.Len(t, conn.out, 1)
	env, ok := conn.out[0].json.(types.UploadResponse)
	require.True(t, ok)
	assert.Equal(t, "clip", env.Transcription)
	assert.Equal(t, "ok", env.Response)
}

func TestServeRejectsEmptyUtterance(t *testing.T) {
	var calls []string
	conn := &scriptedConn{in: []inbound{text("end"), bin("after"), text("end")}}

	newTestSession(t, conn, echoRunner(&calls), 1024, false).Serve(context.Background())

	assert.Equal(t, []string{"after"}, calls, "pipeline must not run for an empty upload")
	require.Len(t, conn.out, 2)
	assert.Equal(t, types.ErrorResponse{Error: "empty audio upload"}, conn.out[0].json)
}

func TestServeRejectsOversizedUtterance(t *testing.T) {
	var calls []string
	conn := &scriptedConn{in: []inbound{bin("12345"), bin("67890"), text("end"), bin("small"), text("end")}}

	newTestSession(t, conn, echoRunner(&calls), 8, false).Serve(context.Background())

	assert.Equal(t, []string{"small"}, calls)
	require.Len(t, conn.out, 2)
	assert.Equal(t, types.ErrorResponse{Error: "upload exceeds 8 bytes"}, conn.out[0].json)
}

func TestServeStopsOnOversizedFrame(t *testing.T) {
	var calls []string
	conn := &scriptedConn{in: []inbound{bin("0123456789abcdef"), text("end"), bin("next"), text("end")}}

	newTestSession(t, conn, echoRunner(&calls), 8, false).Serve(context.Background())

	assert.Equal(t, int64(8), conn.readLimit)
	assert.Empty(t, calls)
	assert.Empty(t, conn.out)
	assert.Len(t, conn.in, 3, "session must stop reading after the limit is hit")
}

func TestServeReportsPipelineFailure(t *testing.T) {
	conn := &scriptedConn{in: []inbound{bin("clip"), text("end")}}
	failing := runnerFunc(func(context.Context, model.AudioBytes) (*pipeline.Result, error) {
		return nil, &pipeline.Error{Kind: pipeline.KindTranscription, Err: errors.New("401")}
	})

	newTestSession(t, conn, failing, 1024, false).Serve(context.Background())

	require.Len(t, conn.out, 1)
	assert.Equal(t, websocket.TextMessage, conn.out[0].kind)
	assert.Equal(t, types.ErrorResponse{Error: "transcription failed"}, conn.out[0].json)
}

func TestNewSessionValidation(t *testing.T) {
	_, err := NewSession(nil, runnerFunc(nil), 0, false, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewSession(&scriptedConn{}, nil, 0, false, nil, zerolog.Nop())
	assert.Error(t, err)
}
