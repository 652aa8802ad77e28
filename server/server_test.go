package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	gws "github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrsingh-rishi/atlas-server/config"
	"github.com/mrsingh-rishi/atlas-server/metrics"
	"github.com/mrsingh-rishi/atlas-server/model"
	"github.com/mrsingh-rishi/atlas-server/pipeline"
	"github.com/mrsingh-rishi/atlas-server/pipeline/mocks"
	"github.com/mrsingh-rishi/atlas-server/types"
)

type fixture struct {
	transcriber *mocks.MockTranscriber
	responder   *mocks.MockResponder
	synthesizer *mocks.MockSynthesizer
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	return &fixture{
		transcriber: mocks.NewMockTranscriber(ctrl),
		responder:   mocks.NewMockResponder(ctrl),
		synthesizer: mocks.NewMockSynthesizer(ctrl),
	}
}

func (f *fixture) server(cfg config.ServerConfig, m *metrics.Metrics) *Server {
	p := pipeline.New(f.transcriber, f.responder, f.synthesizer, pipeline.WithMetrics(m))
	return New(cfg, p, m, zerolog.New(io.Discard))
}

// expectTurn scripts one successful round trip through all three stages.
func (f *fixture) expectTurn(audio string) {
	gomock.InOrder(
		f.transcriber.EXPECT().Transcribe(gomock.Any(), model.AudioBytes(audio)).Return(model.Transcript("turn on the lights"), nil),
		f.responder.EXPECT().Respond(gomock.Any(), model.Transcript("turn on the lights")).Return(model.ChatReply("Lights are on, sir."), nil),
		f.synthesizer.EXPECT().Synthesize(gomock.Any(), model.ChatReply("Lights are on, sir.")).Return(model.SynthesizedAudio("ID3-mp3"), nil),
	)
}

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Port:           "0",
		MaxUploadBytes: 1024,
		StageTimeout:   time.Second,
		ResponseFormat: config.FormatAudio,
		MetricsEnabled: true,
	}
}

// listen serves s on a loopback port until the test ends.
func listen(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(ln)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return ln.Addr().String()
}

func decodeError(t *testing.T, body io.Reader) types.ErrorResponse {
	t.Helper()
	var out types.ErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestWelcome(t *testing.T) {
	s := newFixture(t).server(testConfig(), nil)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "Welcome to the ATLAS server!", string(body))
}

func TestHealth(t *testing.T) {
	s := newFixture(t).server(testConfig(), nil)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out types.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out.Status)
}

func TestUploadReturnsAudio(t *testing.T) {
	f := newFixture(t)
	f.expectTurn("RIFF-wav")
	s := f.server(testConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("RIFF-wav"))
	req.Header.Set("Content-Type", "audio/wav")
	resp, err := s.App().Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ID3-mp3", string(body))
}

func TestUploadReturnsJSONEnvelope(t *testing.T) {
	for _, tc := range []struct {
		name   string
		target string
		accept string
	}{
		{name: "query", target: "/upload?format=json"},
		{name: "accept header", target: "/upload", accept: "application/json"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.expectTurn("RIFF-wav")
			s := f.server(testConfig(), nil)

			req := httptest.NewRequest(http.MethodPost, tc.target, strings.NewReader("RIFF-wav"))
			if tc.accept != "" {
				req.Header.Set("Accept", tc.accept)
			}
			resp, err := s.App().Test(req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			var out types.UploadResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, "success", out.Status)
			assert.Equal(t, "turn on the lights", out.Transcription)
			assert.Equal(t, "Lights are on, sir.", out.Response)
			assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("ID3-mp3")), out.Audio)
		})
	}
}

func TestUploadMultipart(t *testing.T) {
	f := newFixture(t)
	f.expectTurn("RIFF-from-form")
	s := f.server(testConfig(), nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(AudioField, "recording.wav")
	require.NoError(t, err)
	part.Write([]byte("RIFF-from-form"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := s.App().Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ID3-mp3", string(body))
}

func TestUploadMultipartMissingField(t *testing.T) {
	s := newFixture(t).server(testConfig(), nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := s.App().Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "missing audio field", decodeError(t, resp.Body).Error)
}

func TestUploadEmptyBody(t *testing.T) {
	// no expectations: any adapter call fails the test
	s := newFixture(t).server(testConfig(), nil)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodPost, "/upload", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "empty audio upload", decodeError(t, resp.Body).Error)
}

func TestUploadTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadBytes = 16
	s := newFixture(t).server(cfg, nil)
	addr := listen(t, s)

	// fasthttp rejects the body before routing, so this needs a real socket
	resp, err := http.Post("http://"+addr+"/upload", "audio/wav", strings.NewReader(strings.Repeat("x", 64)))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "upload exceeds 16 bytes", decodeError(t, resp.Body).Error)
}

func TestUploadStageFailure(t *testing.T) {
	f := newFixture(t)
	f.transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any()).Return(model.Transcript("hi"), nil)
	f.responder.EXPECT().Respond(gomock.Any(), gomock.Any()).Return(model.ChatReply(""), errors.New("insufficient_quota"))
	s := f.server(testConfig(), nil)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("RIFF")))
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	out := decodeError(t, resp.Body)
	assert.Equal(t, "chat completion failed", out.Error)
	assert.NotContains(t, out.Error, "insufficient_quota")
}

func TestUploadEmptySynthesisIsNotServed(t *testing.T) {
	f := newFixture(t)
	f.transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any()).Return(model.Transcript("hi"), nil)
	f.responder.EXPECT().Respond(gomock.Any(), gomock.Any()).Return(model.ChatReply("hello"), nil)
	f.synthesizer.EXPECT().Synthesize(gomock.Any(), gomock.Any()).Return(model.SynthesizedAudio{}, nil)
	s := f.server(testConfig(), nil)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("RIFF")))
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotEqual(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "speech synthesis failed", decodeError(t, resp.Body).Error)
}

func TestUploadDetailedStatusCodes(t *testing.T) {
	cfg := testConfig()
	cfg.DetailedStatusCodes = true

	t.Run("input", func(t *testing.T) {
		s := newFixture(t).server(cfg, nil)
		resp, err := s.App().Test(httptest.NewRequest(http.MethodPost, "/upload", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("upstream", func(t *testing.T) {
		f := newFixture(t)
		f.transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any()).Return(model.Transcript(""), errors.New("502 from deepgram"))
		s := f.server(cfg, nil)
		resp, err := s.App().Test(httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("RIFF")))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.expectTurn("RIFF")
	s := f.server(testConfig(), metrics.NewMetrics())

	resp, err := s.App().Test(httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("RIFF")))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `atlas_requests_total{outcome="success",transport="http"} 1`)
	assert.Contains(t, string(body), "atlas_stage_duration_seconds")
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := newFixture(t).server(testConfig(), nil)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestWebSocketRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.expectTurn("RIFF-pcm")
	s := f.server(testConfig(), nil)

	addr := listen(t, s)

	conn, _, err := gws.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(gws.BinaryMessage, []byte("RIFF")))
	require.NoError(t, conn.WriteMessage(gws.BinaryMessage, []byte("-pcm")))
	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte("end")))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, gws.BinaryMessage, kind)
	assert.Equal(t, "ID3-mp3", string(data))
}

func TestWebSocketOversizedFrameClosesConnection(t *testing.T) {
	// no expectations: the pipeline must not run
	s := newFixture(t).server(testConfig(), nil)
	addr := listen(t, s)

	conn, _, err := gws.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(gws.BinaryMessage, bytes.Repeat([]byte{0x7f}, 2*1024)))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, gws.IsCloseError(err, gws.CloseMessageTooBig), "got %v", err)
}
