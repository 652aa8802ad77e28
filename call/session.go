package call

import (
	"context"
	"fmt"
	"strings"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mrsingh-rishi/atlas-server/metrics"
	"github.com/mrsingh-rishi/atlas-server/model"
	"github.com/mrsingh-rishi/atlas-server/output"
	"github.com/mrsingh-rishi/atlas-server/pipeline"
)

// EndOfUtterance is the text frame a client sends after the last audio frame.
const EndOfUtterance = "end"

// Conn is the subset of a websocket connection a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	output.MessageWriter
}

// Runner executes the pipeline for one utterance.
type Runner interface {
	Run(ctx context.Context, audio model.AudioBytes) (*pipeline.Result, error)
}

// Session serves one websocket client. The client streams an utterance as
// binary frames, sends EndOfUtterance, and receives the reply before sending
// the next one. Audio is buffered in full before the pipeline starts.
type Session struct {
	ws          Conn
	runner      Runner
	output      *output.WebSocketOutput
	maxBytes    int
	jsonReplies bool
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

func NewSession(ws Conn, runner Runner, maxBytes int, jsonReplies bool, m *metrics.Metrics, logger zerolog.Logger) (*Session, error) {
	if ws == nil {
		return nil, errors.New("websocket connection is required")
	}
	if runner == nil {
		return nil, errors.New("pipeline is required")
	}
	out, err := output.NewWebSocketOutput(ws)
	if err != nil {
		return nil, err
	}
	return &Session{
		ws:          ws,
		runner:      runner,
		output:      out,
		maxBytes:    maxBytes,
		jsonReplies: jsonReplies,
		metrics:     m,
		logger:      logger,
	}, nil
}

// ReceiveAudio reads frames until EndOfUtterance. Frames past maxBytes are
// drained and reported as an input error once the utterance ends.
func (s *Session) ReceiveAudio() (model.AudioBytes, error) {
	var (
		audio    []byte
		tooLarge bool
	)
	for {
		msgType, msg, err := s.ws.ReadMessage()
		if err != nil {
			return nil, err
		}

		switch msgType {
		case websocket.BinaryMessage:
			if tooLarge {
				continue
			}
			if s.maxBytes > 0 && len(audio)+len(msg) > s.maxBytes {
				tooLarge = true
				audio = nil
				continue
			}
			audio = append(audio, msg...)

		case websocket.TextMessage:
			if strings.TrimSpace(string(msg)) != EndOfUtterance {
				s.logger.Debug().Str("frame", string(msg)).Msg("ignoring text frame")
				continue
			}
			if tooLarge {
				return nil, pipeline.NewInputError(fmt.Sprintf("upload exceeds %d bytes", s.maxBytes))
			}
			if len(audio) == 0 {
				return nil, pipeline.NewInputError("empty audio upload")
			}
			return audio, nil
		}
	}
}

// Serve handles utterances until the client goes away. A single frame larger
// than maxBytes closes the connection with 1009 before it is buffered.
func (s *Session) Serve(ctx context.Context) {
	ctx = s.logger.WithContext(ctx)
	if s.maxBytes > 0 {
		s.ws.SetReadLimit(int64(s.maxBytes))
	}
	s.logger.Info().Msg("websocket session started")

	for {
		audio, err := s.ReceiveAudio()
		if err != nil {
			var pe *pipeline.Error
			if errors.As(err, &pe) {
				s.metrics.ObserveRequest("websocket", pe.Kind.String(), 0)
				s.logger.Warn().Err(err).Msg("rejected websocket upload")
				if werr := s.output.SendError(err); werr != nil {
					return
				}
				continue
			}
			if errors.Is(err, fws.ErrReadLimit) {
				s.metrics.ObserveRequest("websocket", pipeline.KindInput.String(), 0)
				s.logger.Warn().Int("limit", s.maxBytes).Msg("websocket frame exceeds upload limit")
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info().Msg("websocket closed")
			} else {
				s.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		if err := s.handle(ctx, audio); err != nil {
			s.logger.Warn().Err(err).Msg("websocket write error")
			return
		}
	}
}

func (s *Session) handle(ctx context.Context, audio model.AudioBytes) error {
	start := time.Now()
	result, err := s.runner.Run(ctx, audio)
	if err != nil {
		pe := pipeline.AsError(err)
		s.metrics.ObserveRequest("websocket", pe.Kind.String(), time.Since(start))
		s.logger.Error().Err(err).Str("kind", pe.Kind.String()).Bool("timeout", pe.Timeout()).Msg("pipeline failed")
		return s.output.SendError(err)
	}

	s.metrics.ObserveRequest("websocket", "success", time.Since(start))
	if s.jsonReplies {
		return s.output.SendResult(result)
	}
	return s.output.SendAudio(result)
}
