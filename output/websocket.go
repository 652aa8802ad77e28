package output

import (
	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/atlas-server/pipeline"
	"github.com/mrsingh-rishi/atlas-server/types"
)

// MessageWriter is the part of a websocket connection the output needs.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
	WriteJSON(v interface{}) error
}

// WebSocketOutput answers an upload that arrived over a websocket.
type WebSocketOutput struct {
	ws MessageWriter
}

func NewWebSocketOutput(ws MessageWriter) (*WebSocketOutput, error) {
	if ws == nil {
		return nil, errors.New("websocket connection is required")
	}
	return &WebSocketOutput{ws: ws}, nil
}

// SendAudio writes the synthesized audio as one binary frame.
func (o *WebSocketOutput) SendAudio(result *pipeline.Result) error {
	if err := o.ws.WriteMessage(websocket.BinaryMessage, result.Audio); err != nil {
		return errors.Wrap(err, "websocket audio write")
	}
	return nil
}

// SendResult writes the JSON envelope as a text frame.
func (o *WebSocketOutput) SendResult(result *pipeline.Result) error {
	if err := o.ws.WriteJSON(Envelope(result)); err != nil {
		return errors.Wrap(err, "websocket result write")
	}
	return nil
}

func (o *WebSocketOutput) SendError(err error) error {
	if werr := o.ws.WriteJSON(types.ErrorResponse{Error: pipeline.AsError(err).Public()}); werr != nil {
		return errors.Wrap(werr, "websocket error write")
	}
	return nil
}
