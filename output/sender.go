package output

import (
	"encoding/base64"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/mrsingh-rishi/atlas-server/config"
	"github.com/mrsingh-rishi/atlas-server/pipeline"
	"github.com/mrsingh-rishi/atlas-server/types"
)

const ContentTypeAudio = "audio/mpeg"

// Sender writes pipeline outcomes back to the HTTP caller.
type Sender struct {
	defaultFormat  string
	detailedStatus bool
}

func NewSender(defaultFormat string, detailedStatus bool) *Sender {
	if defaultFormat != config.FormatJSON {
		defaultFormat = config.FormatAudio
	}
	return &Sender{defaultFormat: defaultFormat, detailedStatus: detailedStatus}
}

// Format picks the response shape: ?format= wins, then the Accept header
// (q-values honored), then the configured default. Wildcards resolve to the
// default.
func (s *Sender) Format(c *fiber.Ctx) string {
	switch strings.ToLower(c.Query("format")) {
	case config.FormatJSON:
		return config.FormatJSON
	case config.FormatAudio:
		return config.FormatAudio
	}
	if c.Get(fiber.HeaderAccept) == "" {
		return s.defaultFormat
	}

	offers := []string{ContentTypeAudio, fiber.MIMEApplicationJSON}
	if s.defaultFormat == config.FormatJSON {
		offers[0], offers[1] = offers[1], offers[0]
	}
	switch c.Accepts(offers...) {
	case fiber.MIMEApplicationJSON:
		return config.FormatJSON
	case ContentTypeAudio:
		return config.FormatAudio
	}
	return s.defaultFormat
}

func (s *Sender) Send(c *fiber.Ctx, result *pipeline.Result) error {
	if s.Format(c) == config.FormatJSON {
		return c.Status(fiber.StatusOK).JSON(Envelope(result))
	}
	c.Set(fiber.HeaderContentType, ContentTypeAudio)
	return c.Status(fiber.StatusOK).Send(result.Audio)
}

func (s *Sender) SendError(c *fiber.Ctx, err error) error {
	pe := pipeline.AsError(err)
	return c.Status(s.Status(pe)).JSON(types.ErrorResponse{Error: pe.Public()})
}

// Status maps a failure to an HTTP status. Every failure is a 500 unless
// detailed status codes are enabled.
func (s *Sender) Status(err error) int {
	if !s.detailedStatus {
		return fiber.StatusInternalServerError
	}
	pe := pipeline.AsError(err)
	switch {
	case pe.Kind == pipeline.KindInput:
		return fiber.StatusBadRequest
	case pe.Kind == pipeline.KindInternal:
		return fiber.StatusInternalServerError
	case pe.Timeout():
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusBadGateway
	}
}

func Envelope(result *pipeline.Result) types.UploadResponse {
	return types.UploadResponse{
		Status:        "success",
		Transcription: string(result.Transcript),
		Response:      string(result.Reply),
		AudioPath:     result.AudioPath,
		Audio:         base64.StdEncoding.EncodeToString(result.Audio),
	}
}
