package server

import (
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/mrsingh-rishi/atlas-server/model"
	"github.com/mrsingh-rishi/atlas-server/pipeline"
)

// AudioField is the multipart field the firmware posts the recording in.
const AudioField = "audio"

// readAudio drains the request body. Multipart uploads carry the clip in the
// "audio" field; anything else is treated as the raw clip.
func readAudio(c *fiber.Ctx) (model.AudioBytes, error) {
	if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
		return readMultipart(c)
	}

	body := c.Body()
	if len(body) == 0 {
		return nil, pipeline.NewInputError("empty audio upload")
	}
	// fiber reuses the body buffer once the handler returns
	return append(model.AudioBytes(nil), body...), nil
}

func readMultipart(c *fiber.Ctx) (model.AudioBytes, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, pipeline.NewInputError("malformed multipart body")
	}

	if files := form.File[AudioField]; len(files) > 0 {
		f, err := files[0].Open()
		if err != nil {
			return nil, pipeline.NewInputError("unreadable audio field")
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return nil, pipeline.NewInputError("unreadable audio field")
		}
		if len(data) == 0 {
			return nil, pipeline.NewInputError("empty audio upload")
		}
		return data, nil
	}

	if values := form.Value[AudioField]; len(values) > 0 && values[0] != "" {
		return model.AudioBytes(values[0]), nil
	}
	return nil, pipeline.NewInputError("missing audio field")
}
