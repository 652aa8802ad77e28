package tts

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// ChunkStream yields the audio of one synthesis in arrival order. Next returns
// io.EOF once the stream is exhausted. A stream is finite and cannot be restarted.
type ChunkStream interface {
	Next() ([]byte, error)
	Close() error
}

const defaultChunkSize = 4096

// bodyStream reads a response body in chunks as they arrive on the wire.
type bodyStream struct {
	body io.ReadCloser
	buf  []byte
	done bool
}

func NewBodyStream(body io.ReadCloser) ChunkStream {
	return &bodyStream{body: body, buf: make([]byte, defaultChunkSize)}
}

func (s *bodyStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			if err == io.EOF {
				s.done = true
			} else if err != nil {
				s.done = true
				return nil, errors.Wrap(err, "read audio stream")
			}
			return chunk, nil
		}
		if err == io.EOF {
			s.done = true
			return nil, io.EOF
		}
		if err != nil {
			s.done = true
			return nil, errors.Wrap(err, "read audio stream")
		}
	}
}

func (s *bodyStream) Close() error {
	s.done = true
	return s.body.Close()
}

// Collect drains the stream and concatenates every chunk in order. On error
// nothing is returned, so callers never see truncated audio.
func Collect(stream ChunkStream) ([]byte, error) {
	defer stream.Close()

	var out bytes.Buffer
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			return out.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
		out.Write(chunk)
	}
}
