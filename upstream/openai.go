package upstream

import (
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// FromOpenAI converts go-openai's error types into a StatusError so callers
// see one shape for every upstream rejection. Other errors pass through.
func FromOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Service: "openai", StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &StatusError{Service: "openai", StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return err
}
