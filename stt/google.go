package stt

import (
	"context"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/mrsingh-rishi/atlas-server/model"
)

type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	Close() error
}

// GoogleClient is the Google Cloud Speech-to-Text client
type GoogleClient struct {
	speechClient recognizer
	language     string
	sampleRate   int32
}

// NewGoogleClient creates a Google Cloud Speech client. With an empty
// credentialsFile it relies on Application Default Credentials.
func NewGoogleClient(ctx context.Context, credentialsFile, language string, sampleRate int) (*GoogleClient, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	speechClient, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create speech client")
	}
	return newGoogleClient(speechClient, language, sampleRate), nil
}

func newGoogleClient(r recognizer, language string, sampleRate int) *GoogleClient {
	return &GoogleClient{
		speechClient: r,
		language:     language,
		sampleRate:   int32(sampleRate),
	}
}

func (g *GoogleClient) Transcribe(ctx context.Context, audio model.AudioBytes) (model.Transcript, error) {
	resp, err := g.speechClient.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:          speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:   g.sampleRate,
			AudioChannelCount: 1,
			LanguageCode:      g.language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "google recognize")
	}
	return model.Transcript(firstGoogleTranscript(resp)), nil
}

func firstGoogleTranscript(resp *speechpb.RecognizeResponse) string {
	if resp == nil || len(resp.Results) == 0 {
		return ""
	}
	result := resp.Results[0]
	if len(result.Alternatives) == 0 {
		return ""
	}
	return result.Alternatives[0].Transcript
}

// Close cleans up the speech client connection.
func (g *GoogleClient) Close() error {
	if g.speechClient != nil {
		return g.speechClient.Close()
	}
	return nil
}
