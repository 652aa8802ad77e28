package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mrsingh-rishi/atlas-server/metrics"
	"github.com/mrsingh-rishi/atlas-server/model"
)

//go:generate mockgen -destination=mocks/mock_pipeline.go -package=mocks github.com/mrsingh-rishi/atlas-server/pipeline Transcriber,Responder,Synthesizer,Recorder

type Transcriber interface {
	Transcribe(ctx context.Context, audio model.AudioBytes) (model.Transcript, error)
}

type Responder interface {
	Respond(ctx context.Context, transcript model.Transcript) (model.ChatReply, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, reply model.ChatReply) (model.SynthesizedAudio, error)
}

// Recorder persists audio for later inspection. Failures are logged, never fatal.
type Recorder interface {
	SaveRecording(audio []byte) (string, error)
	SaveResponse(audio []byte) (string, error)
}

const (
	StageTranscribe = "transcribe"
	StageChat       = "chat"
	StageSynthesize = "synthesize"
)

const DefaultStageTimeout = 30 * time.Second

// Result is everything one request produced.
type Result struct {
	Transcript    model.Transcript
	Reply         model.ChatReply
	Audio         model.SynthesizedAudio
	RecordingPath string
	AudioPath     string
}

// Pipeline runs transcribe, chat and synthesize strictly in that order. It
// holds no per-request state and is safe for concurrent use when its
// collaborators are.
type Pipeline struct {
	transcriber  Transcriber
	responder    Responder
	synthesizer  Synthesizer
	recorder     Recorder
	stageTimeout time.Duration
	metrics      *metrics.Metrics
}

type Option func(*Pipeline)

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.stageTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func New(t Transcriber, r Responder, s Synthesizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		transcriber:  t,
		responder:    r,
		synthesizer:  s,
		stageTimeout: DefaultStageTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the whole chain for one upload. The first failing stage stops
// the run and is returned as a *Error; later stages are never called.
func (p *Pipeline) Run(ctx context.Context, audio model.AudioBytes) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	if len(audio) == 0 {
		return nil, NewInputError("empty audio upload")
	}
	p.metrics.ObserveUpload(len(audio))

	result := &Result{}
	if p.recorder != nil {
		path, err := p.recorder.SaveRecording(audio)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to save recording")
		} else {
			result.RecordingPath = path
		}
	}

	err := p.stage(ctx, StageTranscribe, KindTranscription, func(ctx context.Context) (err error) {
		result.Transcript, err = p.transcriber.Transcribe(ctx, audio)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("transcript", string(result.Transcript)).Msg("transcribed")

	err = p.stage(ctx, StageChat, KindChat, func(ctx context.Context) (err error) {
		result.Reply, err = p.responder.Respond(ctx, result.Transcript)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("reply", string(result.Reply)).Msg("chat reply")

	err = p.stage(ctx, StageSynthesize, KindSynthesis, func(ctx context.Context) (err error) {
		result.Audio, err = p.synthesizer.Synthesize(ctx, result.Reply)
		if err == nil && len(result.Audio) == 0 {
			err = errors.New("speech synthesis returned no audio")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveSynthesis(len(result.Audio))

	if p.recorder != nil {
		path, err := p.recorder.SaveResponse(result.Audio)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to save response audio")
		} else {
			result.AudioPath = path
		}
	}
	return result, nil
}

func (p *Pipeline) stage(ctx context.Context, name string, kind Kind, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	p.metrics.ObserveStage(name, elapsed, err)

	zerolog.Ctx(ctx).Debug().Str("stage", name).Dur("elapsed", elapsed).Bool("ok", err == nil).Msg("stage finished")
	if err != nil {
		return &Error{Kind: kind, Err: err, timedOut: ctx.Err() == context.DeadlineExceeded}
	}
	return nil
}
