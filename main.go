package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mrsingh-rishi/atlas-server/config"
	"github.com/mrsingh-rishi/atlas-server/llm"
	"github.com/mrsingh-rishi/atlas-server/logging"
	"github.com/mrsingh-rishi/atlas-server/metrics"
	"github.com/mrsingh-rishi/atlas-server/pipeline"
	"github.com/mrsingh-rishi/atlas-server/recording"
	"github.com/mrsingh-rishi/atlas-server/server"
	"github.com/mrsingh-rishi/atlas-server/stt"
	"github.com/mrsingh-rishi/atlas-server/tts"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger config is not known yet
		boot := logging.New("info", "console")
		boot.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	zerolog.DefaultContextLogger = &logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	var m *metrics.Metrics
	if cfg.Server.MetricsEnabled {
		m = metrics.NewMetrics()
	}

	httpClient := &http.Client{}

	transcriber, closeSTT, err := stt.New(ctx, cfg.STT, cfg.OpenAI, httpClient)
	if err != nil {
		return errors.Wrap(err, "init transcriber")
	}
	defer closeSTT()

	responder, err := llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.SystemPrompt,
		cfg.OpenAI.Model, cfg.OpenAI.Temperature, cfg.OpenAI.MaxTokens)
	if err != nil {
		return errors.Wrap(err, "init openai client")
	}

	el := cfg.ElevenLabs
	synthesizer, err := tts.NewElevenLabsClient(el.APIKey, el.APIURL, el.VoiceID, el.ModelID, el.OutputFormat, el.Streaming,
		tts.VoiceSettings{Stability: el.Stability, SimilarityBoost: el.SimilarityBoost}, httpClient)
	if err != nil {
		return errors.Wrap(err, "init eleven labs client")
	}

	opts := []pipeline.Option{
		pipeline.WithStageTimeout(cfg.Server.StageTimeout),
		pipeline.WithMetrics(m),
	}
	if cfg.Storage.Persist {
		store, err := recording.NewStore(cfg.Storage.RecordingsDir, cfg.Storage.ResponsesDir)
		if err != nil {
			return errors.Wrap(err, "init recording store")
		}
		opts = append(opts, pipeline.WithRecorder(store))
	}

	p := pipeline.New(transcriber, responder, synthesizer, opts...)
	srv := server.New(cfg.Server, p, m, logger)

	logger.Info().
		Str("stt", cfg.STT.Provider).
		Str("model", cfg.OpenAI.Model).
		Str("voice", el.VoiceID).
		Bool("persist", cfg.Storage.Persist).
		Msg("ATLAS server starting")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
