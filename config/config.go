package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	ProviderDeepgram       = "deepgram"
	ProviderDeepgramStream = "deepgram-ws"
	ProviderGoogle         = "google"
	ProviderWhisper        = "whisper"

	FormatAudio = "audio"
	FormatJSON  = "json"
)

const DefaultSystemPrompt = "You are ATLAS, a helpful AI assistant with an attitude and demeanor like JARVIS from Iron Man. Keep responses concise and natural."

// Config holds everything the server needs at startup. It is built once and
// passed by reference to the components that need it.
type Config struct {
	Server     ServerConfig
	STT        STTConfig
	OpenAI     OpenAIConfig
	ElevenLabs ElevenLabsConfig
	Storage    StorageConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Port                string
	MaxUploadBytes      int
	StageTimeout        time.Duration
	ResponseFormat      string
	DetailedStatusCodes bool
	MetricsEnabled      bool
}

type STTConfig struct {
	Provider         string
	DeepgramAPIKey   string
	DeepgramAPIURL   string
	DeepgramModel    string
	AudioMimetype    string
	GoogleCredFile   string
	GoogleLanguage   string
	GoogleSampleRate int
	WhisperModel     string
}

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
}

type ElevenLabsConfig struct {
	APIKey          string
	APIURL          string
	VoiceID         string
	ModelID         string
	OutputFormat    string
	Streaming       bool
	Stability       float64
	SimilarityBoost float64
}

type StorageConfig struct {
	Persist       bool
	RecordingsDir string
	ResponsesDir  string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrap(err, "load .env")
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables and validates it.
func FromEnv() (*Config, error) {
	var (
		cfg Config
		p   parser
	)

	cfg.Server = ServerConfig{
		Port:                getString("PORT", "3000"),
		MaxUploadBytes:      p.int("MAX_UPLOAD_BYTES", 10*1024*1024),
		StageTimeout:        p.duration("STAGE_TIMEOUT", 30*time.Second),
		ResponseFormat:      strings.ToLower(getString("RESPONSE_FORMAT", FormatAudio)),
		DetailedStatusCodes: p.bool("DETAILED_STATUS_CODES", false),
		MetricsEnabled:      p.bool("METRICS_ENABLED", true),
	}

	cfg.STT = STTConfig{
		Provider:         strings.ToLower(getString("STT_PROVIDER", ProviderDeepgram)),
		DeepgramAPIKey:   os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramAPIURL:   getString("DEEPGRAM_API_URL", "https://api.deepgram.com"),
		DeepgramModel:    getString("DEEPGRAM_MODEL", "nova-2"),
		AudioMimetype:    getString("AUDIO_MIMETYPE", "audio/wav"),
		GoogleCredFile:   os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		GoogleLanguage:   getString("GOOGLE_SPEECH_LANGUAGE", "en-US"),
		GoogleSampleRate: p.int("GOOGLE_SPEECH_SAMPLE_RATE", 16000),
		WhisperModel:     getString("WHISPER_MODEL", "whisper-1"),
	}

	cfg.OpenAI = OpenAIConfig{
		APIKey:       os.Getenv("OPENAI_API_KEY"),
		BaseURL:      os.Getenv("OPENAI_BASE_URL"),
		Model:        getString("OPENAI_MODEL", "gpt-4"),
		Temperature:  float32(p.float("OPENAI_TEMPERATURE", 0.5)),
		MaxTokens:    p.int("OPENAI_MAX_TOKENS", 100),
		SystemPrompt: getString("SYSTEM_PROMPT", DefaultSystemPrompt),
	}

	cfg.ElevenLabs = ElevenLabsConfig{
		APIKey:          os.Getenv("ELEVEN_LABS_API_KEY"),
		APIURL:          getString("ELEVEN_LABS_API_URL", "https://api.elevenlabs.io"),
		VoiceID:         getString("ELEVEN_LABS_VOICE_ID", "JBFqnCBsd6RMkjVDRZzb"),
		ModelID:         getString("ELEVEN_LABS_MODEL_ID", "eleven_multilingual_v2"),
		OutputFormat:    getString("ELEVEN_LABS_OUTPUT_FORMAT", "mp3_44100_128"),
		Streaming:       p.bool("ELEVEN_LABS_STREAMING", true),
		Stability:       p.float("ELEVEN_LABS_STABILITY", 0.75),
		SimilarityBoost: p.float("ELEVEN_LABS_SIMILARITY_BOOST", 0.7),
	}

	cfg.Storage = StorageConfig{
		Persist:       p.bool("PERSIST_AUDIO", false),
		RecordingsDir: getString("RECORDINGS_DIR", "recordings"),
		ResponsesDir:  getString("RESPONSES_DIR", "responses"),
	}

	cfg.Logging = LoggingConfig{
		Level:  getString("LOG_LEVEL", "info"),
		Format: getString("LOG_FORMAT", "json"),
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the keys required by the selected providers are present.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("PORT must be set")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	if c.Server.StageTimeout <= 0 {
		return errors.New("STAGE_TIMEOUT must be positive")
	}
	switch c.Server.ResponseFormat {
	case FormatAudio, FormatJSON:
	default:
		return errors.Errorf("RESPONSE_FORMAT must be %q or %q, got %q", FormatAudio, FormatJSON, c.Server.ResponseFormat)
	}

	switch c.STT.Provider {
	case ProviderDeepgram, ProviderDeepgramStream:
		if c.STT.DeepgramAPIKey == "" {
			return errors.New("DEEPGRAM_API_KEY must be set")
		}
	case ProviderGoogle:
		if c.STT.GoogleSampleRate <= 0 {
			return errors.New("GOOGLE_SPEECH_SAMPLE_RATE must be positive")
		}
	case ProviderWhisper:
		// shares OPENAI_API_KEY, checked below
	default:
		return errors.Errorf("unknown STT_PROVIDER %q", c.STT.Provider)
	}

	if c.OpenAI.APIKey == "" {
		return errors.New("OPENAI_API_KEY must be set")
	}
	if c.OpenAI.MaxTokens <= 0 {
		return errors.New("OPENAI_MAX_TOKENS must be positive")
	}
	if c.ElevenLabs.APIKey == "" {
		return errors.New("ELEVEN_LABS_API_KEY must be set")
	}
	if c.ElevenLabs.VoiceID == "" {
		return errors.New("ELEVEN_LABS_VOICE_ID must be set")
	}
	if c.Storage.Persist && (c.Storage.RecordingsDir == "" || c.Storage.ResponsesDir == "") {
		return errors.New("RECORDINGS_DIR and RESPONSES_DIR must be set when PERSIST_AUDIO is enabled")
	}
	return nil
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// parser keeps the first conversion error so FromEnv can report it once.
type parser struct {
	err error
}

func (p *parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return f
}

func (p *parser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = errors.Wrapf(err, "parse %s", key)
	}
}
