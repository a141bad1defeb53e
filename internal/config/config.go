package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Speech-to-text service (OpenAI-compatible /audio/transcriptions)
	APIKey      string        `env:"OPENAI_API_KEY,required"`
	STTBaseURL  string        `env:"STT_BASE_URL" envDefault:"https://api.openai.com/v1"`
	STTModel    string        `env:"STT_MODEL" envDefault:"whisper-1"`
	STTLanguage string        `env:"STT_LANGUAGE" envDefault:"en"`
	STTPrompt   string        `env:"STT_PROMPT"`
	STTTimeout  time.Duration `env:"STT_TIMEOUT" envDefault:"5m"`

	// Segmentation
	SegmentDuration time.Duration `env:"SEGMENT_DURATION" envDefault:"90s"`
	WorkDir         string        `env:"WORK_DIR" envDefault:"./work"`
	FFmpegPath      string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath     string        `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	SettleDelay     time.Duration `env:"SETTLE_DELAY" envDefault:"500ms"`

	// Retry / pacing
	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryDelay       time.Duration `env:"RETRY_DELAY" envDefault:"3s"`
	RetryStructural  bool          `env:"RETRY_STRUCTURAL" envDefault:"false"`
	SegmentPause     time.Duration `env:"SEGMENT_PAUSE" envDefault:"1s"`
	JobTimeout       time.Duration `env:"JOB_TIMEOUT" envDefault:"30m"`

	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"2147483648"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5m"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"35m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken   string `env:"AUTH_TOKEN"`
	CORSOrigins string `env:"CORS_ORIGINS"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Optional progress events
	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"segscribe"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"segscribe"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	HTTPAddr string
	LogLevel string
	WorkDir  string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.WorkDir != "" {
		cfg.WorkDir = overrides.WorkDir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SegmentDuration < 10*time.Second {
		return fmt.Errorf("SEGMENT_DURATION %s: must be at least 10s", c.SegmentDuration)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS %d: must be >= 1", c.RetryMaxAttempts)
	}
	if c.RetryDelay < 0 || c.SegmentPause < 0 || c.SettleDelay < 0 {
		return fmt.Errorf("RETRY_DELAY, SEGMENT_PAUSE and SETTLE_DELAY must not be negative")
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT %s: must be positive", c.JobTimeout)
	}
	// The upload response is written after the job finishes.
	if c.WriteTimeout > 0 && c.WriteTimeout <= c.JobTimeout {
		return fmt.Errorf("HTTP_WRITE_TIMEOUT %s: must exceed JOB_TIMEOUT %s", c.WriteTimeout, c.JobTimeout)
	}
	return nil
}

// CORSOriginList splits CORS_ORIGINS on commas. Empty means allow all.
func (c *Config) CORSOriginList() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// MQTTEnabled reports whether progress events should be published.
func (c *Config) MQTTEnabled() bool { return c.MQTTBrokerURL != "" }
