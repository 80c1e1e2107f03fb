package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ChatProviderGitHub = "github"
	ChatProviderGemini = "gemini"
	ChatProviderMock   = "mock"

	SpeechProviderBrowser = "browser"
	SpeechProviderGoogle  = "google"
	SpeechProviderMock    = "mock"

	VoiceProviderBrowser    = "browser"
	VoiceProviderElevenLabs = "elevenlabs"

	JournalBackendNone   = "none"
	JournalBackendMemory = "memory"
	JournalBackendMongo  = "mongo"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Chat    ChatConfig    `yaml:"chat"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	Speech  SpeechConfig  `yaml:"speech"`
	Voice   VoiceConfig   `yaml:"voice"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port             string        `yaml:"port"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	SessionRetention time.Duration `yaml:"session_retention"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type ChatConfig struct {
	Provider     string        `yaml:"provider"`
	Endpoint     string        `yaml:"endpoint"`
	Token        string        `yaml:"token"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	Temperature  *float32      `yaml:"temperature"` // nil uses the default, 0 is a valid setting
	TopP         *float32      `yaml:"top_p"`
	Timeout      time.Duration `yaml:"timeout"`
}

type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type SpeechConfig struct {
	Provider   string `yaml:"provider"`
	SampleRate int    `yaml:"sample_rate"`
	Encoding   string `yaml:"encoding"`
	Language   string `yaml:"language"`
}

type VoiceConfig struct {
	Provider     string        `yaml:"provider"`
	APIKey       string        `yaml:"api_key"`
	APIBaseURL   string        `yaml:"api_base_url"`
	VoiceID      string        `yaml:"voice_id"`
	ModelID      string        `yaml:"model_id"`
	OutputFormat string        `yaml:"output_format"`
	Stability    float64       `yaml:"stability"`
	Clarity      float64       `yaml:"clarity"`
	Timeout      time.Duration `yaml:"timeout"`
}

type JournalConfig struct {
	Backend   string        `yaml:"backend"`
	MongoURI  string        `yaml:"mongo_uri"`
	Database  string        `yaml:"database"`
	Retention time.Duration `yaml:"retention"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path, expanding ${VAR} references, then fills
// unset values from well-known environment variables and defaults. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}

	fill(&c.Server.Port, "PORT")
	fill(&c.Auth.JWTSecret, "JWT_SECRET")
	fill(&c.Chat.Token, "GITHUB_TOKEN")
	fill(&c.Gemini.APIKey, "GEMINI_API_KEY")
	fill(&c.Voice.APIKey, "ELEVEN_LABS_API_KEY")
	fill(&c.Voice.VoiceID, "ELEVEN_LABS_VOICE_ID")
	fill(&c.Journal.MongoURI, "MONGODB_URI")
	fill(&c.Journal.Database, "MONGODB_DATABASE")
	fill(&c.Log.Level, "LOG_LEVEL")
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.SessionTTL == 0 {
		c.Server.SessionTTL = 24 * time.Hour
	}
	if c.Server.SessionRetention == 0 {
		c.Server.SessionRetention = 5 * time.Minute
	}
	if c.Server.CleanupInterval == 0 {
		c.Server.CleanupInterval = time.Minute
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = c.Server.SessionTTL
	}
	if c.Chat.Provider == "" {
		c.Chat.Provider = ChatProviderGitHub
	}
	if c.Chat.Temperature == nil {
		c.Chat.Temperature = float32Ptr(0.7)
	}
	if c.Chat.TopP == nil {
		c.Chat.TopP = float32Ptr(1)
	}
	if c.Speech.Provider == "" {
		c.Speech.Provider = SpeechProviderBrowser
	}
	if c.Speech.SampleRate == 0 {
		c.Speech.SampleRate = 16000
	}
	if c.Speech.Encoding == "" {
		c.Speech.Encoding = "LINEAR16"
	}
	if c.Speech.Language == "" {
		c.Speech.Language = "en-US"
	}
	if c.Voice.Provider == "" {
		c.Voice.Provider = VoiceProviderBrowser
	}
	if c.Journal.Backend == "" {
		c.Journal.Backend = JournalBackendMemory
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate checks provider names and the credentials they need
func (c *Config) Validate() error {
	switch c.Chat.Provider {
	case ChatProviderGitHub:
		if c.Chat.Token == "" {
			return fmt.Errorf("chat.token (or GITHUB_TOKEN) is required for the %s provider", ChatProviderGitHub)
		}
	case ChatProviderGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("gemini.api_key (or GEMINI_API_KEY) is required for the %s provider", ChatProviderGemini)
		}
	case ChatProviderMock:
	default:
		return fmt.Errorf("unknown chat provider %q", c.Chat.Provider)
	}

	if t := c.Chat.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("chat.temperature must be between 0 and 2, got %v", *t)
	}
	if p := c.Chat.TopP; p != nil && (*p < 0 || *p > 1) {
		return fmt.Errorf("chat.top_p must be between 0 and 1, got %v", *p)
	}

	switch c.Speech.Provider {
	case SpeechProviderBrowser, SpeechProviderGoogle, SpeechProviderMock:
	default:
		return fmt.Errorf("unknown speech provider %q", c.Speech.Provider)
	}

	switch c.Voice.Provider {
	case VoiceProviderBrowser:
	case VoiceProviderElevenLabs:
		if c.Voice.APIKey == "" {
			return fmt.Errorf("voice.api_key (or ELEVEN_LABS_API_KEY) is required for the %s provider", VoiceProviderElevenLabs)
		}
	default:
		return fmt.Errorf("unknown voice provider %q", c.Voice.Provider)
	}

	switch c.Journal.Backend {
	case JournalBackendNone, JournalBackendMemory:
	case JournalBackendMongo:
		if c.Journal.MongoURI == "" {
			return fmt.Errorf("journal.mongo_uri (or MONGODB_URI) is required for the %s backend", JournalBackendMongo)
		}
	default:
		return fmt.Errorf("unknown journal backend %q", c.Journal.Backend)
	}

	return nil
}

func float32Ptr(v float32) *float32 {
	return &v
}
