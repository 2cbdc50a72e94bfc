package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai" json:"openai"`
	Summary  SummaryConfig  `mapstructure:"summary" json:"summary"`
	Memory   MemoryConfig   `mapstructure:"memory" json:"memory"`
	Client   ClientConfig   `mapstructure:"client" json:"client"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host" json:"host"`
	Port        int    `mapstructure:"port" json:"port"`
	CORSOrigins string `mapstructure:"cors_origins" json:"cors_origins"`
	Greeting    string `mapstructure:"greeting" json:"greeting"`
	// Retry prompt sent when a transcript is empty or matches an ignored phrase.
	RetryPrompt        string   `mapstructure:"retry_prompt" json:"retry_prompt"`
	IgnoredTranscripts []string `mapstructure:"ignored_transcripts" json:"ignored_transcripts"`
	SystemPrompt       string   `mapstructure:"system_prompt" json:"system_prompt"`
	WSConnectionsPerIP int      `mapstructure:"ws_connections_per_minute" json:"ws_connections_per_minute"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver" json:"driver"` // postgres, pgx, mysql or sqlite
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"`
	Database string `mapstructure:"database" json:"database"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode"`
	Path     string `mapstructure:"path" json:"path"` // sqlite only
}

type OpenAIConfig struct {
	APIKey             string  `mapstructure:"api_key" json:"api_key,omitempty"`
	BaseURL            string  `mapstructure:"base_url" json:"base_url,omitempty"`
	ChatModel          string  `mapstructure:"chat_model" json:"chat_model"`
	MaxTokens          int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature        float32 `mapstructure:"temperature" json:"temperature"`
	TranscriptionModel string  `mapstructure:"transcription_model" json:"transcription_model"`
	Language           string  `mapstructure:"language" json:"language"`
	SpeechModel        string  `mapstructure:"speech_model" json:"speech_model"`
	Voice              string  `mapstructure:"voice" json:"voice"`
	EmbeddingModel     string  `mapstructure:"embedding_model" json:"embedding_model"`
}

type SummaryConfig struct {
	Window      time.Duration `mapstructure:"window" json:"window"`
	Schedule    string        `mapstructure:"schedule" json:"schedule"`
	Lookback    time.Duration `mapstructure:"lookback" json:"lookback"`
	Parallelism int           `mapstructure:"parallelism" json:"parallelism"`
	MaxTokens   int           `mapstructure:"max_tokens" json:"max_tokens"`
}

type MemoryConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Dir     string `mapstructure:"dir" json:"dir"`
	TopK    int    `mapstructure:"top_k" json:"top_k"`
	Keep    int    `mapstructure:"keep" json:"keep"`
}

type ClientConfig struct {
	ServerURL      string        `mapstructure:"server_url" json:"server_url"`
	SilenceTimeout time.Duration `mapstructure:"silence_timeout" json:"silence_timeout"`
	RestartDelay   time.Duration `mapstructure:"restart_delay" json:"restart_delay"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" json:"reconnect_delay"`
	MaxRetries     int           `mapstructure:"max_retries" json:"max_retries"`
	RecordCommand  []string      `mapstructure:"record_command" json:"record_command"`
	PlayCommand    []string      `mapstructure:"play_command" json:"play_command"`
	IdentityFile   string        `mapstructure:"identity_file" json:"identity_file"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"` // text or json
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	// Add config paths
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	homeDir, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".aitalk"))
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvOverrides(&cfg)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", "*")
	v.SetDefault("server.greeting", "Hello! How is your day going so far?")
	v.SetDefault("server.retry_prompt", "Sorry, I didn't quite catch that. Could you say it once more?")
	v.SetDefault("server.ignored_transcripts", []string{"시청해주셔서 감사합니다", "Thanks for watching"})
	v.SetDefault("server.system_prompt", "You are a warm, friendly conversation partner. Answer naturally in two or three short sentences.")
	v.SetDefault("server.ws_connections_per_minute", 30)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "aitalk")
	v.SetDefault("database.database", "aitalk")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "aitalk.db")

	v.SetDefault("openai.chat_model", "gpt-4o")
	v.SetDefault("openai.max_tokens", 150)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.transcription_model", "whisper-1")
	v.SetDefault("openai.language", "ko")
	v.SetDefault("openai.speech_model", "tts-1")
	v.SetDefault("openai.voice", "alloy")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")

	v.SetDefault("summary.window", time.Hour)
	v.SetDefault("summary.schedule", "@every 10m")
	v.SetDefault("summary.lookback", 24*time.Hour)
	v.SetDefault("summary.parallelism", 4)
	v.SetDefault("summary.max_tokens", 500)

	v.SetDefault("memory.enabled", true)
	v.SetDefault("memory.dir", "data")
	v.SetDefault("memory.top_k", 5)
	v.SetDefault("memory.keep", 3)

	v.SetDefault("client.server_url", "ws://localhost:8000/ws/chat")
	v.SetDefault("client.silence_timeout", 10*time.Second)
	v.SetDefault("client.restart_delay", 500*time.Millisecond)
	v.SetDefault("client.reconnect_delay", 3*time.Second)
	v.SetDefault("client.max_retries", 5)
	v.SetDefault("client.record_command", []string{"arecord", "-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "wav", "-"})
	v.SetDefault("client.play_command", []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func loadEnvOverrides(cfg *Config) {
	if host := os.Getenv("AITALK_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("AITALK_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if level := os.Getenv("AITALK_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if url := os.Getenv("AITALK_SERVER_URL"); url != "" {
		cfg.Client.ServerURL = url
	}

	// OpenAI
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAI.APIKey = key
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.OpenAI.BaseURL = base
	}

	// Database overrides
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = port
		}
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPass := os.Getenv("DB_PASSWORD"); dbPass != "" {
		cfg.Database.Password = dbPass
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		cfg.Database.Database = dbName
	}
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
}
