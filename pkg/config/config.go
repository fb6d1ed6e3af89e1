package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Engine    EngineConfig
	Geocode   GeocodeConfig
	OpenAI    OpenAIConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// EngineConfig points at the external astrology/rectification engine.
type EngineConfig struct {
	BaseURL    string
	TimeoutSec int
}

type GeocodeConfig struct {
	BaseURL     string
	TimeoutSec  int
	CacheTTLMin int
}

type OpenAIConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type SessionConfig struct {
	// CompletionThreshold is the confidence (0-100) at which a questionnaire
	// completes even without an explicit analysis_complete flag.
	CompletionThreshold float64
	// RectifyWindowMin bounds the birth-time search window passed to the
	// engine, centered on the approximate time.
	RectifyWindowMin int
	// SynthesizedShiftMin is the fixed offset applied to the approximate
	// time when a demo result has to be synthesized after an engine failure.
	SynthesizedShiftMin int
	DemoMode            bool
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/birth-rectifier")

	viper.SetEnvPrefix("RECTIFIER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", cfg.Server.Port)
	}
	if cfg.Session.CompletionThreshold <= 0 || cfg.Session.CompletionThreshold > 100 {
		return fmt.Errorf("session.completionThreshold must be in (0, 100], got %v", cfg.Session.CompletionThreshold)
	}
	if cfg.Session.RectifyWindowMin <= 0 {
		return fmt.Errorf("session.rectifyWindowMin must be positive, got %d", cfg.Session.RectifyWindowMin)
	}
	if cfg.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path is required")
	}
	if cfg.Engine.BaseURL == "" {
		return fmt.Errorf("engine.baseURL is required")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("sqlite.path", "./data/rectifier.db")

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("engine.baseURL", "http://localhost:8000")
	viper.SetDefault("engine.timeoutSec", 30)

	viper.SetDefault("geocode.baseURL", "http://localhost:8000")
	viper.SetDefault("geocode.timeoutSec", 5)
	viper.SetDefault("geocode.cacheTTLMin", 1440)

	viper.SetDefault("openai.model", "gpt-4")
	viper.SetDefault("openai.temperature", 0.4)
	viper.SetDefault("openai.maxTokens", 1024)
	viper.SetDefault("openai.timeoutSec", 30)

	viper.SetDefault("session.completionThreshold", 90.0)
	viper.SetDefault("session.rectifyWindowMin", 120)
	viper.SetDefault("session.synthesizedShiftMin", 23)
	viper.SetDefault("session.demoMode", false)

	viper.SetDefault("ratelimit.maxRequestsPerMinute", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
