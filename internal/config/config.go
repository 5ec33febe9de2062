// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (SNOWDESK_* runtime override)
//  2. Config file (~/.snowdesk/config.yaml)
//  3. Default values
//
// Categories:
//   - AI: model selection, temperature, max tokens, tool-round bound
//   - Retrieval: FAQ search top-k and similarity floor
//   - Safety: guard service endpoint and fail-open policy
//   - Weather: upstream base URL, cache TTL, default location
//   - Storage: PostgreSQL connection (see storage.go)
//   - Server: listen address, CORS origins, rate limiting
//
// Sensitive values (passwords, API keys) are masked in MarshalJSON and are
// never logged.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidToolRounds indicates the tool-round bound is out of range.
	ErrInvalidToolRounds = errors.New("invalid max tool rounds")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidSimilarity indicates the similarity floor is out of range.
	ErrInvalidSimilarity = errors.New("invalid minimum similarity")

	// ErrInvalidWeatherURL indicates the weather base URL is invalid.
	ErrInvalidWeatherURL = errors.New("invalid weather base URL")

	// ErrInvalidCacheTTL indicates the weather cache TTL is out of range.
	ErrInvalidCacheTTL = errors.New("invalid weather cache TTL")

	// ErrInvalidCoordinates indicates the default coordinates are out of range.
	ErrInvalidCoordinates = errors.New("invalid default coordinates")

	// ErrMissingGuardEndpoint indicates the safety guard endpoint is not set.
	ErrMissingGuardEndpoint = errors.New("missing guard endpoint")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

const (
	// DefaultModelName is the generative model used for turn answers.
	DefaultModelName = "googleai/gemini-2.5-flash"

	// DefaultEmbedderModel is the embedder used for FAQ similarity search.
	// gemini-embedding-001 supports truncation to 768 dimensions via
	// OutputDimensionality; the faqs schema stores 768-dim vectors.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultMaxToolRounds bounds the model/tool exchange within one turn.
	DefaultMaxToolRounds = 4

	// DefaultWeatherTTL is how long a weather snapshot stays fresh.
	DefaultWeatherTTL = 5 * time.Minute

	// DefaultWeatherStaleMax is the advisory purge age for stale snapshots.
	DefaultWeatherStaleMax = time.Hour
)

// DefaultSystemPrompt is the agency instruction given to the model. It can be
// overridden via system_prompt for other regions.
const DefaultSystemPrompt = `You are the virtual assistant for the regional Department of Snow.
You help citizens with questions about snow removal services, plowing schedules,
road conditions, school and office closures, winter safety, department contacts,
and current weather alerts and forecasts.

Guidelines:
1. Ground every answer in the FAQ results and weather data returned by your tools.
2. Be helpful, professional, and accurate.
3. Include weather information when it is relevant to the question.
4. If the available context does not contain the answer, say so politely.
5. Never invent department policies, schedules, or contact details.`

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON; when adding new
// secrets (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// AI model configuration
	ModelName     string        `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string        `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32       `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens" json:"max_tokens"`
	SystemPrompt  string        `mapstructure:"system_prompt" json:"-"`
	MaxToolRounds int           `mapstructure:"max_tool_rounds" json:"max_tool_rounds"`
	ModelTimeout  time.Duration `mapstructure:"model_timeout" json:"model_timeout"`
	GeminiAPIKey  string        `mapstructure:"gemini_api_key" json:"gemini_api_key"`

	// FAQ retrieval
	RetrievalTopK int     `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	MinSimilarity float32 `mapstructure:"min_similarity" json:"min_similarity"`

	// Safety guard service
	GuardEndpoint string        `mapstructure:"guard_endpoint" json:"guard_endpoint"`
	GuardTimeout  time.Duration `mapstructure:"guard_timeout" json:"guard_timeout"`
	GuardFailOpen bool          `mapstructure:"guard_fail_open" json:"guard_fail_open"`

	// Weather service
	WeatherBaseURL   string        `mapstructure:"weather_base_url" json:"weather_base_url"`
	WeatherUserAgent string        `mapstructure:"weather_user_agent" json:"weather_user_agent"`
	WeatherCacheTTL  time.Duration `mapstructure:"weather_cache_ttl" json:"weather_cache_ttl"`
	WeatherStaleMax  time.Duration `mapstructure:"weather_stale_max" json:"weather_stale_max"`
	DefaultArea      string        `mapstructure:"default_area" json:"default_area"`
	DefaultLatitude  float64       `mapstructure:"default_latitude" json:"default_latitude"`
	DefaultLongitude float64       `mapstructure:"default_longitude" json:"default_longitude"`

	// PostgreSQL connection
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname" json:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode" json:"postgres_sslmode"`

	// HTTP server
	ServerAddr  string   `mapstructure:"server_addr" json:"server_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Interaction log destination ("" = stderr alongside application logs)
	TurnLogPath string `mapstructure:"turn_log_path" json:"turn_log_path"`
}

// MarshalJSON masks sensitive fields so Config can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "***"
	}
	if masked.GeminiAPIKey != "" {
		masked.GeminiAPIKey = "***"
	}
	return json.Marshal(masked)
}

// Load reads configuration from defaults, the optional config file, and
// SNOWDESK_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SNOWDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if dir, err := configDir(); err == nil {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			// No config file is fine; defaults plus env apply.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// GEMINI_API_KEY is the conventional unprefixed variable; prefer the
	// prefixed one when both are set.
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers default values for all configuration keys.
func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("temperature", 0.2)
	v.SetDefault("max_tokens", 1024)
	v.SetDefault("system_prompt", DefaultSystemPrompt)
	v.SetDefault("max_tool_rounds", DefaultMaxToolRounds)
	v.SetDefault("model_timeout", time.Minute)

	v.SetDefault("retrieval_top_k", 3)
	v.SetDefault("min_similarity", 0.0)

	v.SetDefault("guard_endpoint", "")
	v.SetDefault("guard_timeout", 10*time.Second)
	v.SetDefault("guard_fail_open", false)

	v.SetDefault("weather_base_url", "https://api.weather.gov")
	v.SetDefault("weather_user_agent", "(snowdesk, operations@snowdesk.example)")
	v.SetDefault("weather_cache_ttl", DefaultWeatherTTL)
	v.SetDefault("weather_stale_max", DefaultWeatherStaleMax)
	v.SetDefault("default_area", "AK")
	v.SetDefault("default_latitude", 61.2181)
	v.SetDefault("default_longitude", -149.9003)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "snowdesk")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "snowdesk")
	v.SetDefault("postgres_sslmode", "prefer")

	v.SetDefault("server_addr", ":8080")
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("rate_burst", 60)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("turn_log_path", "")
}

// configDir returns the snowdesk configuration directory, creating it with
// restrictive permissions when missing.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".snowdesk")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}
