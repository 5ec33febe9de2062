package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validSSLModes are the PostgreSQL SSL modes accepted by pgx.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks all configuration values that every execution path needs.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}

	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 65536 {
		return fmt.Errorf("%w: must be between 1 and 65536, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	if c.MaxToolRounds < 1 || c.MaxToolRounds > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidToolRounds, c.MaxToolRounds)
	}

	if c.RetrievalTopK < 1 || c.RetrievalTopK > 10 {
		return fmt.Errorf("%w: must be between 1 and 10, got %d", ErrInvalidTopK, c.RetrievalTopK)
	}

	if c.MinSimilarity < 0.0 || c.MinSimilarity > 1.0 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f", ErrInvalidSimilarity, c.MinSimilarity)
	}

	if err := c.validateWeather(); err != nil {
		return err
	}

	return c.validatePostgres()
}

// ValidateServe extends Validate with the checks only the HTTP server and a
// live turn pipeline need (credentials, guard endpoint).
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: set SNOWDESK_GEMINI_API_KEY or GEMINI_API_KEY", ErrMissingAPIKey)
	}

	if strings.TrimSpace(c.GuardEndpoint) == "" {
		return fmt.Errorf("%w: set guard_endpoint to the safety validator URL", ErrMissingGuardEndpoint)
	}

	return nil
}

func (c *Config) validateWeather() error {
	u, err := url.Parse(c.WeatherBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidWeatherURL, c.WeatherBaseURL)
	}

	if c.WeatherCacheTTL <= 0 || c.WeatherCacheTTL > c.WeatherStaleMax {
		return fmt.Errorf("%w: TTL %v must be positive and at most the stale max %v",
			ErrInvalidCacheTTL, c.WeatherCacheTTL, c.WeatherStaleMax)
	}

	if c.DefaultLatitude < -90 || c.DefaultLatitude > 90 ||
		c.DefaultLongitude < -180 || c.DefaultLongitude > 180 {
		return fmt.Errorf("%w: (%.4f, %.4f)", ErrInvalidCoordinates, c.DefaultLatitude, c.DefaultLongitude)
	}

	return nil
}

func (c *Config) validatePostgres() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}

	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	return nil
}
