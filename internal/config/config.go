package config

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const DefaultMaxOutputTokens = 32768

type Config struct {
	DatabaseDSN     string
	ServerAddr      string
	SigningKey      []byte
	AllowedOrigins  []string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AllowedEmails   []string
	AllowedDomains  []string
	DevMode         bool
	RedisURL        string
	MaxOutputTokens int
	RunMigrations   bool
}

// Options holds the raw values read from flags and the environment.
type Options struct {
	ServerAddr      string
	DatabaseDSN     string
	SigningSecret   string
	AllowedOrigins  []string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AllowedEmails   string
	AllowedDomains  string
	DevMode         bool
	RedisURL        string
	MaxOutputTokens int
	RunMigrations   bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// SplitList splits a comma separated list, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func NewConfig(opts Options) (*Config, error) {
	if opts.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if opts.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if opts.SigningSecret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if opts.MaxOutputTokens < 0 {
		return nil, fmt.Errorf("max output tokens cannot be negative")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(opts.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	maxTokens := opts.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxOutputTokens
	}

	return &Config{
		DatabaseDSN:     opts.DatabaseDSN,
		ServerAddr:      opts.ServerAddr,
		SigningKey:      signingKey,
		AllowedOrigins:  opts.AllowedOrigins,
		OpenAIAPIKey:    opts.OpenAIAPIKey,
		AnthropicAPIKey: opts.AnthropicAPIKey,
		AllowedEmails:   SplitList(opts.AllowedEmails),
		AllowedDomains:  SplitList(opts.AllowedDomains),
		DevMode:         opts.DevMode,
		RedisURL:        opts.RedisURL,
		MaxOutputTokens: maxTokens,
		RunMigrations:   opts.RunMigrations,
	}, nil
}
