package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Schedule   string           `yaml:"schedule"`
	MaxResults int              `yaml:"max_results"`
	RunOnStart bool             `yaml:"run_on_start"`
	News       NewsConfig       `yaml:"news"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Mailer     MailerConfig     `yaml:"mailer"`
	Credential CredentialConfig `yaml:"credential"`
	Retry      RetryConfig      `yaml:"retry"`
	Preview    PreviewConfig    `yaml:"preview"`
}

type NewsConfig struct {
	Type     string        `yaml:"type"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Language string        `yaml:"language"`
	Query    string        `yaml:"query"`
	Feeds    []string      `yaml:"feeds"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SummarizerConfig struct {
	Type        string        `yaml:"type"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

type MailerConfig struct {
	Type    string        `yaml:"type"`
	From    string        `yaml:"from"`
	To      []string      `yaml:"to"`
	Subject string        `yaml:"subject"`
	Timeout time.Duration `yaml:"timeout"`
}

type CredentialConfig struct {
	Backend       string        `yaml:"backend"`
	Path          string        `yaml:"path"`
	ClientSecrets string        `yaml:"client_secrets"`
	CallbackPort  int           `yaml:"callback_port"`
	EncryptionKey string        `yaml:"encryption_key"`
	Timeout       time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

type PreviewConfig struct {
	Addr string `yaml:"addr"`
}

const (
	// MaxPageSize is the largest page NewsAPI will return in one request.
	MaxPageSize = 20

	// DefaultMaxRetries applies when retry.max_retries is absent. An explicit
	// 0 disables retries.
	DefaultMaxRetries = 2

	appName = "news-digest"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// splitRecipients flattens comma separated entries (EMAIL_RECIPIENTS style)
// and drops blanks.
func splitRecipients(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, addr := range strings.Split(entry, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// DefaultCredentialPath returns where the token lives when credential.path is unset.
func DefaultCredentialPath(backend string) string {
	name := "token.json"
	if backend == "sqlite" {
		name = "credentials.db"
	}
	return filepath.Join(xdg.DataHome, appName, name)
}

func setDefaults(cfg *Config) {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 7 * * *"
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 3
	}
	if cfg.MaxResults > MaxPageSize {
		cfg.MaxResults = MaxPageSize
	}
	if cfg.News.Type == "" {
		cfg.News.Type = "newsapi"
	}
	if cfg.News.Language == "" {
		cfg.News.Language = "en"
	}
	if cfg.News.Timeout == 0 {
		cfg.News.Timeout = 30 * time.Second
	}
	if cfg.Summarizer.Type == "" {
		cfg.Summarizer.Type = "openai"
	}
	if cfg.Summarizer.Model == "" {
		cfg.Summarizer.Model = "gpt-4"
	}
	if cfg.Summarizer.Timeout == 0 {
		cfg.Summarizer.Timeout = 60 * time.Second
	}
	if cfg.Summarizer.Concurrency == 0 {
		cfg.Summarizer.Concurrency = cfg.MaxResults
	}
	if cfg.Mailer.Type == "" {
		cfg.Mailer.Type = "gmail"
	}
	if cfg.Mailer.From == "" {
		cfg.Mailer.From = "me"
	}
	if cfg.Mailer.Subject == "" {
		cfg.Mailer.Subject = "🗞️ Your Daily News Digest"
	}
	if cfg.Mailer.Timeout == 0 {
		cfg.Mailer.Timeout = 30 * time.Second
	}
	cfg.Mailer.To = splitRecipients(cfg.Mailer.To)
	if cfg.Credential.Backend == "" {
		cfg.Credential.Backend = "file"
	}
	if cfg.Credential.Path == "" {
		cfg.Credential.Path = DefaultCredentialPath(cfg.Credential.Backend)
	}
	if cfg.Credential.ClientSecrets == "" {
		cfg.Credential.ClientSecrets = "credentials.json"
	}
	if cfg.Credential.CallbackPort == 0 {
		cfg.Credential.CallbackPort = 8080
	}
	if cfg.Credential.Timeout == 0 {
		cfg.Credential.Timeout = 30 * time.Second
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 1 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.MaxResults < 0 {
		return fmt.Errorf("config: max_results must be positive, got %d", cfg.MaxResults)
	}
	switch cfg.News.Type {
	case "newsapi":
		if cfg.News.APIKey == "" || isUnexpanded(cfg.News.APIKey) {
			return fmt.Errorf("config: news.api_key is required (set NEWS_API_KEY env var)")
		}
	case "rss":
		if len(cfg.News.Feeds) == 0 {
			return fmt.Errorf("config: news.feeds is required for rss source")
		}
	default:
		return fmt.Errorf("config: unsupported news type %q (supported: newsapi, rss)", cfg.News.Type)
	}
	if cfg.Summarizer.Type != "openai" {
		return fmt.Errorf("config: unsupported summarizer type %q (supported: openai)", cfg.Summarizer.Type)
	}
	if cfg.Summarizer.APIKey == "" || isUnexpanded(cfg.Summarizer.APIKey) {
		return fmt.Errorf("config: summarizer.api_key is required (set OPENAI_API_KEY env var)")
	}
	if cfg.Summarizer.Concurrency < 0 {
		return fmt.Errorf("config: summarizer.concurrency must be positive, got %d", cfg.Summarizer.Concurrency)
	}
	switch cfg.Mailer.Type {
	case "gmail", "stdout":
	default:
		return fmt.Errorf("config: unsupported mailer type %q (supported: gmail, stdout)", cfg.Mailer.Type)
	}
	if len(cfg.Mailer.To) == 0 {
		return fmt.Errorf("config: mailer.to is required (set EMAIL_RECIPIENTS env var)")
	}
	for _, addr := range cfg.Mailer.To {
		if isUnexpanded(addr) {
			return fmt.Errorf("config: mailer.to contains unexpanded variable %q", addr)
		}
	}
	switch cfg.Credential.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("config: unsupported credential backend %q (supported: file, sqlite)", cfg.Credential.Backend)
	}
	if cfg.Credential.CallbackPort < 1 || cfg.Credential.CallbackPort > 65535 {
		return fmt.Errorf("config: credential.callback_port %d out of range", cfg.Credential.CallbackPort)
	}
	if cfg.Credential.EncryptionKey != "" {
		if _, err := cfg.Credential.Key(); err != nil {
			return err
		}
	}
	if cfg.Credential.Timeout < 0 {
		return fmt.Errorf("config: credential.timeout must not be negative, got %v", cfg.Credential.Timeout)
	}
	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("config: retry.max_retries must not be negative, got %d", cfg.Retry.MaxRetries)
	}
	return nil
}

func isUnexpanded(s string) bool {
	return envVarRegex.MatchString(s)
}

// Key decodes the credential encryption key. It returns nil when no key is configured.
func (c CredentialConfig) Key() (*[32]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("config: credential.encryption_key is not valid base64: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("config: credential.encryption_key must decode to 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// Load reads the config file, expands environment variables, applies defaults,
// and validates the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))

	// Keys missing from the file keep these values.
	cfg := Config{Retry: RetryConfig{MaxRetries: DefaultMaxRetries}}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
