// Package config loads service settings from defaults, an optional config
// file, a .env file and LEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/notion-ledger/internal/infra/notion"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LEDGER_AUTH_PIN.
const EnvPrefix = "LEDGER"

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigin   string        `mapstructure:"cors_origin"`
	// TrustedProxies are IPs or CIDR ranges whose X-Forwarded-For header
	// names the client. Empty means the peer address is always used.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthConfig struct {
	PIN               string `mapstructure:"pin"`
	AttemptsPerMinute int    `mapstructure:"attempts_per_minute"`
}

type NotionConfig struct {
	Token             string        `mapstructure:"token"`
	EntriesDBID       string        `mapstructure:"entries_db_id"`
	AccountsDBID      string        `mapstructure:"accounts_db_id"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Schema            notion.Schema `mapstructure:"schema"`
}

type CacheConfig struct {
	// AccountIndexTTL bounds reuse of the account listing behind relation lookups.
	AccountIndexTTL time.Duration `mapstructure:"account_index_ttl"`
	// SummaryTTL bounds reuse of computed summaries; zero keeps them until invalidated.
	SummaryTTL time.Duration `mapstructure:"summary_ttl"`
	// EntriesTTL bounds reuse of entry listings; zero keeps them until invalidated.
	EntriesTTL time.Duration `mapstructure:"entries_ttl"`
}

type ScraperConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type InvoiceConfig struct {
	FallbackAccount     string `mapstructure:"fallback_account"`
	ClassifyConcurrency int    `mapstructure:"classify_concurrency"`
	// ImportInterval is how often the worker enqueues an import.
	ImportInterval time.Duration `mapstructure:"import_interval"`
}

type JobsConfig struct {
	Workers    int `mapstructure:"workers"`
	Buffer     int `mapstructure:"buffer"`
	MaxRetries int `mapstructure:"max_retries"`
	// Retain bounds how many import jobs are remembered; zero keeps all.
	Retain int `mapstructure:"retain"`
}

type ExportConfig struct {
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// APIConfig locates the running API server for the worker and CLI, which
// tell it to drop its caches after they write to the store.
type APIConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type BigQueryConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	Dataset         string `mapstructure:"dataset"`
	Table           string `mapstructure:"table"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// Config holds application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Notion   NotionConfig   `mapstructure:"notion"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Invoice  InvoiceConfig  `mapstructure:"invoice"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Export   ExportConfig   `mapstructure:"export"`
	BigQuery BigQueryConfig `mapstructure:"bigquery"`
	API      APIConfig      `mapstructure:"api"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("auth.pin", "")
	v.SetDefault("auth.attempts_per_minute", 10)

	v.SetDefault("notion.token", "")
	v.SetDefault("notion.entries_db_id", "")
	v.SetDefault("notion.accounts_db_id", "")
	v.SetDefault("notion.timeout", 15*time.Second)
	v.SetDefault("notion.requests_per_second", 3.0)

	s := notion.DefaultSchema()
	v.SetDefault("notion.schema.entry_name", s.EntryName)
	v.SetDefault("notion.schema.entry_category", s.EntryCategory)
	v.SetDefault("notion.schema.entry_date", s.EntryDate)
	v.SetDefault("notion.schema.entry_amount", s.EntryAmount)
	v.SetDefault("notion.schema.entry_account", s.EntryAccount)
	v.SetDefault("notion.schema.entry_note", s.EntryNote)
	v.SetDefault("notion.schema.entry_invoice_number", s.EntryInvoiceNumber)
	v.SetDefault("notion.schema.entry_seller", s.EntrySeller)
	v.SetDefault("notion.schema.account_name", s.AccountName)
	v.SetDefault("notion.schema.account_type", s.AccountType)
	v.SetDefault("notion.schema.account_initial_balance", s.AccountInitialBalance)
	v.SetDefault("notion.schema.account_carrier", s.AccountCarrier)

	v.SetDefault("cache.account_index_ttl", 30*time.Second)
	v.SetDefault("cache.summary_ttl", time.Duration(0))
	v.SetDefault("cache.entries_ttl", time.Duration(0))

	v.SetDefault("scraper.url", "")
	v.SetDefault("scraper.timeout", 3*time.Minute)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")

	v.SetDefault("invoice.fallback_account", "")
	v.SetDefault("invoice.classify_concurrency", 4)
	v.SetDefault("invoice.import_interval", 6*time.Hour)

	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.buffer", 16)
	v.SetDefault("jobs.max_retries", 1)
	v.SetDefault("jobs.retain", 200)

	v.SetDefault("export.bucket", "")
	v.SetDefault("export.credentials_file", "")

	v.SetDefault("bigquery.project_id", "")
	v.SetDefault("bigquery.dataset", "ledger")
	v.SetDefault("bigquery.table", "entries")
	v.SetDefault("bigquery.credentials_file", "")

	v.SetDefault("api.url", "")
	v.SetDefault("api.timeout", 10*time.Second)
}

// Load reads configuration. path names a config file; when empty,
// LEDGER_CONFIG is consulted and then ./ledger.{yaml,toml,json} if present.
// A .env file in the working directory is loaded first without overriding
// variables that are already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ledger")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Notion.Schema = c.Notion.Schema.WithDefaults()

	return &c, nil
}

// Validate validates the configuration and returns an error if invalid.
// Every problem is reported, not just the first.
func (c *Config) Validate() error {
	return c.validate(true)
}

// ValidateOffline checks what command-line tools need; the server and
// auth sections are ignored.
func (c *Config) ValidateOffline() error {
	return c.validate(false)
}

func (c *Config) validate(serving bool) error {
	var problems []string

	if serving {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			problems = append(problems, fmt.Sprintf("invalid server.port %d: must be between 1 and 65535", c.Server.Port))
		}
		for _, p := range c.Server.TrustedProxies {
			if !validProxy(strings.TrimSpace(p)) {
				problems = append(problems, fmt.Sprintf("invalid server.trusted_proxies entry %q: must be an IP or CIDR", p))
			}
		}
		if strings.TrimSpace(c.Auth.PIN) == "" {
			problems = append(problems, "auth.pin is required")
		}
		if c.Auth.AttemptsPerMinute < 1 {
			problems = append(problems, fmt.Sprintf("invalid auth.attempts_per_minute %d: must be at least 1", c.Auth.AttemptsPerMinute))
		}
	}

	if c.Notion.Token == "" {
		problems = append(problems, "notion.token is required")
	}
	if c.Notion.EntriesDBID == "" {
		problems = append(problems, "notion.entries_db_id is required")
	}
	if c.Notion.AccountsDBID == "" {
		problems = append(problems, "notion.accounts_db_id is required")
	}
	if c.Notion.Timeout <= 0 {
		problems = append(problems, fmt.Sprintf("invalid notion.timeout %v: must be positive", c.Notion.Timeout))
	}
	if c.Notion.RequestsPerSecond <= 0 {
		problems = append(problems, fmt.Sprintf("invalid notion.requests_per_second %v: must be positive", c.Notion.RequestsPerSecond))
	}
	if err := c.Notion.Schema.Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if c.Scraper.URL != "" {
		if u, err := url.Parse(c.Scraper.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			problems = append(problems, fmt.Sprintf("invalid scraper.url %q: must be an http(s) URL", c.Scraper.URL))
		}
	}

	if c.API.URL != "" {
		if u, err := url.Parse(c.API.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			problems = append(problems, fmt.Sprintf("invalid api.url %q: must be an http(s) URL", c.API.URL))
		}
		if !serving && strings.TrimSpace(c.Auth.PIN) == "" {
			problems = append(problems, "auth.pin is required to call api.url")
		}
	}

	if c.Invoice.ClassifyConcurrency < 1 {
		problems = append(problems, fmt.Sprintf("invalid invoice.classify_concurrency %d: must be at least 1", c.Invoice.ClassifyConcurrency))
	}

	if c.Invoice.ImportInterval < 0 {
		problems = append(problems, fmt.Sprintf("invalid invoice.import_interval %v: must not be negative", c.Invoice.ImportInterval))
	}

	if c.Jobs.Workers < 1 {
		problems = append(problems, fmt.Sprintf("invalid jobs.workers %d: must be at least 1", c.Jobs.Workers))
	}
	if c.Jobs.Buffer < 1 {
		problems = append(problems, fmt.Sprintf("invalid jobs.buffer %d: must be at least 1", c.Jobs.Buffer))
	}
	if c.Jobs.Retain < 0 {
		problems = append(problems, fmt.Sprintf("invalid jobs.retain %d: must not be negative", c.Jobs.Retain))
	}
	if c.Jobs.MaxRetries < 0 {
		problems = append(problems, fmt.Sprintf("invalid jobs.max_retries %d: must not be negative", c.Jobs.MaxRetries))
	}

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("invalid log.format %q: must be console or json", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		return err == nil
	}
	return net.ParseIP(s) != nil
}

// InvoiceImportEnabled reports whether the scraper and classifier are configured.
func (c *Config) InvoiceImportEnabled() bool {
	return c.Scraper.URL != ""
}
