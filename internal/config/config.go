// Package config loads and validates sitecorpus configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. SITECORPUS_CRAWLER_MAX_PAGES.
const EnvPrefix = "SITECORPUS"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Language  LanguageConfig  `mapstructure:"language"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	DB        DBConfig        `mapstructure:"db"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Corpus    CorpusConfig    `mapstructure:"corpus"`
}

// CrawlerConfig governs the crawl session.
type CrawlerConfig struct {
	Domain                string   `mapstructure:"domain"`
	StartURL              string   `mapstructure:"start_url"`
	Concurrency           int      `mapstructure:"concurrency"`
	UserAgents            []string `mapstructure:"user_agents"`
	MaxPages              int      `mapstructure:"max_pages"`
	IncludeSubdomains     bool     `mapstructure:"include_subdomains"`
	AllowWWW              bool     `mapstructure:"allow_www"`
	DenyHosts             []string `mapstructure:"deny_hosts"`
	RespectRobots         bool     `mapstructure:"respect_robots"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	MaxRetries            int      `mapstructure:"max_retries"`
	MaxBodyBytes          int      `mapstructure:"max_body_bytes"`
	RateLimitRPS          float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst        int      `mapstructure:"rate_limit_burst"`
	OutputRoot            string   `mapstructure:"output_root"`
}

// HeadlessConfig configures headless rendering.
type HeadlessConfig struct {
	// Mode is off, auto (promote thin HTTP responses) or always (render every non-document URL).
	Mode               string `mapstructure:"mode"`
	MaxParallel        int    `mapstructure:"max_parallel"`
	NavTimeoutSec      int    `mapstructure:"nav_timeout_seconds"`
	SettleMillis       int    `mapstructure:"settle_ms"`
	PromotionThreshold int    `mapstructure:"promotion_threshold"`
}

// ExtractorConfig controls text extraction and the OCR fallback.
type ExtractorConfig struct {
	OCREnabled        bool     `mapstructure:"ocr_enabled"`
	OCRDPI            int      `mapstructure:"ocr_dpi"`
	OCRMaxPages       int      `mapstructure:"ocr_max_pages"`
	OCRTimeoutSeconds int      `mapstructure:"ocr_timeout_seconds"`
	OCRLanguages      []string `mapstructure:"ocr_languages"`
	DetectChars       int      `mapstructure:"detect_chars"`
}

// LanguageConfig tunes the language detector.
type LanguageConfig struct {
	Languages           []string `mapstructure:"languages"`
	MinRelativeDistance float64  `mapstructure:"min_relative_distance"`
}

// StorageConfig selects where page records are written.
type StorageConfig struct {
	// Backend is local or gcs.
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for page notifications. Empty topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls the optional summary table. Empty DSN disables it.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	SummaryTable string `mapstructure:"summary_table"`
}

// MetricsConfig controls the HTTP surface. Empty address disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CorpusConfig holds corpus builder defaults.
type CorpusConfig struct {
	Lang string `mapstructure:"lang"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-supplied Viper instance, so CLI flags bound to
// v take precedence over file and environment values.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read config: %w", crawler.ErrInvalidInvocation, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal config: %w", crawler.ErrInvalidInvocation, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key gets a default, even an empty one, so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.domain", "")
	v.SetDefault("crawler.start_url", "")
	v.SetDefault("crawler.deny_hosts", []string{})
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.user_agents", []string{"sitecorpus-bot/0.1 (+https://github.com/JakeFAU/sitecorpus)"})
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.include_subdomains", false)
	v.SetDefault("crawler.allow_www", true)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.request_timeout_seconds", 30)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.max_body_bytes", 50<<20)
	v.SetDefault("crawler.rate_limit_rps", 2.0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("crawler.output_root", "data")
	v.SetDefault("headless.mode", "off")
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("extractor.ocr_enabled", true)
	v.SetDefault("extractor.ocr_dpi", 300)
	v.SetDefault("extractor.ocr_max_pages", 50)
	v.SetDefault("extractor.ocr_timeout_seconds", 120)
	v.SetDefault("extractor.ocr_languages", []string{"eng"})
	v.SetDefault("extractor.detect_chars", 1000)
	v.SetDefault("language.languages", []string{})
	v.SetDefault("language.min_relative_distance", 0.0)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.summary_table", "crawl_summaries")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("corpus.lang", "")
}

// Validate enforces reasonable limits shared by every subcommand.
func (c Config) Validate() error {
	var problems []string
	if c.Crawler.Concurrency <= 0 {
		problems = append(problems, "crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxPages < 0 {
		problems = append(problems, "crawler.max_pages must be >= 0")
	}
	if c.Crawler.RequestTimeoutSeconds <= 0 {
		problems = append(problems, "crawler.request_timeout_seconds must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		problems = append(problems, "crawler.max_retries must be >= 0")
	}
	if c.Crawler.RateLimitRPS < 0 {
		problems = append(problems, "crawler.rate_limit_rps must be >= 0")
	}
	switch c.Headless.Mode {
	case "off", "auto", "always":
	default:
		problems = append(problems, fmt.Sprintf("headless.mode %q must be off, auto or always", c.Headless.Mode))
	}
	if c.Headless.Mode != "off" && c.Headless.MaxParallel <= 0 {
		problems = append(problems, "headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Extractor.OCRDPI <= 0 {
		problems = append(problems, "extractor.ocr_dpi must be > 0")
	}
	if c.Extractor.OCRMaxPages < 0 {
		problems = append(problems, "extractor.ocr_max_pages must be >= 0")
	}
	switch c.Storage.Backend {
	case "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			problems = append(problems, "storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.backend %q must be local or gcs", c.Storage.Backend))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		problems = append(problems, "pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", crawler.ErrInvalidInvocation, strings.Join(problems, "; "))
	}
	return nil
}

// ValidateCrawl checks the parameters only a crawl needs. A missing domain is
// taken from the start URL.
func (c *Config) ValidateCrawl() error {
	if c.Crawler.StartURL == "" {
		return fmt.Errorf("%w: crawler.start_url is required", crawler.ErrInvalidInvocation)
	}
	u, err := url.Parse(c.Crawler.StartURL)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("%w: crawler.start_url %q is not an absolute URL", crawler.ErrInvalidInvocation, c.Crawler.StartURL)
	}
	if c.Crawler.Domain == "" {
		c.Crawler.Domain = u.Hostname()
	}
	if c.Crawler.OutputRoot == "" && c.Storage.Backend == "local" {
		return fmt.Errorf("%w: crawler.output_root is required", crawler.ErrInvalidInvocation)
	}
	return nil
}

// RequestTimeout returns the per-request fetch timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawler.RequestTimeoutSeconds) * time.Second
}

// OCRTimeout returns the per-document OCR budget.
func (c Config) OCRTimeout() time.Duration {
	return time.Duration(c.Extractor.OCRTimeoutSeconds) * time.Second
}

// NavTimeout returns the headless navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// SettleDelay returns how long rendered pages settle before capture.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Headless.SettleMillis) * time.Millisecond
}
