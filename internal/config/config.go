// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/due-diligence-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/due-diligence-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/due-diligence-crawler/internal/logging"
	"github.com/JakeFAU/due-diligence-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/due-diligence-crawler/internal/render"
	"github.com/JakeFAU/due-diligence-crawler/internal/search"
)

// EnvPrefix prefixes every environment override, e.g. DDCRAWLER_QUEUE_BATCH_SIZE.
const EnvPrefix = "DDCRAWLER"

// Queue providers.
const (
	QueuePubSub = "pubsub"
	QueueMemory = "memory"
)

// Storage providers.
const (
	StorageGCS   = "gcs"
	StorageLocal = "local"
	StorageNoop  = "noop"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  logging.Config `mapstructure:"logging"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Search   SearchConfig   `mapstructure:"search"`
	Variants VariantsConfig `mapstructure:"variants"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Render   RenderConfig   `mapstructure:"render"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls the ops HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// QueueConfig controls job intake.
type QueueConfig struct {
	Provider     string `mapstructure:"provider"`
	ProjectID    string `mapstructure:"project_id"`
	Subscription string `mapstructure:"subscription"`
	// BatchSize bounds messages per receive and so concurrent jobs.
	BatchSize           int `mapstructure:"batch_size"`
	WaitSeconds         int `mapstructure:"wait_seconds"`
	ErrorBackoffSeconds int `mapstructure:"error_backoff_seconds"`
	AckExtensionSeconds int `mapstructure:"ack_extension_seconds"`
	MemoryCapacity      int `mapstructure:"memory_capacity"`
}

// SearchConfig describes the search surfaces and how to drive them.
type SearchConfig struct {
	Surfaces                 crawler.Surfaces `mapstructure:"surfaces"`
	Selectors                search.Selectors `mapstructure:"selectors"`
	NavigationTimeoutSeconds int              `mapstructure:"navigation_timeout_seconds"`
	ResultsTimeoutSeconds    int              `mapstructure:"results_timeout_seconds"`
	PaginationTimeoutSeconds int              `mapstructure:"pagination_timeout_seconds"`
	SnapshotResults          bool             `mapstructure:"snapshot_results"`
	BlockedDomains           []string         `mapstructure:"blocked_domains"`
}

// VariantsConfig holds per-variant switches.
type VariantsConfig struct {
	UseProxy  crawler.ProxyPolicy `mapstructure:"use_proxy"`
	Exchanges []crawler.Exchange  `mapstructure:"exchanges"`
}

// ProxyConfig is the anonymizing egress proxy.
type ProxyConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// BrowserConfig controls the Chrome process.
type BrowserConfig struct {
	ExecPath             string `mapstructure:"exec_path"`
	Headless             bool   `mapstructure:"headless"`
	NoSandbox            bool   `mapstructure:"no_sandbox"`
	UserAgent            string `mapstructure:"user_agent"`
	ActionTimeoutSeconds int    `mapstructure:"action_timeout_seconds"`
}

// RenderConfig controls artifact rendering.
type RenderConfig struct {
	NavigationTimeoutSeconds int                  `mapstructure:"navigation_timeout_seconds"`
	MaxAttempts              int                  `mapstructure:"max_attempts"`
	RetryBaseMs              int                  `mapstructure:"retry_base_ms"`
	RetryMaxMs               int                  `mapstructure:"retry_max_ms"`
	Workers                  int                  `mapstructure:"workers"`
	DocumentSuffixes         []string             `mapstructure:"document_suffixes"`
	DomainQPS                float64              `mapstructure:"domain_qps"`
	HostLimits               []ratelimit.HostRate `mapstructure:"host_limits"`
	DownloadTimeoutSeconds   int                  `mapstructure:"download_timeout_seconds"`
	MaxDownloadBytes         int                  `mapstructure:"max_download_bytes"`
	Gateway                  render.GatewayConfig `mapstructure:"gateway"`
}

// StorageConfig controls where job trees go.
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	// WorkDir holds local job trees while they are built.
	WorkDir string `mapstructure:"work_dir"`
	// LocalDir receives uploads when Provider is local.
	LocalDir  string `mapstructure:"local_dir"`
	KeepLocal bool   `mapstructure:"keep_local"`
}

// DBConfig enables the Postgres audit trail when DSN is set.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig configures job report notifications. An empty topic disables
// them.
type PubSubConfig struct {
	ProjectID   string `mapstructure:"project_id"`
	ReportTopic string `mapstructure:"report_topic"`
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Variants.Exchanges) == 0 {
		cfg.Variants.Exchanges = crawler.DefaultExchanges()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("queue.provider", QueuePubSub)
	v.SetDefault("queue.project_id", "")
	v.SetDefault("queue.subscription", "")
	v.SetDefault("queue.batch_size", 1)
	v.SetDefault("queue.wait_seconds", 20)
	v.SetDefault("queue.error_backoff_seconds", 5)
	v.SetDefault("queue.ack_extension_seconds", 300)
	v.SetDefault("queue.memory_capacity", 64)

	v.SetDefault("search.surfaces.google", "")
	v.SetDefault("search.surfaces.news", "")
	v.SetDefault("search.surfaces.regulatory", "")
	sel := search.DefaultSelectors()
	v.SetDefault("search.selectors.query_input", sel.QueryInput)
	v.SetDefault("search.selectors.results_marker", sel.ResultsMarker)
	v.SetDefault("search.selectors.result_anchor", sel.ResultAnchor)
	v.SetDefault("search.selectors.pager", sel.Pager)
	v.SetDefault("search.selectors.page_link", sel.PageLink)
	v.SetDefault("search.selectors.current_page", sel.CurrentPage)
	v.SetDefault("search.navigation_timeout_seconds", 30)
	v.SetDefault("search.results_timeout_seconds", 30)
	v.SetDefault("search.pagination_timeout_seconds", 60)
	v.SetDefault("search.snapshot_results", false)
	v.SetDefault("search.blocked_domains", []string{})

	proxy := crawler.DefaultProxyPolicy()
	v.SetDefault("variants.use_proxy.google", proxy.Google)
	v.SetDefault("variants.use_proxy.news", proxy.News)
	v.SetDefault("variants.use_proxy.regulatory", proxy.Regulatory)
	v.SetDefault("variants.use_proxy.official", proxy.Official)

	v.SetDefault("proxy.url", "")
	v.SetDefault("proxy.username", "")
	v.SetDefault("proxy.password", "")

	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.action_timeout_seconds", 30)

	v.SetDefault("render.navigation_timeout_seconds", 90)
	v.SetDefault("render.max_attempts", 2)
	v.SetDefault("render.retry_base_ms", 500)
	v.SetDefault("render.retry_max_ms", 5000)
	v.SetDefault("render.workers", 1)
	v.SetDefault("render.document_suffixes", []string{".pdf"})
	v.SetDefault("render.domain_qps", 0.0)
	v.SetDefault("render.download_timeout_seconds", 60)
	v.SetDefault("render.max_download_bytes", collyfetcher.DefaultMaxBodyBytes)
	v.SetDefault("render.gateway.url", "")
	v.SetDefault("render.gateway.input_selector", `input[name="in"]`)
	v.SetDefault("render.gateway.ready_selector", `div[textise="block"]`)

	v.SetDefault("storage.provider", StorageGCS)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.work_dir", "work")
	v.SetDefault("storage.local_dir", "uploads")
	v.SetDefault("storage.keep_local", false)

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "manifest_entries")
	v.SetDefault("db.max_conns", 4)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.report_topic", "")
}

// Validate enforces required values and reasonable limits. Missing search
// surfaces are legal: those variants are skipped at run time.
func (c Config) Validate() error {
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	switch c.Queue.Provider {
	case QueuePubSub:
		if c.Queue.ProjectID == "" || c.Queue.Subscription == "" {
			return fmt.Errorf("queue.project_id and queue.subscription are required for the pubsub queue")
		}
	case QueueMemory:
	default:
		return fmt.Errorf("queue.provider must be %q or %q, got %q", QueuePubSub, QueueMemory, c.Queue.Provider)
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be > 0")
	}
	if c.Queue.WaitSeconds <= 0 {
		return fmt.Errorf("queue.wait_seconds must be > 0")
	}
	if c.Render.NavigationTimeoutSeconds <= 0 {
		return fmt.Errorf("render.navigation_timeout_seconds must be > 0")
	}
	if c.Render.MaxAttempts <= 0 {
		return fmt.Errorf("render.max_attempts must be > 0")
	}
	if c.Render.Workers <= 0 {
		return fmt.Errorf("render.workers must be > 0")
	}
	if c.Render.DomainQPS < 0 {
		return fmt.Errorf("render.domain_qps must be >= 0")
	}
	switch c.Storage.Provider {
	case StorageGCS, StorageLocal, StorageNoop:
	default:
		return fmt.Errorf("storage.provider must be one of gcs, local, noop; got %q", c.Storage.Provider)
	}
	if c.Storage.Provider != StorageNoop && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required for the %s provider", c.Storage.Provider)
	}
	if strings.TrimSpace(c.Storage.WorkDir) == "" {
		return fmt.Errorf("storage.work_dir is required")
	}
	if c.PubSub.ReportTopic != "" && c.PubSub.ProjectID == "" && c.Queue.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.report_topic is set")
	}
	for _, ex := range c.Variants.Exchanges {
		if ex.Name == "" || ex.Site == "" {
			return fmt.Errorf("variants.exchanges entries need a name and a site")
		}
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// QueueWait is the long-poll wait per receive.
func (c Config) QueueWait() time.Duration { return seconds(c.Queue.WaitSeconds) }

// QueueErrorBackoff is slept after a failed receive.
func (c Config) QueueErrorBackoff() time.Duration { return seconds(c.Queue.ErrorBackoffSeconds) }

// AckExtension is the lease renewal period for in-flight messages.
func (c Config) AckExtension() time.Duration { return seconds(c.Queue.AckExtensionSeconds) }

// ReportProject is the project that owns the report topic.
func (c Config) ReportProject() string {
	if c.PubSub.ProjectID != "" {
		return c.PubSub.ProjectID
	}
	return c.Queue.ProjectID
}

// SearchTimeouts converts the search waits.
func (c Config) SearchTimeouts() search.Timeouts {
	return search.Timeouts{
		Navigation: seconds(c.Search.NavigationTimeoutSeconds),
		Results:    seconds(c.Search.ResultsTimeoutSeconds),
		Pagination: seconds(c.Search.PaginationTimeoutSeconds),
	}
}

// RenderSettings converts the render section.
func (c Config) RenderSettings() render.Config {
	return render.Config{
		NavigationTimeout: seconds(c.Render.NavigationTimeoutSeconds),
		MaxAttempts:       c.Render.MaxAttempts,
		RetryBaseDelay:    time.Duration(c.Render.RetryBaseMs) * time.Millisecond,
		RetryMaxDelay:     time.Duration(c.Render.RetryMaxMs) * time.Millisecond,
		Workers:           c.Render.Workers,
		DocumentSuffixes:  c.Render.DocumentSuffixes,
		Gateway:           c.Render.Gateway,
	}
}

// DownloadTimeout bounds one direct document download.
func (c Config) DownloadTimeout() time.Duration { return seconds(c.Render.DownloadTimeoutSeconds) }

// BrowserActionTimeout bounds browser calls that carry no timeout of their own.
func (c Config) BrowserActionTimeout() time.Duration { return seconds(c.Browser.ActionTimeoutSeconds) }
