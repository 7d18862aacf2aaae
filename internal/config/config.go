package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/amazon-rank-scraper/internal/locale"
)

const (
	ProviderRender  = "render"
	ProviderDirect  = "direct"
	ProviderBrowser = "browser"
)

type Config struct {
	Server     ServerConfig
	Fetch      FetchConfig
	Enrichment EnrichmentConfig
	Browser    BrowserConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Queue      QueueConfig
	Output     OutputConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type FetchConfig struct {
	Provider          string
	ScraperAPIKey     string
	ScraperAPIURL     string
	FirecrawlKey      string
	FirecrawlURL      string
	Timeout           time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	MinResponseLength int
	RateLimit         float64
	RateBurst         int
	CacheSize         int
	UserAgents        []string
}

type EnrichmentConfig struct {
	Country          string
	MaxProducts      int
	Concurrency      int
	RankAttempts     int
	RankRetryDelay   time.Duration
	RootRankFallback bool
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Enabled        bool
	Addr           string
	Password       string
	DB             int
	Stream         string
	RelayInterval  time.Duration
	RelayBatchSize int
	ConsumerGroup  string
	ConsumerName   string
}

type QueueConfig struct {
	MaxSize int
}

type OutputConfig struct {
	Dir        string
	SQLitePath string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Fetch: FetchConfig{
			Provider:          getEnvOrDefault("FETCH_PROVIDER", ProviderRender),
			ScraperAPIKey:     getEnvOrDefault("SCRAPERAPI_KEY", ""),
			ScraperAPIURL:     getEnvOrDefault("SCRAPERAPI_URL", "http://api.scraperapi.com/"),
			FirecrawlKey:      getEnvOrDefault("FIRECRAWL_KEY", ""),
			FirecrawlURL:      getEnvOrDefault("FIRECRAWL_URL", "https://api.firecrawl.dev/v1/scrape"),
			Timeout:           getDurationOrDefault("FETCH_TIMEOUT", 90*time.Second),
			MaxRetries:        getIntOrDefault("FETCH_MAX_RETRIES", 3),
			RetryBackoff:      getDurationOrDefault("FETCH_RETRY_BACKOFF", time.Second),
			MinResponseLength: getIntOrDefault("FETCH_MIN_RESPONSE_LENGTH", 1000),
			RateLimit:         getFloatOrDefault("FETCH_RATE_LIMIT", 2),
			RateBurst:         getIntOrDefault("FETCH_RATE_BURST", 2),
			CacheSize:         getIntOrDefault("FETCH_CACHE_SIZE", 0),
			UserAgents:        getStringSliceOrDefault("FETCH_USER_AGENTS", defaultUserAgents()),
		},
		Enrichment: EnrichmentConfig{
			Country:          getEnvOrDefault("ENRICH_COUNTRY", "uk"),
			MaxProducts:      getIntOrDefault("ENRICH_MAX_PRODUCTS", 10),
			Concurrency:      getIntOrDefault("ENRICH_CONCURRENCY", 2),
			RankAttempts:     getIntOrDefault("ENRICH_RANK_ATTEMPTS", 3),
			RankRetryDelay:   getDurationOrDefault("ENRICH_RANK_RETRY_DELAY", 2*time.Second),
			RootRankFallback: getBoolOrDefault("ENRICH_ROOT_RANK_FALLBACK", false),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "amazon_ranks"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:        getBoolOrDefault("REDIS_ENABLED", false),
			Addr:           getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:       getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:             getIntOrDefault("REDIS_DB", 0),
			Stream:         getEnvOrDefault("REDIS_STREAM", "stream:keyword_runs"),
			RelayInterval:  getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			RelayBatchSize: getIntOrDefault("RELAY_BATCH_SIZE", 100),
			ConsumerGroup:  getEnvOrDefault("REDIS_CONSUMER_GROUP", "rank-consumer-group"),
			ConsumerName:   getEnvOrDefault("REDIS_CONSUMER_NAME", "consumer-1"),
		},
		Queue: QueueConfig{
			MaxSize: getIntOrDefault("QUEUE_MAX_SIZE", 100),
		},
		Output: OutputConfig{
			Dir:        getEnvOrDefault("OUTPUT_DIR", "output"),
			SQLitePath: getEnvOrDefault("OUTPUT_SQLITE_PATH", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolOrDefault("METRICS_ENABLED", true),
			Path:    getEnvOrDefault("METRICS_PATH", "/metrics"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := locale.Lookup(c.Enrichment.Country); err != nil {
		return fmt.Errorf("ENRICH_COUNTRY: %w", err)
	}

	if c.Enrichment.Concurrency < 1 {
		return fmt.Errorf("ENRICH_CONCURRENCY must be at least 1")
	}

	if c.Enrichment.MaxProducts < 1 {
		return fmt.Errorf("ENRICH_MAX_PRODUCTS must be at least 1")
	}

	if c.Enrichment.RankAttempts < 1 {
		return fmt.Errorf("ENRICH_RANK_ATTEMPTS must be at least 1")
	}

	if c.Fetch.MaxRetries < 1 {
		return fmt.Errorf("FETCH_MAX_RETRIES must be at least 1")
	}

	if c.Fetch.RateLimit <= 0 {
		return fmt.Errorf("FETCH_RATE_LIMIT must be positive")
	}

	switch c.Fetch.Provider {
	case ProviderRender:
		if c.Fetch.ScraperAPIKey == "" || c.Fetch.FirecrawlKey == "" {
			return fmt.Errorf("SCRAPERAPI_KEY and FIRECRAWL_KEY are required for the render provider")
		}
	case ProviderDirect, ProviderBrowser:
	default:
		return fmt.Errorf("unknown FETCH_PROVIDER %q", c.Fetch.Provider)
	}

	if c.Queue.MaxSize < 1 {
		return fmt.Errorf("QUEUE_MAX_SIZE must be at least 1")
	}

	if c.Redis.Enabled && !c.Database.Enabled {
		return fmt.Errorf("REDIS_ENABLED requires DB_ENABLED, events are relayed from the postgres outbox")
	}

	return nil
}

// ConnectionString builds the pgx DSN.
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}
