package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pricecollector/internal/fetcher"
	"pricecollector/internal/logger"
	"pricecollector/internal/scrape"
)

// Source types understood by the application wiring.
const (
	TypeVNDirect = "vndirect"
	TypeFmarket  = "fmarket"
	TypeScrape   = "scrape"
	TypeBrowser  = "browser"
)

// Config holds all configuration for the price collector.
type Config struct {
	Log     logger.Config `mapstructure:"log"`
	Run     RunConfig     `mapstructure:"run"`
	Assets  string        `mapstructure:"assets" default:"data/assets.csv" validate:"required"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Browser BrowserConfig `mapstructure:"browser"`
	Store   StoreConfig   `mapstructure:"store"`
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Sources are keyed by provider name. Chains name sources per asset class, in order.
	Sources map[string]SourceConfig `mapstructure:"sources" validate:"dive"`
	Chains  map[string][]string     `mapstructure:"chains"`
}

// RunConfig controls one collection run.
type RunConfig struct {
	Concurrency  int           `mapstructure:"concurrency" default:"4" validate:"min=1,max=64"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" default:"10m" validate:"gt=0"`
	Mode         string        `mapstructure:"mode" default:"full" validate:"oneof=cheap full"`
	Policy       string        `mapstructure:"policy" default:"skip-if-exists" validate:"oneof=skip-if-exists update-if-exists skip update"`
	// Timezone is the exchange timezone. It decides the run date and price dates.
	Timezone string `mapstructure:"timezone" default:"Asia/Ho_Chi_Minh" validate:"required"`
}

// RetryConfig is the per-adapter-call retry policy.
type RetryConfig struct {
	Attempts    int           `mapstructure:"attempts" default:"3" validate:"min=1,max=10"`
	Backoff     time.Duration `mapstructure:"backoff" validate:"gte=0"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" default:"10s" validate:"gte=0"`
	Exponential bool          `mapstructure:"exponential"`
	Jitter      time.Duration `mapstructure:"jitter" validate:"gte=0"`
	Retryable   []string      `mapstructure:"retryable" default:"[\"transport\"]" validate:"dive,oneof=transport parse pattern_not_found data_quality resource_unavailable"`
}

// BrowserConfig configures the shared headless browser.
type BrowserConfig struct {
	ExecPath string        `mapstructure:"exec_path"`
	Headless bool          `mapstructure:"headless"`
	PoolSize int           `mapstructure:"pool_size" default:"2" validate:"min=1,max=16"`
	Settle   time.Duration `mapstructure:"settle" default:"3s" validate:"gte=0"`
	Width    int           `mapstructure:"width" default:"1920"`
	Height   int           `mapstructure:"height" default:"1080"`
}

// StoreConfig selects where collected prices are merged and how runs are serialised.
type StoreConfig struct {
	Backend     string         `mapstructure:"backend" default:"csv" validate:"oneof=csv postgres"`
	Path        string         `mapstructure:"path" default:"data/daily_prices.csv"`
	Lock        string         `mapstructure:"lock" default:"file" validate:"oneof=file redis postgres none"`
	LockTimeout time.Duration  `mapstructure:"lock_timeout" default:"2m" validate:"gt=0"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	Redis       RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table" default:"daily_prices"`
	MaxConns int    `mapstructure:"max_conns" default:"4" validate:"min=1"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Key      string        `mapstructure:"key" default:"pricecollector:merge"`
	TTL      time.Duration `mapstructure:"ttl" default:"10m"`
}

type MetricsConfig struct {
	// Textfile is a node_exporter textfile collector path. Empty disables export.
	Textfile string `mapstructure:"textfile"`
}

// SourceConfig describes one provider. Which fields apply depends on Type.
type SourceConfig struct {
	Type    string       `mapstructure:"type" validate:"required,oneof=vndirect fmarket scrape browser"`
	BaseURL string       `mapstructure:"base_url" validate:"omitempty,url"`
	Classes []string     `mapstructure:"classes" validate:"dive,oneof=stock etf fund gold"`
	Unit    fetcher.Unit `mapstructure:"unit"`
	// Rate is requests per second against this provider. Negative disables limiting.
	Rate    float64       `mapstructure:"rate" default:"2"`
	Timeout time.Duration `mapstructure:"timeout" default:"10s"`
	// Lookback is the vndirect history window.
	Lookback time.Duration `mapstructure:"lookback"`
	// TTL is how long the fmarket listing is reused.
	TTL     time.Duration            `mapstructure:"ttl"`
	Targets map[string]scrape.Target `mapstructure:"targets"`
}

var (
	validate     = validator.New()
	dotenvOnce   sync.Once
	flagBindings = map[string]string{"run.mode": "mode", "run.policy": "policy", "assets": "assets"}
)

// envKeys are the scalar settings overridable as PRICES_<KEY>, e.g.
// PRICES_STORE_POSTGRES_DSN. Sources and chains are file-only.
var envKeys = []string{
	"log.level", "log.format", "log.output", "log.console",
	"run.concurrency", "run.fetch_timeout", "run.mode", "run.policy", "run.timezone",
	"assets",
	"retry.attempts", "retry.backoff", "retry.max_backoff", "retry.exponential", "retry.jitter",
	"browser.exec_path", "browser.headless", "browser.pool_size", "browser.settle",
	"store.backend", "store.path", "store.lock", "store.lock_timeout",
	"store.postgres.dsn", "store.postgres.table", "store.postgres.max_conns",
	"store.redis.addr", "store.redis.password", "store.redis.db", "store.redis.key",
	"metrics.textfile",
}

// LoadDotenvOnce loads ./.env into the environment unless NO_DOTENV=1.
// Variables already set are left untouched.
func LoadDotenvOnce() {
	dotenvOnce.Do(func() {
		if os.Getenv("NO_DOTENV") == "1" {
			return
		}
		if envFile := os.Getenv("ENV_FILE"); envFile != "" {
			_ = godotenv.Load(envFile)
			return
		}
		_ = godotenv.Load()
	})
}

// Load reads configuration from an optional YAML file, PRICES_* environment
// variables and the command line. Flags take precedence over the environment,
// the environment over the file.
//
// path may be empty, in which case prices.yaml is looked up in the working
// directory and $HOME/.pricecollector. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("PRICES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults whose zero value is meaningful live here rather than in struct tags.
	v.SetDefault("retry.backoff", "2s")
	v.SetDefault("retry.jitter", "1s")
	v.SetDefault("browser.headless", true)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("prices")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pricecollector")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is configured.
func Default() (*Config, error) {
	cfg := &Config{
		Retry:   RetryConfig{Backoff: 2 * time.Second, Jitter: time.Second},
		Browser: BrowserConfig{Headless: true},
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish fills defaults, normalises keys and validates.
func (c *Config) finish() error {
	if len(c.Sources) == 0 {
		c.Sources = DefaultSources()
	}
	if len(c.Chains) == 0 {
		c.Chains = DefaultChains()
	}
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("failed to apply defaults: %w", err)
	}
	c.normalize()
	return c.Validate()
}

// normalize undoes viper's key lowercasing where keys are asset codes.
func (c *Config) normalize() {
	for name, src := range c.Sources {
		if len(src.Targets) == 0 {
			continue
		}
		targets := make(map[string]scrape.Target, len(src.Targets))
		for code, t := range src.Targets {
			targets[strings.ToUpper(code)] = t
		}
		src.Targets = targets
		c.Sources[name] = src
	}
}

// Validate checks field rules and the references between sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var problems []string
	if _, err := time.LoadLocation(c.Run.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("run.timezone: %v", err))
	}
	if c.Store.Backend == "csv" && c.Store.Path == "" {
		problems = append(problems, "store.path is required for the csv backend")
	}
	if c.Store.Backend == "postgres" && c.Store.Postgres.DSN == "" {
		problems = append(problems, "store.postgres.dsn is required for the postgres backend")
	}
	if c.Store.Lock == "redis" && c.Store.Redis.Addr == "" {
		problems = append(problems, "store.redis.addr is required for the redis lock")
	}
	if c.Store.Lock == "postgres" && c.Store.Backend != "postgres" {
		problems = append(problems, "store.lock postgres needs the postgres backend")
	}
	for class, names := range c.Chains {
		switch class {
		case "stock", "etf", "fund", "gold":
		default:
			problems = append(problems, fmt.Sprintf("chains: unknown asset class %q", class))
		}
		for _, name := range names {
			if _, ok := c.Sources[name]; !ok {
				problems = append(problems, fmt.Sprintf("chains.%s: unknown source %q", class, name))
			}
		}
	}
	for name, src := range c.Sources {
		if (src.Type == TypeScrape || src.Type == TypeBrowser) && len(src.Targets) == 0 {
			problems = append(problems, fmt.Sprintf("sources.%s: %s source needs targets", name, src.Type))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location returns the configured exchange timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Run.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BrowserSources names the sources that need a browser session.
func (c *Config) BrowserSources() map[string]bool {
	names := make(map[string]bool)
	for name, src := range c.Sources {
		if src.Type == TypeBrowser {
			names[name] = true
		}
	}
	return names
}
