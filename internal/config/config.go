package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultGraphAPIBaseURL   = "https://graph.facebook.com"
	DefaultGraphAPIVersion   = "v21.0"
	DefaultOpenAIBaseURL     = "https://api.openai.com"
	DefaultOpenAIModel       = "gpt-image-1"
	DefaultOpenAIImageSize   = "1024x1024"
	DefaultOutputFormat      = "jpeg"
	DefaultPublicDir         = "public"
	DefaultDedupeTTLSeconds  = 600
	DefaultDedupeMaxEntries  = 5000
	DefaultDailyLimit        = 1
	DefaultStateMaxIdleHours = 24 * 7
	DefaultArtifactMaxHours  = 24
	DefaultHousekeepingSched = "@every 10m"
	DefaultMinSourceBytes    = 5000
	DefaultFetchTimeoutSecs  = 15
	DefaultProviderTimeout   = 60
	DefaultQueueSize         = 256
	DefaultWorkers           = 4
	DefaultGenerationWorkers = 4
	DefaultSendRatePerSecond = 20

	GeneratorModeMock   = "mock"
	GeneratorModeOpenAI = "openai"

	ConsumeOnAttempt = "attempt"
	ConsumeOnSuccess = "success"
)

type Config struct {
	Log          LogConfig          `toml:"log"`
	Server       ServerConfig       `toml:"server"`
	Privacy      PrivacyConfig      `toml:"privacy"`
	Messenger    MessengerConfig    `toml:"messenger"`
	Dedupe       DedupeConfig       `toml:"dedupe"`
	Quota        QuotaConfig        `toml:"quota"`
	Conversation ConversationConfig `toml:"conversation"`
	Generation   GenerationConfig   `toml:"generation"`
	OpenAI       OpenAIConfig       `toml:"openai"`
	Styles       StylesConfig       `toml:"styles"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Housekeeping HousekeepingConfig `toml:"housekeeping"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr" validate:"required"`
}

// PrivacyConfig holds the HMAC pepper used to derive user keys. It is normally
// supplied through PRIVACY_PEPPER rather than the config file.
type PrivacyConfig struct {
	Pepper string `toml:"pepper"`
}

type MessengerConfig struct {
	AppSecret         string  `toml:"app_secret"`
	VerifyToken       string  `toml:"verify_token"`
	PageAccessToken   string  `toml:"page_access_token"`
	GraphAPIBaseURL   string  `toml:"graph_api_base_url" validate:"required,url"`
	GraphAPIVersion   string  `toml:"graph_api_version" validate:"required"`
	DryRun            bool    `toml:"dry_run"`
	QueueSize         int     `toml:"queue_size" validate:"gte=1"`
	Workers           int     `toml:"workers" validate:"gte=1,lte=64"`
	GenerationWorkers int     `toml:"generation_workers" validate:"gte=1,lte=64"`
	SendRatePerSecond float64 `toml:"send_rate_per_second" validate:"gt=0"`
	PrivacyPolicyURL  string  `toml:"privacy_policy_url" validate:"omitempty,url"`
}

type DedupeConfig struct {
	TTLSeconds int `toml:"ttl_seconds" validate:"gte=1"`
	MaxEntries int `toml:"max_entries" validate:"gte=1"`
}

func (c DedupeConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type QuotaConfig struct {
	DailyLimit int `toml:"daily_limit" validate:"gte=0"`
	// ConsumeOn selects whether a generation attempt or only a successful
	// generation consumes the daily allowance.
	ConsumeOn string `toml:"consume_on" validate:"oneof=attempt success"`
}

type ConversationConfig struct {
	MaxIdleHours int `toml:"max_idle_hours" validate:"gte=1"`
}

func (c ConversationConfig) MaxIdle() time.Duration {
	return time.Duration(c.MaxIdleHours) * time.Hour
}

type GenerationConfig struct {
	Mode                   string `toml:"mode" validate:"oneof=mock openai"`
	PublicBaseURL          string `toml:"public_base_url" validate:"omitempty,url"`
	PublicDir              string `toml:"public_dir" validate:"required"`
	MinSourceBytes         int    `toml:"min_source_bytes" validate:"gte=0"`
	FetchTimeoutSeconds    int    `toml:"fetch_timeout_seconds" validate:"gte=1"`
	ProviderTimeoutSeconds int    `toml:"provider_timeout_seconds" validate:"gte=1"`
	ArtifactMaxAgeHours    int    `toml:"artifact_max_age_hours" validate:"gte=1"`
}

func (c GenerationConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c GenerationConfig) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

func (c GenerationConfig) ArtifactMaxAge() time.Duration {
	return time.Duration(c.ArtifactMaxAgeHours) * time.Hour
}

type OpenAIConfig struct {
	APIKey       string `toml:"api_key"`
	BaseURL      string `toml:"base_url" validate:"required,url"`
	Model        string `toml:"model" validate:"required"`
	Size         string `toml:"size"`
	OutputFormat string `toml:"output_format" validate:"oneof=jpeg png webp"`
}

type StylesConfig struct {
	// CatalogPath optionally points to a YAML file replacing the built-in catalog.
	CatalogPath string `toml:"catalog_path"`
}

type PostgresConfig struct {
	// DSN enables the Postgres audit trail when set.
	DSN string `toml:"dsn"`
}

type HousekeepingConfig struct {
	Schedule string `toml:"schedule" validate:"required"`
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Messenger: MessengerConfig{
			GraphAPIBaseURL:   DefaultGraphAPIBaseURL,
			GraphAPIVersion:   DefaultGraphAPIVersion,
			QueueSize:         DefaultQueueSize,
			Workers:           DefaultWorkers,
			GenerationWorkers: DefaultGenerationWorkers,
			SendRatePerSecond: DefaultSendRatePerSecond,
		},
		Dedupe: DedupeConfig{
			TTLSeconds: DefaultDedupeTTLSeconds,
			MaxEntries: DefaultDedupeMaxEntries,
		},
		Quota: QuotaConfig{
			DailyLimit: DefaultDailyLimit,
			ConsumeOn:  ConsumeOnSuccess,
		},
		Conversation: ConversationConfig{
			MaxIdleHours: DefaultStateMaxIdleHours,
		},
		Generation: GenerationConfig{
			Mode:                   GeneratorModeMock,
			PublicDir:              DefaultPublicDir,
			MinSourceBytes:         DefaultMinSourceBytes,
			FetchTimeoutSeconds:    DefaultFetchTimeoutSecs,
			ProviderTimeoutSeconds: DefaultProviderTimeout,
			ArtifactMaxAgeHours:    DefaultArtifactMaxHours,
		},
		OpenAI: OpenAIConfig{
			BaseURL:      DefaultOpenAIBaseURL,
			Model:        DefaultOpenAIModel,
			Size:         DefaultOpenAIImageSize,
			OutputFormat: DefaultOutputFormat,
		},
		Housekeeping: HousekeepingConfig{
			Schedule: DefaultHousekeepingSched,
		},
	}
}

// Load reads the TOML file at path (missing file is not an error), applies
// environment overrides for secrets and validates the result.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnv(&cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var envOverrides = []struct {
	name string
	set  func(*Config, string)
}{
	{"PRIVACY_PEPPER", func(c *Config, v string) { c.Privacy.Pepper = v }},
	{"FB_APP_SECRET", func(c *Config, v string) { c.Messenger.AppSecret = v }},
	{"FB_VERIFY_TOKEN", func(c *Config, v string) { c.Messenger.VerifyToken = v }},
	{"FB_PAGE_ACCESS_TOKEN", func(c *Config, v string) { c.Messenger.PageAccessToken = v }},
	{"OPENAI_API_KEY", func(c *Config, v string) { c.OpenAI.APIKey = v }},
	{"APP_BASE_URL", func(c *Config, v string) { c.Generation.PublicBaseURL = v }},
	{"GENERATOR_MODE", func(c *Config, v string) { c.Generation.Mode = strings.ToLower(v) }},
	{"DATABASE_URL", func(c *Config, v string) { c.Postgres.DSN = v }},
	{"HTTP_ADDR", func(c *Config, v string) { c.Server.Addr = v }},
}

func applyEnv(cfg *Config, getenv func(string) string) {
	for _, o := range envOverrides {
		if v := strings.TrimSpace(getenv(o.name)); v != "" {
			o.set(cfg, v)
		}
	}
	cfg.Generation.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.Generation.PublicBaseURL), "/")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints declared in struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
