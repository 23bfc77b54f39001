package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Provider ProviderConfig
	LLM      LLMConfig
	Quota    QuotaConfig
	Features FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ECHOWRITE_APP_ENV" required:"true"`
	Port         string `envconfig:"ECHOWRITE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ECHOWRITE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ECHOWRITE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"ECHOWRITE_DB_DSN"`

	LegacyHost     string `envconfig:"ECHOWRITE_DB_HOST"`
	LegacyPort     int    `envconfig:"ECHOWRITE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ECHOWRITE_DB_USER"`
	LegacyPassword string `envconfig:"ECHOWRITE_DB_PASSWORD"`
	LegacyName     string `envconfig:"ECHOWRITE_DB_NAME"`
	LegacySSLMode  string `envconfig:"ECHOWRITE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ECHOWRITE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ECHOWRITE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ECHOWRITE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ECHOWRITE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ECHOWRITE_REDIS_URL"`
	Address      string        `envconfig:"ECHOWRITE_REDIS_ADDR"`
	Password     string        `envconfig:"ECHOWRITE_REDIS_PASSWORD"`
	DB           int           `envconfig:"ECHOWRITE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ECHOWRITE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ECHOWRITE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ECHOWRITE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ECHOWRITE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ECHOWRITE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Configured reports whether any redis endpoint was provided. Redis is
// optional: without it quota checks fall back to database counting.
func (r RedisConfig) Configured() bool {
	return r.URL != "" || r.Address != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"ECHOWRITE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ECHOWRITE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ECHOWRITE_JWT_EXPIRATION_MINUTES" default:"60"`
}

// ProviderConfig carries the payment-provider credentials and the product
// mapping for paid plans.
type ProviderConfig struct {
	APIKey           string        `envconfig:"ECHOWRITE_PROVIDER_API_KEY"`
	WebhookSecret    string        `envconfig:"ECHOWRITE_PROVIDER_WEBHOOK_SECRET"`
	Env              string        `envconfig:"ECHOWRITE_PROVIDER_ENV" default:"test"`
	StarterProductID string        `envconfig:"ECHOWRITE_PROVIDER_STARTER_PRODUCT_ID"`
	ProProductID     string        `envconfig:"ECHOWRITE_PROVIDER_PRO_PRODUCT_ID"`
	PricingCacheTTL  time.Duration `envconfig:"ECHOWRITE_PROVIDER_PRICING_CACHE_TTL" default:"60s"`
	WebhookEventTTL  time.Duration `envconfig:"ECHOWRITE_PROVIDER_WEBHOOK_EVENT_TTL" default:"72h"`
}

// Environment returns the normalized provider environment (test/live).
func (p ProviderConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(p.Env))
	if env == "" {
		return "test"
	}
	return env
}

type LLMConfig struct {
	APIKey  string        `envconfig:"ECHOWRITE_LLM_API_KEY"`
	BaseURL string        `envconfig:"ECHOWRITE_LLM_BASE_URL" default:"https://api.openai.com/v1"`
	Model   string        `envconfig:"ECHOWRITE_LLM_MODEL" default:"gpt-4o-mini"`
	Timeout time.Duration `envconfig:"ECHOWRITE_LLM_TIMEOUT" default:"30s"`
}

type QuotaConfig struct {
	FreeDailyReplies int `envconfig:"ECHOWRITE_QUOTA_FREE_DAILY_REPLIES" default:"5"`
	FreeDailyTweets  int `envconfig:"ECHOWRITE_QUOTA_FREE_DAILY_TWEETS" default:"2"`

	// Burst throttle on the generate endpoints, enforced per user ahead of
	// the daily quota. Zero disables it.
	GenerateRateLimit  int           `envconfig:"ECHOWRITE_QUOTA_GENERATE_RATE_LIMIT" default:"10"`
	GenerateRateWindow time.Duration `envconfig:"ECHOWRITE_QUOTA_GENERATE_RATE_WINDOW" default:"1m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ECHOWRITE_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
