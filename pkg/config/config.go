package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "CHANNELSYNC"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "CHANNELSYNC_DB_DSN"
	EnvDBHost = "CHANNELSYNC_DB_HOST"
	EnvDBUser = "CHANNELSYNC_DB_USER"
	EnvDBName = "CHANNELSYNC_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Webhook      WebhookConfig
	Jobs         JobsConfig
	FeatureFlags FeatureFlagsConfig
	Square       SquareConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
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
	Env          string `envconfig:"CHANNELSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"CHANNELSYNC_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CHANNELSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CHANNELSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CHANNELSYNC_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CHANNELSYNC_DB_DSN"`
	Driver string `envconfig:"CHANNELSYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CHANNELSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"CHANNELSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CHANNELSYNC_DB_USER"`
	LegacyPassword string `envconfig:"CHANNELSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"CHANNELSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"CHANNELSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CHANNELSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CHANNELSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CHANNELSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CHANNELSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CHANNELSYNC_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CHANNELSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"CHANNELSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"CHANNELSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CHANNELSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CHANNELSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CHANNELSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CHANNELSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CHANNELSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// WebhookConfig covers the inbound webhook boundary.
type WebhookConfig struct {
	// ReplayGuardTTL bounds how long a delivered event id is remembered for
	// coalescing byte-identical redeliveries.
	ReplayGuardTTL time.Duration `envconfig:"CHANNELSYNC_WEBHOOK_REPLAY_TTL" default:"72h"`
}

// JobsConfig tunes the async job runner.
type JobsConfig struct {
	BatchSize      int `envconfig:"CHANNELSYNC_JOBS_BATCH_SIZE" default:"20"`
	PollIntervalMS int `envconfig:"CHANNELSYNC_JOBS_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CHANNELSYNC_JOBS_MAX_ATTEMPTS" default:"10"`

	// CatalogSyncInterval spaces the periodic catalog refresh per active
	// integration. Identity coalescing keeps overlapping schedules to one
	// unfinished job.
	CatalogSyncInterval time.Duration `envconfig:"CHANNELSYNC_JOBS_CATALOG_SYNC_INTERVAL" default:"6h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CHANNELSYNC_AUTO_MIGRATE" default:"false"`
}

// SquareConfig holds credentials for the Square-backed adapter.
type SquareConfig struct {
	AccessToken string `envconfig:"CHANNELSYNC_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"CHANNELSYNC_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment.
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type GCPConfig struct {
	ProjectID string `envconfig:"CHANNELSYNC_GCP_PROJECT_ID"`
}

// PubSubConfig names the topic connector lifecycle events are fanned out to.
// Leaving the topic empty disables fan-out entirely.
type PubSubConfig struct {
	EventsTopic string `envconfig:"CHANNELSYNC_PUBSUB_EVENTS_TOPIC"`
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
