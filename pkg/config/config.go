package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "regrelay"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "REGRELAY_APP_ENV"
	EnvDBDSN    = "REGRELAY_DB_DSN"
	EnvDBHost   = "REGRELAY_DB_HOST"
	EnvDBUser   = "REGRELAY_DB_USER"
	EnvDBName   = "REGRELAY_DB_NAME"
	EnvRedisURL = "REGRELAY_REDIS_URL"

	EnvGCPProjectID     = "REGRELAY_GCP_PROJECT_ID"
	EnvLifeEventSub     = "REGRELAY_PUBSUB_LIFE_EVENT_SUBSCRIPTION"
	EnvAccountChangeSub = "REGRELAY_PUBSUB_ACCOUNT_CHANGE_SUBSCRIPTION"
	EnvLegacyTopic      = "REGRELAY_PUBSUB_LEGACY_TOPIC"
	EnvChangeTopic      = "REGRELAY_PUBSUB_CHANGE_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Transfer     TransferConfig
	Publish      PublishConfig
	Retention    RetentionConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"REGRELAY_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"REGRELAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"REGRELAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"REGRELAY_SERVICE_KIND" default:"worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"REGRELAY_DB_DSN"`
	Driver string `envconfig:"REGRELAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"REGRELAY_DB_HOST"`
	LegacyPort     int    `envconfig:"REGRELAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"REGRELAY_DB_USER"`
	LegacyPassword string `envconfig:"REGRELAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"REGRELAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"REGRELAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"REGRELAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"REGRELAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REGRELAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"REGRELAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REGRELAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"REGRELAY_REDIS_ADDR"`
	Password     string        `envconfig:"REGRELAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"REGRELAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REGRELAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REGRELAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REGRELAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REGRELAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REGRELAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"REGRELAY_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"REGRELAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"REGRELAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LifeEventSubscription     string `envconfig:"REGRELAY_PUBSUB_LIFE_EVENT_SUBSCRIPTION" required:"true"`
	AccountChangeSubscription string `envconfig:"REGRELAY_PUBSUB_ACCOUNT_CHANGE_SUBSCRIPTION" required:"true"`
	LegacyTopic               string `envconfig:"REGRELAY_PUBSUB_LEGACY_TOPIC" required:"true"`
	ChangeTopic               string `envconfig:"REGRELAY_PUBSUB_CHANGE_TOPIC" required:"true"`
}

// TransferConfig drives the job that forwards debounced events to the legacy
// system. The debounce keeps a record in RECEIVED long enough for a
// correction or annulment to arrive and cancel it first.
type TransferConfig struct {
	Interval        time.Duration `envconfig:"REGRELAY_TRANSFER_INTERVAL" default:"10m"`
	Destination     string        `envconfig:"REGRELAY_TRANSFER_DESTINATION" default:"legacy-intake"`
	DebounceMinutes int           `envconfig:"REGRELAY_TRANSFER_DEBOUNCE_MINUTES" default:"120"`
	MaxBatchSize    int           `envconfig:"REGRELAY_TRANSFER_MAX_BATCH_SIZE" default:"6500"`
	LockMinHold     time.Duration `envconfig:"REGRELAY_TRANSFER_LOCK_MIN_HOLD" default:"10m"`
	LockMaxHold     time.Duration `envconfig:"REGRELAY_TRANSFER_LOCK_MAX_HOLD" default:"1h"`
}

// PublishConfig drives the job that publishes one change notification per
// subject to the internal topic.
type PublishConfig struct {
	Interval       time.Duration `envconfig:"REGRELAY_PUBLISH_INTERVAL" default:"15m"`
	MaxBatchSize   int           `envconfig:"REGRELAY_PUBLISH_MAX_BATCH_SIZE" default:"2000"`
	ReceivedGrace  time.Duration `envconfig:"REGRELAY_PUBLISH_RECEIVED_GRACE" default:"5m"`
	PublishedGrace time.Duration `envconfig:"REGRELAY_PUBLISH_PUBLISHED_GRACE" default:"30m"`
	MaxAttempts    int           `envconfig:"REGRELAY_PUBLISH_MAX_ATTEMPTS" default:"3"`
	LockMinHold    time.Duration `envconfig:"REGRELAY_PUBLISH_LOCK_MIN_HOLD" default:"1m"`
	LockMaxHold    time.Duration `envconfig:"REGRELAY_PUBLISH_LOCK_MAX_HOLD" default:"30m"`
}

// RetentionConfig drives the cleanup job that deletes terminal records.
type RetentionConfig struct {
	Interval    time.Duration `envconfig:"REGRELAY_RETENTION_INTERVAL" default:"1h"`
	Days        int           `envconfig:"REGRELAY_RETENTION_DAYS" default:"7"`
	ChunkSize   int           `envconfig:"REGRELAY_RETENTION_CHUNK_SIZE" default:"65000"`
	LockMinHold time.Duration `envconfig:"REGRELAY_RETENTION_LOCK_MIN_HOLD" default:"30s"`
	LockMaxHold time.Duration `envconfig:"REGRELAY_RETENTION_LOCK_MAX_HOLD" default:"5m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"REGRELAY_AUTO_MIGRATE" default:"false"`
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
