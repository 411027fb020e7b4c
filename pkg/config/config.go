package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "MEALMESH_DB_DSN"
	EnvDBHost = "MEALMESH_DB_HOST"
	EnvDBUser = "MEALMESH_DB_USER"
	EnvDBName = "MEALMESH_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Saga          SagaConfig
	Courier       CourierConfig
	Collaborators CollaboratorsConfig
	Cron          CronConfig
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
	Env          string `envconfig:"MEALMESH_APP_ENV" required:"true"`
	Port         string `envconfig:"MEALMESH_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"MEALMESH_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MEALMESH_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"MEALMESH_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MEALMESH_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MEALMESH_DB_DSN"`
	Driver string `envconfig:"MEALMESH_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MEALMESH_DB_HOST"`
	LegacyPort     int    `envconfig:"MEALMESH_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MEALMESH_DB_USER"`
	LegacyPassword string `envconfig:"MEALMESH_DB_PASSWORD"`
	LegacyName     string `envconfig:"MEALMESH_DB_NAME"`
	LegacySSLMode  string `envconfig:"MEALMESH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MEALMESH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MEALMESH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MEALMESH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MEALMESH_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MEALMESH_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MEALMESH_REDIS_ADDR"`
	Password     string        `envconfig:"MEALMESH_REDIS_PASSWORD"`
	DB           int           `envconfig:"MEALMESH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MEALMESH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MEALMESH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MEALMESH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MEALMESH_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MEALMESH_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MEALMESH_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"MEALMESH_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MEALMESH_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrderEventsTopic            string `envconfig:"MEALMESH_PUBSUB_ORDER_EVENTS_TOPIC" default:"mm-order-events"`
	CourierCommandsTopic        string `envconfig:"MEALMESH_PUBSUB_COURIER_COMMANDS_TOPIC" default:"mm-courier-commands"`
	CourierCommandsSubscription string `envconfig:"MEALMESH_PUBSUB_COURIER_COMMANDS_SUBSCRIPTION"`
	SagaRepliesTopic            string `envconfig:"MEALMESH_PUBSUB_SAGA_REPLIES_TOPIC" default:"mm-saga-replies"`
	SagaRepliesSubscription     string `envconfig:"MEALMESH_PUBSUB_SAGA_REPLIES_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"MEALMESH_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"MEALMESH_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"MEALMESH_OUTBOX_MAX_ATTEMPTS" default:"10"`
	ClaimWindow    time.Duration `envconfig:"MEALMESH_OUTBOX_CLAIM_WINDOW" default:"60s"`
	RetentionDays  int           `envconfig:"MEALMESH_OUTBOX_RETENTION_DAYS" default:"30"`
}

type SagaConfig struct {
	StepTimeout         time.Duration `envconfig:"MEALMESH_SAGA_STEP_TIMEOUT" default:"10s"`
	ReplyTimeout        time.Duration `envconfig:"MEALMESH_SAGA_REPLY_TIMEOUT" default:"2m"`
	CompensationRetries int           `envconfig:"MEALMESH_SAGA_COMPENSATION_RETRIES" default:"3"`
	ConflictRetries     int           `envconfig:"MEALMESH_SAGA_CONFLICT_RETRIES" default:"3"`
}

type CourierConfig struct {
	FleetSize      int           `envconfig:"MEALMESH_COURIER_FLEET_SIZE" default:"10"`
	IdempotencyTTL time.Duration `envconfig:"MEALMESH_COURIER_IDEMPOTENCY_TTL" default:"24h"`
}

type CollaboratorsConfig struct {
	ConsumerBaseURL   string        `envconfig:"MEALMESH_CONSUMER_SERVICE_URL" required:"true"`
	RestaurantBaseURL string        `envconfig:"MEALMESH_RESTAURANT_SERVICE_URL" required:"true"`
	RequestTimeout    time.Duration `envconfig:"MEALMESH_COLLABORATOR_TIMEOUT" default:"10s"`
	BreakerMaxFails   int           `envconfig:"MEALMESH_COLLABORATOR_BREAKER_MAX_FAILS" default:"5"`
	BreakerOpenFor    time.Duration `envconfig:"MEALMESH_COLLABORATOR_BREAKER_OPEN_FOR" default:"30s"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"MEALMESH_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"MEALMESH_CRON_LOCK_TTL" default:"5m"`
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
