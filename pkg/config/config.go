package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Orders       OrdersConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Orders.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"CANTEEN_APP_ENV" required:"true"`
	Port         string   `envconfig:"CANTEEN_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"CANTEEN_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"CANTEEN_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"CANTEEN_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CANTEEN_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CANTEEN_DB_DSN"`
	Driver string `envconfig:"CANTEEN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CANTEEN_DB_HOST"`
	LegacyPort     int    `envconfig:"CANTEEN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CANTEEN_DB_USER"`
	LegacyPassword string `envconfig:"CANTEEN_DB_PASSWORD"`
	LegacyName     string `envconfig:"CANTEEN_DB_NAME"`
	LegacySSLMode  string `envconfig:"CANTEEN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CANTEEN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CANTEEN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CANTEEN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CANTEEN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CANTEEN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CANTEEN_REDIS_ADDR"`
	Password     string        `envconfig:"CANTEEN_REDIS_PASSWORD"`
	DB           int           `envconfig:"CANTEEN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CANTEEN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CANTEEN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CANTEEN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CANTEEN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CANTEEN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool   `envconfig:"CANTEEN_USE_SQLITE" default:"false"`
	SQLitePath  string `envconfig:"CANTEEN_SQLITE_PATH" default:"canteen.db"`
	AutoMigrate bool   `envconfig:"CANTEEN_AUTO_MIGRATE" default:"false"`
}

// OrdersConfig tunes the placement, refund and pickup code behaviour.
type OrdersConfig struct {
	TxMode                string        `envconfig:"CANTEEN_TX_MODE" default:"auto"`
	PickupCodePrefix      string        `envconfig:"CANTEEN_PICKUP_CODE_PREFIX" default:"RC-"`
	PickupCodeLength      int           `envconfig:"CANTEEN_PICKUP_CODE_LENGTH" default:"6"`
	AutoPrepareCategories []string      `envconfig:"CANTEEN_AUTO_PREPARE_CATEGORIES" default:"tuck shop,icecream"`
	ExternalCodeTTL       time.Duration `envconfig:"CANTEEN_EXTERNAL_CODE_TTL" default:"30m"`
	ReconcileAfter        time.Duration `envconfig:"CANTEEN_RECONCILE_AFTER" default:"15m"`
}

func (o OrdersConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(o.TxMode)) {
	case TxModeAuto, TxModeTransactional, TxModeBestEffort:
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvTxMode, TxModeAuto, TxModeTransactional, TxModeBestEffort)
	}
	if o.PickupCodeLength < 4 || o.PickupCodeLength > 8 {
		return fmt.Errorf("%s must be between 4 and 8", EnvPickupCodeLength)
	}
	return nil
}

// Mode returns the normalized unit-of-work mode.
func (o OrdersConfig) Mode() string {
	mode := strings.ToLower(strings.TrimSpace(o.TxMode))
	if mode == "" {
		return TxModeAuto
	}
	return mode
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CANTEEN_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CANTEEN_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CANTEEN_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"CANTEEN_PUBSUB_ORDERS_TOPIC" default:"canteen-order-events"`
	OrdersSubscription string `envconfig:"CANTEEN_PUBSUB_ORDERS_SUBSCRIPTION"`
	LedgerTopic        string `envconfig:"CANTEEN_PUBSUB_LEDGER_TOPIC" default:"canteen-ledger-events"`
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"CANTEEN_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"CANTEEN_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"CANTEEN_OUTBOX_MAX_ATTEMPTS" default:"10"`
	MetricsAddr    string `envconfig:"CANTEEN_OUTBOX_METRICS_ADDR" default:":9091"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"CANTEEN_CRON_INTERVAL" default:"5m"`
	LockKey  string        `envconfig:"CANTEEN_CRON_LOCK_KEY" default:"canteen:cron:lock"`
	LockTTL  time.Duration `envconfig:"CANTEEN_CRON_LOCK_TTL" default:"10m"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
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
