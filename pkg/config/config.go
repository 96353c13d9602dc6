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
	DB           DBConfig
	Redis        RedisConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Njord        NjordConfig
	Paddle       PaddleConfig
	ServiceAuth  ServiceAuthConfig
	FeatureFlags FeatureFlagsConfig
	Webhook      WebhookConfig
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
	Env          string `envconfig:"CORECAST_APP_ENV" required:"true"`
	Port         string `envconfig:"CORECAST_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CORECAST_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CORECAST_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CORECAST_DB_DSN"`
	Driver string `envconfig:"CORECAST_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CORECAST_DB_HOST"`
	LegacyPort     int    `envconfig:"CORECAST_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CORECAST_DB_USER"`
	LegacyPassword string `envconfig:"CORECAST_DB_PASSWORD"`
	LegacyName     string `envconfig:"CORECAST_DB_NAME"`
	LegacySSLMode  string `envconfig:"CORECAST_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CORECAST_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CORECAST_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CORECAST_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CORECAST_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CORECAST_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CORECAST_REDIS_ADDR"`
	Password     string        `envconfig:"CORECAST_REDIS_PASSWORD"`
	DB           int           `envconfig:"CORECAST_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CORECAST_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CORECAST_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CORECAST_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CORECAST_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CORECAST_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CORECAST_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"CORECAST_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CORECAST_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	JobsTopic                string `envconfig:"CORECAST_PUBSUB_JOBS_TOPIC" required:"true"`
	JobsSubscription         string `envconfig:"CORECAST_PUBSUB_JOBS_SUBSCRIPTION" required:"true"`
	NotificationTopic        string `envconfig:"CORECAST_PUBSUB_NOTIFICATION_TOPIC" default:"cc-notification-events"`
	NotificationSubscription string `envconfig:"CORECAST_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

// NjordConfig configures the external balance service client, including the
// circuit breaker that guards it.
type NjordConfig struct {
	BaseURL            string        `envconfig:"CORECAST_NJORD_BASE_URL" required:"true"`
	APIKey             string        `envconfig:"CORECAST_NJORD_API_KEY"`
	Timeout            time.Duration `envconfig:"CORECAST_NJORD_TIMEOUT" default:"10s"`
	BreakerWindow      time.Duration `envconfig:"CORECAST_NJORD_BREAKER_WINDOW" default:"60s"`
	BreakerCooldown    time.Duration `envconfig:"CORECAST_NJORD_BREAKER_COOLDOWN" default:"30s"`
	BreakerMinRequests uint32        `envconfig:"CORECAST_NJORD_BREAKER_MIN_REQUESTS" default:"10"`
	BreakerRatio       float64       `envconfig:"CORECAST_NJORD_BREAKER_RATIO" default:"0.5"`
}

type PaddleConfig struct {
	VendorID           string        `envconfig:"CORECAST_PADDLE_VENDOR_ID"`
	VendorAuthKey      string        `envconfig:"CORECAST_PADDLE_VENDOR_AUTH_KEY"`
	APIBaseURL         string        `envconfig:"CORECAST_PADDLE_API_BASE_URL" default:"https://vendors.paddle.com/api/2.0"`
	Timeout            time.Duration `envconfig:"CORECAST_PADDLE_TIMEOUT" default:"10s"`
	CheckoutConfirmURL string        `envconfig:"CORECAST_PADDLE_CHECKOUT_CONFIRM_URL"`
}

// ServiceAuthConfig holds the shared secret used to verify bearer tokens on
// service-to-service endpoints such as the job status API.
type ServiceAuthConfig struct {
	Secret string `envconfig:"CORECAST_SERVICE_AUTH_SECRET" required:"true"`
	Issuer string `envconfig:"CORECAST_SERVICE_AUTH_ISSUER" default:"corecast"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CORECAST_AUTO_MIGRATE" default:"false"`
}

type WebhookConfig struct {
	DedupTTL time.Duration `envconfig:"CORECAST_WEBHOOK_DEDUP_TTL" default:"720h"`
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
