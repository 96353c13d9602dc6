package config

// EnvPrefix is the envconfig prefix for every CoreCast variable.
const EnvPrefix = "corecast"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

const (
	EnvAppEnv            = "CORECAST_APP_ENV"
	EnvPort              = "CORECAST_APP_PORT"
	EnvDBDSN             = "CORECAST_DB_DSN"
	EnvDBHost            = "CORECAST_DB_HOST"
	EnvDBUser            = "CORECAST_DB_USER"
	EnvDBName            = "CORECAST_DB_NAME"
	EnvRedisURL          = "CORECAST_REDIS_URL"
	EnvGCPProjectID      = "CORECAST_GCP_PROJECT_ID"
	EnvPubSubJobsTopic   = "CORECAST_PUBSUB_JOBS_TOPIC"
	EnvPubSubJobsSub     = "CORECAST_PUBSUB_JOBS_SUBSCRIPTION"
	EnvNjordBaseURL      = "CORECAST_NJORD_BASE_URL"
	EnvServiceAuthSecret = "CORECAST_SERVICE_AUTH_SECRET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
