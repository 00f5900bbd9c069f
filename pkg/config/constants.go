package config

const EnvPrefix = "CANTEEN"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	TxModeAuto          = "auto"
	TxModeTransactional = "transactional"
	TxModeBestEffort    = "best_effort"
)

const (
	EnvAppEnv           = "CANTEEN_APP_ENV"
	EnvPort             = "CANTEEN_APP_PORT"
	EnvDBDSN            = "CANTEEN_DB_DSN"
	EnvDBHost           = "CANTEEN_DB_HOST"
	EnvDBUser           = "CANTEEN_DB_USER"
	EnvDBName           = "CANTEEN_DB_NAME"
	EnvUseSQLite        = "CANTEEN_USE_SQLITE"
	EnvRedisURL         = "CANTEEN_REDIS_URL"
	EnvTxMode           = "CANTEEN_TX_MODE"
	EnvPickupCodeLength = "CANTEEN_PICKUP_CODE_LENGTH"
	EnvAutoPrepare      = "CANTEEN_AUTO_PREPARE_CATEGORIES"
	EnvExternalCodeTTL  = "CANTEEN_EXTERNAL_CODE_TTL"
	EnvGCPProjectID     = "CANTEEN_GCP_PROJECT_ID"
	EnvPubSubOrders     = "CANTEEN_PUBSUB_ORDERS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
