package config

const (
	EnvPrefix = "ECHOWRITE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "ECHOWRITE_DB_DSN"
	EnvDBHost = "ECHOWRITE_DB_HOST"
	EnvDBUser = "ECHOWRITE_DB_USER"
	EnvDBName = "ECHOWRITE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
