package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Defaults shared with other packages.
const (
	DefaultInferenceTimeout = 60 * time.Second
	DefaultPresignExpiry    = 60 * time.Second
	DefaultMaxObjectSize    = "25MB"
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("webserver.host", "")
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.readtimeout", 30*time.Second)
	viper.SetDefault("webserver.writetimeout", 90*time.Second)
	viper.SetDefault("webserver.idletimeout", 120*time.Second)
	viper.SetDefault("webserver.shutdowntimeout", 10*time.Second)
	viper.SetDefault("webserver.bodylimit", "1M")
	viper.SetDefault("webserver.allowedorigins", []string{"*"})

	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.jwksurl", "")
	viper.SetDefault("auth.issuer", "")
	viper.SetDefault("auth.audience", "")

	viper.SetDefault("database.driver", "")
	viper.SetDefault("database.sqlite.path", "spinescan.db")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", "3306")
	viper.SetDefault("database.mysql.username", "")
	viper.SetDefault("database.mysql.password", "")
	viper.SetDefault("database.mysql.database", "spinescan")
	viper.SetDefault("database.postgres.dsn", "")
	viper.SetDefault("database.slowquerythreshold", 200*time.Millisecond)
	viper.SetDefault("database.maxopenconns", 10)

	viper.SetDefault("storage.endpoint", "s3.amazonaws.com")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.bucket", "")
	viper.SetDefault("storage.accesskey", "")
	viper.SetDefault("storage.secretkey", "")
	viper.SetDefault("storage.usessl", true)
	viper.SetDefault("storage.createbucket", false)
	viper.SetDefault("storage.presignexpiry", DefaultPresignExpiry)
	viper.SetDefault("storage.maxobjectsize", DefaultMaxObjectSize)

	viper.SetDefault("inference.url", "http://localhost:8001")
	viper.SetDefault("inference.apikey", "")
	viper.SetDefault("inference.timeout", DefaultInferenceTimeout)
	viper.SetDefault("inference.maxidleconns", 10)

	viper.SetDefault("ratelimit.enabled", true)
	viper.SetDefault("ratelimit.runsperminute", 6)
	viper.SetDefault("ratelimit.burst", 3)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")
	viper.SetDefault("sentry.samplerate", 1.0)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "spinescan")
	viper.SetDefault("mqtt.clientid", "spinescan")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/spinescan.log")
}
