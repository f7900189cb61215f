package conf

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/labstack/gommon/bytes"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateWebServerSettings,
		validateAuthSettings,
		validateDatabaseSettings,
		validateStorageSettings,
		validateInferenceSettings,
		validateRateLimitSettings,
		validateSentrySettings,
		validateMQTTSettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateWebServerSettings(s *Settings) error {
	ws := &s.WebServer
	if ws.Port == "" {
		return fmt.Errorf("webserver.port is required")
	}
	if ws.ReadTimeout <= 0 || ws.WriteTimeout <= 0 {
		return fmt.Errorf("webserver read and write timeouts must be positive")
	}
	// Run-inference responds synchronously
	if ws.WriteTimeout <= s.Inference.Timeout {
		return fmt.Errorf("webserver.writetimeout (%s) must exceed inference.timeout (%s)", ws.WriteTimeout, s.Inference.Timeout)
	}
	if _, err := bytes.Parse(ws.BodyLimit); err != nil {
		return fmt.Errorf("webserver.bodylimit %q: %w", ws.BodyLimit, err)
	}
	return nil
}

func validateAuthSettings(s *Settings) error {
	if s.Auth.JWTSecret == "" && s.Auth.JWKSURL == "" {
		return fmt.Errorf("auth.jwtsecret or auth.jwksurl is required")
	}
	if s.Auth.JWTSecret != "" && len(s.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwtsecret must be at least 32 characters")
	}
	if s.Auth.JWKSURL != "" {
		if err := validateAbsoluteURL(s.Auth.JWKSURL); err != nil {
			return fmt.Errorf("auth.jwksurl: %w", err)
		}
	}
	return nil
}

func validateDatabaseSettings(s *Settings) error {
	db := &s.Database
	switch db.Driver {
	case DriverSQLite:
		if db.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case DriverMySQL:
		if db.MySQL.Host == "" || db.MySQL.Database == "" || db.MySQL.Username == "" {
			return fmt.Errorf("database.mysql host, database and username are required")
		}
	case DriverPostgres:
		if db.Postgres.DSN == "" {
			return fmt.Errorf("database.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (sqlite, mysql, postgres)", db.Driver)
	}
	if db.MaxOpenConns < 0 {
		return fmt.Errorf("database.maxopenconns must not be negative")
	}
	return nil
}

func validateStorageSettings(s *Settings) error {
	st := &s.Storage
	if st.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if st.Endpoint == "" {
		return fmt.Errorf("storage.endpoint is required")
	}
	if strings.Contains(st.Endpoint, "://") {
		return fmt.Errorf("storage.endpoint must be host[:port] without scheme, use storage.usessl")
	}
	if st.PresignExpiry <= 0 {
		return fmt.Errorf("storage.presignexpiry must be positive")
	}
	if _, err := bytes.Parse(st.MaxObjectSize); err != nil {
		return fmt.Errorf("storage.maxobjectsize %q: %w", st.MaxObjectSize, err)
	}
	return nil
}

func validateInferenceSettings(s *Settings) error {
	if err := validateAbsoluteURL(s.Inference.URL); err != nil {
		return fmt.Errorf("inference.url: %w", err)
	}
	if s.Inference.Timeout <= 0 {
		return fmt.Errorf("inference.timeout must be positive")
	}
	return nil
}

func validateRateLimitSettings(s *Settings) error {
	if !s.RateLimit.Enabled {
		return nil
	}
	if s.RateLimit.RunsPerMinute <= 0 || s.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit.runsperminute and ratelimit.burst must be positive")
	}
	return nil
}

func validateSentrySettings(s *Settings) error {
	if !s.Sentry.Enabled {
		return nil
	}
	if s.Sentry.DSN == "" {
		return fmt.Errorf("sentry.dsn is required when sentry is enabled")
	}
	if s.Sentry.SampleRate < 0 || s.Sentry.SampleRate > 1 {
		return fmt.Errorf("sentry.samplerate must be between 0 and 1")
	}
	return nil
}

func validateMQTTSettings(s *Settings) error {
	if !s.MQTT.Enabled {
		return nil
	}
	if s.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if s.MQTT.Topic == "" {
		return fmt.Errorf("mqtt.topic is required when mqtt is enabled")
	}
	if s.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return nil
}
