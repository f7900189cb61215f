package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every automatically bound environment variable, e.g.
// SPINESCAN_WEBSERVER_PORT for webserver.port.
const EnvPrefix = "SPINESCAN"

// envBinding maps a config key to conventional environment variable names
type envBinding struct {
	ConfigKey string
	EnvVars   []string
	Validate  func(string) error
}

// getEnvBindings returns bindings for the variable names used by existing
// deployments of the web application and the inference service.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"inference.url", []string{"INFERENCE_URL"}, validateEnvURL},
		{"inference.apikey", []string{"INFERENCE_API_KEY"}, nil},
		{"inference.timeout", []string{"INFERENCE_TIMEOUT"}, validateEnvDuration},
		{"database.postgres.dsn", []string{"DATABASE_URL"}, validateEnvURL},
		{"storage.region", []string{"AWS_REGION"}, nil},
		{"storage.accesskey", []string{"AWS_ACCESS_KEY_ID"}, nil},
		{"storage.secretkey", []string{"AWS_SECRET_ACCESS_KEY"}, nil},
		{"storage.bucket", []string{"AWS_S3_BUCKET"}, nil},
		{"storage.endpoint", []string{"S3_ENDPOINT"}, nil},
		{"auth.jwtsecret", []string{"JWT_SECRET"}, nil},
		{"auth.jwksurl", []string{"JWKS_URL"}, validateEnvURL},
		{"sentry.dsn", []string{"SENTRY_DSN"}, validateEnvURL},
		{"webserver.port", []string{"PORT"}, validateEnvPort},
		{"debug", []string{"DEBUG"}, validateEnvBool},
	}
}

// bindEnvVars enables prefixed automatic env lookup and binds conventional
// names. Invalid values are collected and returned as one error.
func bindEnvVars() error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var warnings []string
	for _, binding := range getEnvBindings() {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(binding.ConfigKey, ".", "_"))
		names := append([]string{prefixed}, binding.EnvVars...)
		if err := viper.BindEnv(append([]string{binding.ConfigKey}, names...)...); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.ConfigKey, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		for _, name := range names {
			if value := os.Getenv(name); value != "" {
				if err := binding.Validate(value); err != nil {
					warnings = append(warnings, fmt.Sprintf("invalid %s value: %v", name, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("must be a port number between 1 and 65535")
	}
	return nil
}
