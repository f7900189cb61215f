package conf

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const maskedSecret = "********"

// MaskedYAML renders the effective settings as YAML with credentials masked.
func MaskedYAML(settings *Settings) ([]byte, error) {
	masked := *settings
	masked.Auth.JWTSecret = mask(masked.Auth.JWTSecret)
	masked.Database.MySQL.Password = mask(masked.Database.MySQL.Password)
	masked.Database.Postgres.DSN = mask(masked.Database.Postgres.DSN)
	masked.Storage.AccessKey = mask(masked.Storage.AccessKey)
	masked.Storage.SecretKey = mask(masked.Storage.SecretKey)
	masked.Inference.APIKey = mask(masked.Inference.APIKey)
	masked.Sentry.DSN = mask(masked.Sentry.DSN)
	masked.MQTT.Password = mask(masked.MQTT.Password)

	out, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings: %w", err)
	}
	return out, nil
}

func mask(value string) string {
	if value == "" {
		return ""
	}
	return maskedSecret
}
