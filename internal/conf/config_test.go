package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// resetViper isolates tests from the global viper instance.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	resetViper(t)

	viper.SetConfigFile(writeConfig(t, `
auth:
  jwtsecret: `+testSecret+`
storage:
  bucket: xrays
  endpoint: minio:9000
  usessl: false
inference:
  url: http://inference:8001
  timeout: 45s
database:
  driver: sqlite
  sqlite:
    path: /tmp/test.db
`))

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "xrays", settings.Storage.Bucket)
	assert.Equal(t, "minio:9000", settings.Storage.Endpoint)
	assert.False(t, settings.Storage.UseSSL)
	assert.Equal(t, 45*time.Second, settings.Inference.Timeout)
	assert.Equal(t, DriverSQLite, settings.Database.Driver)
	assert.Equal(t, "/tmp/test.db", settings.Database.SQLite.Path)

	// defaults
	assert.Equal(t, "8080", settings.WebServer.Port)
	assert.Equal(t, 60*time.Second, settings.Storage.PresignExpiry)
	assert.Equal(t, "25MB", settings.Storage.MaxObjectSize)
	assert.True(t, settings.RateLimit.Enabled)
	assert.Equal(t, 6, settings.RateLimit.RunsPerMinute)
	assert.Equal(t, byte(1), settings.MQTT.QoS)
	assert.Same(t, settings, GetSettings())
}

func TestLoadFromConventionalEnv(t *testing.T) {
	resetViper(t)
	viper.SetConfigFile(writeConfig(t, "debug: false\n"))

	t.Setenv("INFERENCE_URL", "http://yolo:8001")
	t.Setenv("INFERENCE_API_KEY", "k")
	t.Setenv("AWS_S3_BUCKET", "scans")
	t.Setenv("AWS_REGION", "eu-north-1")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/spine?sslmode=disable")
	t.Setenv("JWT_SECRET", testSecret)

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://yolo:8001", settings.Inference.URL)
	assert.Equal(t, "k", settings.Inference.APIKey)
	assert.Equal(t, "scans", settings.Storage.Bucket)
	assert.Equal(t, "eu-north-1", settings.Storage.Region)
	assert.Equal(t, DriverPostgres, settings.Database.Driver, "DATABASE_URL selects postgres when no driver is set")
}

func TestPrefixedEnvOverridesFile(t *testing.T) {
	resetViper(t)
	viper.SetConfigFile(writeConfig(t, `
auth:
  jwtsecret: `+testSecret+`
storage:
  bucket: from-file
webserver:
  port: "8080"
`))

	t.Setenv("SPINESCAN_WEBSERVER_PORT", "9090")
	t.Setenv("SPINESCAN_STORAGE_BUCKET", "from-env")

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", settings.WebServer.Port)
	assert.Equal(t, "from-env", settings.Storage.Bucket)
}

func TestLoadFailsValidation(t *testing.T) {
	resetViper(t)
	viper.SetConfigFile(writeConfig(t, "debug: true\n"))

	_, err := Load()
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), "auth.jwtsecret or auth.jwksurl is required")
	assert.Contains(t, err.Error(), "storage.bucket is required")
}

func TestDebugRaisesLogLevel(t *testing.T) {
	resetViper(t)
	viper.SetConfigFile(writeConfig(t, `
debug: true
auth:
  jwtsecret: `+testSecret+`
storage:
  bucket: b
`))

	settings, err := Load()
	require.NoError(t, err)
	assert.True(t, settings.WebServer.Debug)
	assert.Equal(t, "debug", settings.Logging.DefaultLevel)
}

func TestMaskedYAML(t *testing.T) {
	settings := validSettings()
	settings.Inference.APIKey = "inference-key"
	settings.Storage.SecretKey = "aws-secret"

	out, err := MaskedYAML(settings)
	require.NoError(t, err)

	text := string(out)
	assert.NotContains(t, text, testSecret)
	assert.NotContains(t, text, "inference-key")
	assert.NotContains(t, text, "aws-secret")
	assert.Contains(t, text, maskedSecret)
	assert.Contains(t, text, "bucket: xrays")
	assert.Equal(t, "inference-key", settings.Inference.APIKey, "original settings untouched")
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	resetViper(t)
	secretFile := filepath.Join(t.TempDir(), "jwt")
	require.NoError(t, os.WriteFile(secretFile, []byte(testSecret+"\n"), 0o600))
	t.Setenv("SPINESCAN_TEST_MINIO_SECRET", "minio-secret")

	viper.SetConfigFile(writeConfig(t, `
auth:
  jwtsecret: file:`+secretFile+`
storage:
  bucket: xrays
  endpoint: minio:9000
  secretkey: ${SPINESCAN_TEST_MINIO_SECRET}
inference:
  url: http://inference:8001
`))

	settings, err := Load()
	require.NoError(t, err)
	assert.Equal(t, testSecret, settings.Auth.JWTSecret)
	assert.Equal(t, "minio-secret", settings.Storage.SecretKey)
}

func TestLoadFailsOnMissingSecretFile(t *testing.T) {
	resetViper(t)

	viper.SetConfigFile(writeConfig(t, `
auth:
  jwtsecret: file:`+filepath.Join(t.TempDir(), "missing")+`
storage:
  bucket: xrays
inference:
  url: http://inference:8001
`))

	_, err := Load()
	require.ErrorContains(t, err, "auth.jwtsecret")
}
