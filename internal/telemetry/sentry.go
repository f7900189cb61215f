// Package telemetry configures Sentry error reporting. It is opt-in: nothing
// leaves the process unless sentry.enabled is set.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/spinescan/spinescan/internal/conf"
	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/logger"
	"github.com/spinescan/spinescan/internal/privacy"
)

const flushTimeout = 2 * time.Second

// Option customizes Sentry initialization.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the Sentry transport, used by tests.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) { o.Transport = t }
}

// InitSentry initializes the Sentry SDK and installs it as the error
// reporter for enhanced errors. It is a no-op when Sentry is disabled.
func InitSentry(settings *conf.Settings, opts ...Option) error {
	log := logger.Global().Module("telemetry")
	if !settings.Sentry.Enabled {
		log.Debug("sentry telemetry is disabled")
		errors.SetTelemetryReporter(nil)
		return nil
	}

	environment := settings.Sentry.Environment
	if environment == "" {
		environment = "production"
	}
	sampleRate := settings.Sentry.SampleRate
	if sampleRate == 0 {
		sampleRate = 1.0
	}

	options := sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       sampleRate,
		AttachStacktrace: false,
		Environment:      environment,
		ServerName:       "",
		Release:          fmt.Sprintf("spinescan@%s", settings.Version),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := sentry.Init(options); err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Info("sentry telemetry initialized",
		logger.String("environment", environment),
		logger.Float64("sample_rate", sampleRate))
	return nil
}

// Flush waits briefly for queued events. Call it before exit.
func Flush() {
	sentry.Flush(flushTimeout)
}

// applyPrivacyFilters strips host and user identifying data. Scan owners are
// identified by their token subject, which never belongs in an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
	}
	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}
	return event
}
