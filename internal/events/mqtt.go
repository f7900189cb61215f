package events

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/spinescan/spinescan/internal/conf"
	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/logger"
)

const (
	defaultConnectTimeout   = 10 * time.Second
	defaultPublishTimeout   = 5 * time.Second
	disconnectQuiesceMillis = 250
	maxReconnectInterval    = time.Minute
	defaultClientIDPrefix   = "spinescan-"
)

// Publish outcomes reported to the Recorder.
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
)

// Recorder receives publish outcomes. observability.Metrics implements it.
type Recorder interface {
	ObserveEventPublish(outcome string, elapsed time.Duration)
	SetBrokerConnected(connected bool)
}

// broker is the subset of the paho client the publisher needs.
type broker interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes scan events to an MQTT broker.
type MQTTPublisher struct {
	client         broker
	topicPrefix    string
	qos            byte
	retain         bool
	publishTimeout time.Duration
	log            logger.Logger
	recorder       Recorder

	closeOnce sync.Once
}

// NewMQTTPublisher connects to settings.Broker and returns a publisher. The
// paho client reconnects on its own after the first successful connect.
func NewMQTTPublisher(ctx context.Context, settings *conf.MQTTSettings, log logger.Logger, recorder Recorder) (*MQTTPublisher, error) {
	if log == nil {
		log = logger.Global().Module("events")
	}
	if _, err := url.Parse(settings.Broker); err != nil || settings.Broker == "" {
		return nil, errors.Newf("invalid mqtt broker url %q", settings.Broker).
			Component("events").
			Category(errors.CategoryConfiguration).
			Build()
	}

	p := &MQTTPublisher{
		topicPrefix:    strings.TrimRight(settings.Topic, "/"),
		qos:            settings.QoS,
		retain:         settings.Retain,
		publishTimeout: defaultPublishTimeout,
		log:            log,
		recorder:       recorder,
	}

	clientID := settings.ClientID
	if clientID == "" {
		clientID = defaultClientIDPrefix + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions().
		AddBroker(settings.Broker).
		SetClientID(clientID).
		SetUsername(settings.Username).
		SetPassword(settings.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetConnectTimeout(defaultConnectTimeout).
		SetOnConnectHandler(func(mqtt.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) { p.onConnectionLost(err) })

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if err := waitToken(ctx, token, defaultConnectTimeout); err != nil {
		return nil, errors.New(err).
			Component("events").
			Category(errors.CategoryMQTTConnect).
			Context("broker", settings.Broker).
			Build()
	}

	p.client = client
	return p, nil
}

// newPublisherWithBroker wires an existing broker connection.
func newPublisherWithBroker(b broker, topic string, qos byte, log logger.Logger, recorder Recorder) *MQTTPublisher {
	return &MQTTPublisher{
		client:         b,
		topicPrefix:    strings.TrimRight(topic, "/"),
		qos:            qos,
		publishTimeout: defaultPublishTimeout,
		log:            log,
		recorder:       recorder,
	}
}

// Topic returns the status topic of a scan.
func (p *MQTTPublisher) Topic(scanID string) string {
	return p.topicPrefix + "/scans/" + scanID + "/status"
}

// PublishScanStatus implements Publisher.
func (p *MQTTPublisher) PublishScanStatus(ctx context.Context, ev ScanStatusEvent) error {
	start := time.Now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = start.UTC()
	}

	if !p.client.IsConnected() {
		p.record(OutcomeFailed, time.Since(start))
		return errors.Newf("mqtt broker not connected").
			Component("events").
			Category(errors.CategoryMQTTConnect).
			Context("scan_id", ev.ScanID).
			Build()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.New(err).Component("events").Category(errors.CategoryProcessing).Build()
	}

	topic := p.Topic(ev.ScanID)
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if err := waitToken(ctx, token, p.publishTimeout); err != nil {
		outcome := OutcomeFailed
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = OutcomeTimeout
		}
		p.record(outcome, time.Since(start))
		return errors.New(err).
			Component("events").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	p.record(OutcomePublished, time.Since(start))
	p.log.Debug("scan event published",
		logger.String("topic", topic),
		logger.String("status", ev.Status),
		logger.Int("bytes", len(payload)))
	return nil
}

// Close disconnects from the broker, letting in-flight messages drain.
func (p *MQTTPublisher) Close() {
	p.closeOnce.Do(func() {
		if p.client != nil {
			p.client.Disconnect(disconnectQuiesceMillis)
		}
		if p.recorder != nil {
			p.recorder.SetBrokerConnected(false)
		}
	})
}

func (p *MQTTPublisher) onConnect() {
	p.log.Info("connected to mqtt broker")
	if p.recorder != nil {
		p.recorder.SetBrokerConnected(true)
	}
}

func (p *MQTTPublisher) onConnectionLost(err error) {
	p.log.Warn("mqtt connection lost", logger.Error(err))
	if p.recorder != nil {
		p.recorder.SetBrokerConnected(false)
	}
}

func (p *MQTTPublisher) record(outcome string, elapsed time.Duration) {
	if p.recorder != nil {
		p.recorder.ObserveEventPublish(outcome, elapsed)
	}
}

// waitToken waits for token completion, the timeout or ctx, whichever is first.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}
