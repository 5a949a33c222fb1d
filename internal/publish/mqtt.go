// Package publish delivers readings and session summaries to an MQTT
// broker for home-automation consumers.
package publish

import (
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/soundwatch/noisemeter/internal/config"
	"github.com/soundwatch/noisemeter/internal/exposure"
	"github.com/soundwatch/noisemeter/internal/types"
	"github.com/soundwatch/noisemeter/internal/util"
)

// readingPublishInterval throttles reading publishes: 60Hz ticks would
// flood the broker, one message per second is plenty for dashboards.
const readingPublishInterval = time.Second

// Publisher sends readings and summaries to an MQTT broker.
// PublishReading is meant for the single session loop goroutine; the
// other methods are safe from any goroutine.
type Publisher struct {
	client       mqtt.Client
	readingTopic string
	summaryTopic string
	lastReading  time.Time
}

// readingMessage is the wire format for periodic reading publishes.
type readingMessage struct {
	types.Reading
	Zone      exposure.Zone      `json:"zone"`
	RiskLevel exposure.RiskLevel `json:"risk_level"`
}

// Connect dials the broker from the MQTT configuration. An empty broker
// address disables publishing and returns (nil, nil).
func Connect(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		slog.Info("MQTT connected", "broker", cfg.Broker)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, util.WrapError("connect to MQTT broker", token.Error())
	}

	return &Publisher{
		client:       client,
		readingTopic: cfg.ReadingTopic,
		summaryTopic: cfg.SummaryTopic,
	}, nil
}

// PublishReading sends a reading with its classification, throttled to
// one message per readingPublishInterval. Nil receivers are no-ops so
// callers need not branch on whether publishing is configured.
func (p *Publisher) PublishReading(r types.Reading, c exposure.Classification) {
	if p == nil {
		return
	}
	now := time.Now()
	if now.Sub(p.lastReading) < readingPublishInterval {
		return
	}
	p.lastReading = now

	p.publish(p.readingTopic, readingMessage{Reading: r, Zone: c.Zone, RiskLevel: c.RiskLevel}, 0)
}

// PublishSummary sends a finished session summary at QoS 1.
func (p *Publisher) PublishSummary(s exposure.Summary) {
	if p == nil {
		return
	}
	p.publish(p.summaryTopic, s, 1)
}

func (p *Publisher) publish(topic string, payload any, qos byte) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal MQTT payload", "topic", topic, "error", err)
		return
	}
	token := p.client.Publish(topic, qos, false, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			slog.Warn("MQTT publish failed", "topic", topic, "error", token.Error())
		}
	}()
}

// Close disconnects from the broker. Safe on a nil publisher.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.client.Disconnect(250)
}
