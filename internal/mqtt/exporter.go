package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/scriptvoice/internal/config"
	"github.com/nugget/scriptvoice/internal/events"
)

// Availability payloads.
const (
	Online  = "online"
	Offline = "offline"
)

// eventBuffer is the bus subscription depth; a slow broker drops events
// rather than stalling dispatch.
const eventBuffer = 256

// publisher is the slice of autopaho.ConnectionManager the exporter uses.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Exporter forwards bus events to an MQTT broker.
type Exporter struct {
	cfg      config.MQTTConfig
	clientID string
	bus      *events.Bus
	stats    *DailyStats
	logger   *slog.Logger
	cm       *autopaho.ConnectionManager
}

// New creates an exporter but does not connect. Call [Exporter.Start].
func New(cfg config.MQTTConfig, clientID string, bus *events.Bus, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		cfg:      cfg,
		clientID: clientID,
		bus:      bus,
		stats:    NewDailyStats(nil),
		logger:   logger.With("component", "mqtt"),
	}
}

// Start connects to the broker and forwards events until ctx is
// cancelled. On every (re-)connect it publishes the online birth message.
func (x *Exporter) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(x.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: x.cfg.Username,
		ConnectPassword: []byte(x.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   AvailabilityTopic(x.cfg.TopicPrefix),
			Payload: []byte(Offline),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			x.logger.Info("mqtt connected to broker", "broker", x.cfg.Broker)
			x.publishAvailability(ctx, cm, Online)
		},
		OnConnectError: func(err error) {
			x.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: x.clientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	x.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		x.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	ch := x.bus.Subscribe(eventBuffer)
	defer x.bus.Unsubscribe(ch)
	x.forward(ctx, cm, ch)
	return nil
}

// Stop publishes the offline message and disconnects.
func (x *Exporter) Stop(ctx context.Context) error {
	if x.cm == nil {
		return nil
	}
	x.publishAvailability(ctx, x.cm, Offline)
	return x.cm.Disconnect(ctx)
}

// Stats returns the day's counters.
func (x *Exporter) Stats() Stats {
	return x.stats.Snapshot()
}

func (x *Exporter) forward(ctx context.Context, pub publisher, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			x.stats.Observe(e)
			x.publishEvent(ctx, pub, e)
			if e.Kind == events.KindRequestComplete {
				x.publishStats(ctx, pub)
			}
		}
	}
}

func (x *Exporter) publishEvent(ctx context.Context, pub publisher, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		x.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	topic := EventTopic(x.cfg.TopicPrefix, e)
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		x.logger.Debug("mqtt event publish failed", "topic", topic, "error", err)
	}
}

func (x *Exporter) publishStats(ctx context.Context, pub publisher) {
	payload, err := json.Marshal(x.stats.Snapshot())
	if err != nil {
		return
	}
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   StatsTopic(x.cfg.TopicPrefix),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		x.logger.Debug("mqtt stats publish failed", "error", err)
	}
}

func (x *Exporter) publishAvailability(ctx context.Context, pub publisher, status string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   AvailabilityTopic(x.cfg.TopicPrefix),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		x.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		x.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Topic helpers ---

// AvailabilityTopic is the retained online/offline topic.
func AvailabilityTopic(prefix string) string {
	return prefix + "/availability"
}

// StatsTopic carries the retained daily counters.
func StatsTopic(prefix string) string {
	return prefix + "/stats"
}

// EventTopic is where e is published. Topic wildcards and separators in
// the source or kind are replaced.
func EventTopic(prefix string, e events.Event) string {
	return prefix + "/events/" + topicLevel(e.Source) + "/" + topicLevel(e.Kind)
}

var levelReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

func topicLevel(s string) string {
	if s == "" {
		return "unknown"
	}
	return levelReplacer.Replace(s)
}
