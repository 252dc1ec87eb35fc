package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"

	"github.com/hthome/hiot/pkg/hiot"
	"github.com/hthome/hiot/pkg/log"
)

const (
	DefaultTopicPrefix = "hiot"

	publishQoS        = 1
	disconnectQuiesce = 250
)

// client is the subset of paho.Client the publisher uses.
type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher mirrors device state and energy snapshots onto retained MQTT
// topics. A Publisher without a broker is disabled and publishes nothing.
type Publisher struct {
	broker      string
	clientID    string
	username    string
	password    string
	topicPrefix string

	client client
}

// DeviceTopic returns the retained topic for one device's state.
func (p *Publisher) DeviceTopic(siteID, category, deviceID string) string {
	return strings.Join([]string{p.topicPrefix, siteID, category, deviceID, "state"}, "/")
}

// EnergyTopic returns the retained topic for one energy type.
func (p *Publisher) EnergyTopic(siteID string, energyType hiot.EnergyType) string {
	return strings.Join([]string{p.topicPrefix, siteID, "energy", string(energyType)}, "/")
}

// Enabled returns whether a broker is configured.
func (p *Publisher) Enabled() bool {
	return p != nil && p.broker != ""
}

// Connect dials the broker. It is a no-op when the publisher is disabled.
func (p *Publisher) Connect(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	if p.client == nil {
		opts := paho.NewClientOptions().
			AddBroker(p.broker).
			SetClientID(p.clientID).
			SetKeepAlive(30 * time.Second).
			SetPingTimeout(10 * time.Second).
			SetAutoReconnect(true).
			SetConnectionLostHandler(func(_ paho.Client, err error) {
				log.Ctx(ctx).WarnContext(ctx, "mqtt connection lost", slog.Any("error", err))
			})
		if p.username != "" {
			opts.SetUsername(p.username)
			opts.SetPassword(p.password)
		}
		p.client = paho.NewClient(opts)
	}

	log.Ctx(ctx).InfoContext(ctx, "connecting to mqtt", slog.String("broker", p.broker), slog.String("clientID", p.clientID))
	if err := wait(ctx, p.client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker %s: %w", p.broker, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.Enabled() && p.client != nil {
		p.client.Disconnect(disconnectQuiesce)
	}
}

// PublishDeviceStates publishes one retained message per device containing
// its status list.
func (p *Publisher) PublishDeviceStates(ctx context.Context, siteID string, devices []hiot.Device, states hiot.DeviceStates) error {
	if !p.Enabled() {
		return nil
	}
	var errs []error
	for category, byID := range states {
		for deviceID, state := range byID {
			statusList := state.StatusList
			if statusList == nil {
				statusList = []hiot.Status{}
			}
			if err := p.publishJSON(ctx, p.DeviceTopic(siteID, category, deviceID), statusList); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// PublishEnergy publishes one retained message per energy type.
func (p *Publisher) PublishEnergy(ctx context.Context, siteID string, at time.Time, data hiot.EnergyData) error {
	if !p.Enabled() {
		return nil
	}
	var errs []error
	for energyType, record := range data {
		payload := struct {
			hiot.EnergyRecord
			UpdatedAt time.Time `json:"updatedAt"`
		}{record, at}
		if err := p.publishJSON(ctx, p.EnergyTopic(siteID, energyType), payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) publishJSON(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	if err := wait(ctx, p.client.Publish(topic, publishQoS, true, payload)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "published mqtt message", slog.String("topic", topic), slog.Int("bytes", len(payload)))
	return nil
}

func wait(ctx context.Context, t paho.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Configured registers the MQTT flags. The returned publisher is disabled
// unless mqtt-broker is set.
func Configured() *Publisher {
	broker := lflag.String("mqtt-broker", "", "MQTT broker URL (e.g. tcp://localhost:1883), empty disables publishing")
	clientID := lflag.String("mqtt-client-id", "", "MQTT client id, defaults to a random hiot-<id>")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	topicPrefix := lflag.String("mqtt-topic-prefix", DefaultTopicPrefix, "Prefix for every published topic")

	p := &Publisher{}
	lflag.Do(func() {
		p.broker = *broker
		p.clientID = *clientID
		if p.clientID == "" {
			p.clientID = "hiot-" + uuid.NewString()[:8]
		}
		p.username = *username
		p.password = *password
		p.topicPrefix = strings.Trim(*topicPrefix, "/")
		if p.topicPrefix == "" {
			p.topicPrefix = DefaultTopicPrefix
		}
	})
	return p
}
