package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/02loveslollipop/aws-rainfall/internal/models"
)

const (
	mqttConnectTimeout = 10 * time.Second
	defaultTopicPrefix = "aws-rainfall"
)

// MQTTConfig contains broker settings for the MQTT mirror.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes each record as JSON to <prefix>/<station_id>/observation.
type MQTT struct {
	client publisher
	prefix string
	qos    byte
	retain bool
}

// NewMQTT connects to the broker.
func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.Broker == "" {
		return nil, errors.New("mqtt mirror requires a broker url")
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(mqttConnectTimeout).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timeout after %v", mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return newMQTT(client, cfg), nil
}

func newMQTT(client publisher, cfg MQTTConfig) *MQTT {
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return &MQTT{
		client: client,
		prefix: prefix,
		qos:    byte(cfg.QoS),
		retain: cfg.Retain,
	}
}

// Name implements Mirror.
func (m *MQTT) Name() string { return "mqtt" }

// Topic returns the topic records for stationID are published to.
func (m *MQTT) Topic(stationID string) string {
	return m.prefix + "/" + stationID + "/observation"
}

// Publish sends the record and waits for the broker acknowledgement or ctx.
func (m *MQTT) Publish(ctx context.Context, rec models.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	token := m.client.Publish(m.Topic(rec.StationID), m.qos, m.retain, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish: %w", ctx.Err())
	}
}

// Close disconnects, giving in-flight messages a short grace period.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
