package notify

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/cjeanneret/stillcam/internal/debug"
)

// MQTTConfig selects the broker events are published to.
type MQTTConfig struct {
	Broker   string // e.g. tcp://localhost:1883
	Topic    string // events go to <Topic>/<kind>
	ClientID string // generated when empty
}

// publisher is the part of mqtt.Client the notifier uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes events as JSON.
type MQTT struct {
	client publisher
	topic  string
}

// DialMQTT connects to the broker. The client reconnects on its own after
// the first connection succeeds.
func DialMQTT(cfg MQTTConfig, timeout time.Duration) (*MQTT, error) {
	if cfg.Topic == "" {
		cfg.Topic = "stillcam"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "stillcam-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(mqtt.Client) {
		debug.Info("MQTT connected to %s as %s", cfg.Broker, cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		debug.Error(fmt.Errorf("mqtt connection lost: %w", err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: timed out after %v", cfg.Broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return newMQTT(client, cfg.Topic), nil
}

func newMQTT(p publisher, topic string) *MQTT {
	return &MQTT{client: p, topic: topic}
}

// Topic returns the topic an event of kind k is published to.
func (m *MQTT) Topic(k Kind) string {
	return m.topic + "/" + string(k)
}

// Notify publishes e without waiting for the broker.
func (m *MQTT) Notify(e Event) {
	if !m.client.IsConnected() {
		debug.Verbose("MQTT not connected, dropping %s event", e.Kind)
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		debug.Error(fmt.Errorf("mqtt: encode event: %w", err))
		return
	}
	token := m.client.Publish(m.Topic(e.Kind), 0, false, body)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			debug.Error(fmt.Errorf("mqtt publish: %w", err))
		}
	}()
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
