package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"simhost/shared"
)

const mqttPublishTimeout = 5 * time.Second

// mqttPublisher is the part of mqtt.Client the bridge uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTBridge republishes state changes on an MQTT topic. Messages are
// retained so a new subscriber immediately sees the latest state.
type MQTTBridge struct {
	log    *slog.Logger
	client mqttPublisher
	topic  string
	qos    byte
}

// NewMQTTBridge creates a bridge publishing to topic through client.
func NewMQTTBridge(log *slog.Logger, client mqttPublisher, topic string) *MQTTBridge {
	return &MQTTBridge{
		log:    log,
		client: client,
		topic:  topic,
		qos:    1,
	}
}

// OnEventRaised publishes rec as JSON. Broker failures are logged and never
// stop delivery to the other listeners.
func (b *MQTTBridge) OnEventRaised(rec shared.StateChangeRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode state change: %w", err)
	}
	token := b.client.Publish(b.topic, b.qos, true, payload)
	go b.await(token, rec)
	return nil
}

func (b *MQTTBridge) await(token mqtt.Token, rec shared.StateChangeRecord) {
	if !token.WaitTimeout(mqttPublishTimeout) {
		b.log.Warn("mqtt publish timed out", slog.String("topic", b.topic), slog.String("state", rec.NewState.String()))
		return
	}
	if err := token.Error(); err != nil {
		b.log.Warn("mqtt publish failed", slog.String("topic", b.topic), slog.String("err", err.Error()))
	}
}

// connectMQTT opens a plain TCP client to broker, e.g. "tcp://localhost:1883".
func connectMQTT(log *slog.Logger, broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info("connected to MQTT broker", slog.String("broker", broker), slog.String("client_id", clientID))
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		if err != nil {
			log.Warn("mqtt connection lost", slog.String("err", err.Error()))
		}
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errors.New("timeout connecting to mqtt broker")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", err)
	}
	return client, nil
}
