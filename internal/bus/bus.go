// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bus carries samples, snapshots, sessions and notifications over MQTT.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Publisher is the publishing half of mqtt.Client.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Subscriber is the subscribing half of mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Connect dials the broker and blocks until connected.
func Connect(broker, clientID string) (mqtt.Client, error) {
	log := logrus.WithFields(logrus.Fields{"component": "bus", "client_id": clientID})
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("bus: MQTT connect %s: %w", broker, token.Error())
	}
	log.Infof("connected to MQTT broker at %s", broker)
	return client, nil
}

// Disconnect waits up to 250ms for in-flight work.
func Disconnect(client mqtt.Client) { client.Disconnect(250) }

// wait blocks until tok completes or ctx is done.
func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publishJSON marshals v and publishes it, waiting for the broker when ctx allows.
func publishJSON(ctx context.Context, pub Publisher, topic string, qos byte, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: marshal for %s: %w", topic, err)
	}
	if err := wait(ctx, pub.Publish(topic, qos, retained, payload)); err != nil {
		return fmt.Errorf("bus: publish %s: %w", topic, err)
	}
	return nil
}

// subscribeTimeout bounds subscription round trips at startup.
const subscribeTimeout = 10 * time.Second

// SubscribeJSON subscribes to topic and decodes each payload into a new T
// before calling fn. Undecodable payloads are logged and skipped.
func SubscribeJSON[T any](sub Subscriber, topic string, fn func(T)) error {
	log := logrus.WithFields(logrus.Fields{"component": "bus", "topic": topic})
	tok := sub.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			log.WithError(err).Warn("payload unmarshal error")
			return
		}
		fn(v)
	})
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	if err := wait(ctx, tok); err != nil {
		return fmt.Errorf("bus: subscribe %s: %w", topic, err)
	}
	log.Info("subscribed")
	return nil
}
