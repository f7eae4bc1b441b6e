// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry publishes status snapshots to an MQTT broker.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrNotConnected is returned while the broker connection is down.
var ErrNotConnected = errors.New("mqtt not connected")

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Config selects the broker.
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	QoS      byte
	Timeout  time.Duration
}

// Publisher writes JSON documents under a topic prefix.
type Publisher struct {
	client  Client
	prefix  string
	qos     byte
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewPublisher wraps a connected client.
func NewPublisher(client Client, prefix string, qos byte, l *zap.SugaredLogger) *Publisher {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &Publisher{client: client, prefix: prefix, qos: qos, timeout: 5 * time.Second, log: l}
}

// Dial connects to the broker. The availability topic carries "online"
// while connected and "offline" as the will.
func Dial(cfg Config, l *zap.SugaredLogger) (*Publisher, error) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	avail := cfg.Topic + "/status"

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetWill(avail, "offline", cfg.QoS, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		l.Infof("mqtt connected to %s", cfg.Broker)
		c.Publish(avail, cfg.QoS, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.Warnf("mqtt connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out after %v", cfg.Broker, cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}

	p := NewPublisher(client, cfg.Topic, cfg.QoS, l)
	p.timeout = cfg.Timeout
	return p, nil
}

// Topic returns the full topic for sub.
func (p *Publisher) Topic(sub string) string {
	return p.prefix + "/" + sub
}

// Publish encodes v as JSON and publishes it retained under sub.
func (p *Publisher) Publish(sub string, v any) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", sub, err)
	}

	token := p.client.Publish(p.Topic(sub), p.qos, true, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish %s: timed out", p.Topic(sub))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", p.Topic(sub), err)
	}
	p.log.Debugf("published %s (%d bytes)", p.Topic(sub), len(payload))
	return nil
}

// PublishState publishes the controller or relay unit snapshot.
func (p *Publisher) PublishState(v any) error {
	return p.Publish("state", v)
}

// Event is an MQTT event document.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// PublishEvent publishes one event under "event".
func (p *Publisher) PublishEvent(kind, message string) error {
	return p.Publish("event", Event{Time: time.Now().UTC(), Kind: kind, Message: message})
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
