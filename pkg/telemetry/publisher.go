// Package telemetry publishes gesture decisions over MQTT.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/itohio/emgarm/pkg/classifier"
)

// DefaultTopic is used when the configuration leaves the topic empty.
const DefaultTopic = "emgarm/gesture"

// Message is the JSON payload of one decision.
type Message struct {
	Gesture       string    `json:"gesture"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
	Time          time.Time `json:"time"`
}

// Payload encodes a decision.
func Payload(r classifier.Result, at time.Time) ([]byte, error) {
	return json.Marshal(Message{
		Gesture:       r.Gesture.String(),
		Confidence:    r.Confidence,
		Probabilities: r.Probabilities,
		Time:          at.UTC(),
	})
}

// Publisher sends decisions to a broker topic with QoS 0.
type Publisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
}

// Connect dials the broker.
func Connect(broker, clientID, topic string) (*Publisher, error) {
	if broker == "" {
		return nil, errors.New("no broker configured")
	}
	if clientID == "" {
		clientID = fmt.Sprintf("emgarm-%d", time.Now().UnixNano())
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return NewPublisher(client, topic), nil
}

// NewPublisher wraps a connected client.
func NewPublisher(client mqtt.Client, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{client: client, topic: topic, timeout: time.Second}
}

// Topic returns the publication topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish sends one decision.
func (p *Publisher) Publish(r classifier.Result, at time.Time) error {
	payload, err := Payload(r, at)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s timed out", p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
