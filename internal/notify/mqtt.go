package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kozaktomas/face-attendance/internal/database"
)

const mqttConnectTimeout = 5 * time.Second

// MQTTSink publishes each event as JSON to one topic.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

// EventMessage is the JSON payload published for an event.
type EventMessage struct {
	ID          string    `json:"id"`
	IdentityID  string    `json:"identity_id"`
	DisplayName string    `json:"display_name"`
	Timestamp   time.Time `json:"timestamp"`
	Distance    float64   `json:"distance"`
	FirstOfDay  bool      `json:"first_of_day"`
	Kind        string    `json:"kind"`
	Evidence    string    `json:"evidence,omitempty"`
}

func newEventMessage(e *database.StoredEvent) EventMessage {
	return EventMessage{
		ID:          e.ID,
		IdentityID:  e.IdentityID,
		DisplayName: e.DisplayName,
		Timestamp:   e.Timestamp,
		Distance:    e.Distance,
		FirstOfDay:  e.FirstOfDay,
		Kind:        e.Kind,
		Evidence:    e.EvidenceRef,
	}
}

// NewMQTTSink connects to broker (tcp://host:port) and keeps reconnecting in
// the background.
func NewMQTTSink(broker, clientID, topic string) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return &MQTTSink{client: client, topic: topic}, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Send(ctx context.Context, event *database.StoredEvent, _ []byte) error {
	payload, err := json.Marshal(newEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	token := s.client.Publish(s.topic, 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish: %w", ctx.Err())
	}
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
