package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	SubjectIncidentDetected = "incident.detected"
	SubjectSnapshotReload   = "snapshot.reload"
)

// IncidentNotification is published once per incident id, subject to the
// worker's cooldown.
type IncidentNotification struct {
	ID          string    `json:"id"`
	Profile     string    `json:"profile"`
	IncidentID  string    `json:"incidentId"`
	DeviceID    string    `json:"deviceId"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Duration    string    `json:"duration"`
	MaxScore    float64   `json:"maxScore"`
	Sensors     []string  `json:"sensors,omitempty"`
	Events      []string  `json:"events,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// NewNotificationID returns a fresh message id.
func NewNotificationID() string {
	return uuid.NewString()
}

// ReloadRequest asks workers to reload their snapshot source.
type ReloadRequest struct {
	Reason string `json:"reason"`
}

type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("incidentwatch"))
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

type Subscriber struct {
	Conn *nats.Conn
}

func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url, nats.Name("incidentwatch-worker"))
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: conn}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		s.Conn.Drain()
		s.Conn.Close()
	}
}

// SubscribeReload delivers reload requests. A message that is not valid JSON
// still triggers a reload with an empty reason.
func (s *Subscriber) SubscribeReload(handler func(ReloadRequest)) (*nats.Subscription, error) {
	return s.Conn.Subscribe(SubjectSnapshotReload, func(msg *nats.Msg) {
		handler(DecodeReload(msg.Data))
	})
}

func DecodeReload(data []byte) ReloadRequest {
	var req ReloadRequest
	_ = json.Unmarshal(data, &req)
	return req
}
