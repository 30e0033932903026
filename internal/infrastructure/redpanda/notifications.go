package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/visitdesk/internal/observability/metrics"
	"github.com/drfirst/visitdesk/internal/session"
)

// Notification is a toast notice as published on TopicVisitNotifications
type Notification struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	StaffID string    `json:"staffId,omitempty"`
	At      time.Time `json:"at"`
}

// AsyncProducer is the subset of Producer used for notices
type AsyncProducer interface {
	ProduceAsync(ctx context.Context, topic, key string, value []byte, callback func(error))
}

// NotificationPublisher fans toast notices out to the notifications topic.
// Publishing never blocks the caller; delivery failures are only logged.
type NotificationPublisher struct {
	producer AsyncProducer
	topic    string
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewNotificationPublisher creates a publisher writing to TopicVisitNotifications
func NewNotificationPublisher(producer AsyncProducer, m *metrics.Metrics, logger *zap.Logger) *NotificationPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationPublisher{
		producer: producer,
		topic:    TopicVisitNotifications,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Error publishes an error-level notice. Messages are keyed by staff id so
// one user's notices stay ordered.
func (p *NotificationPublisher) Error(ctx context.Context, message string) {
	n := Notification{Level: "error", Message: message, At: p.now()}
	if sess, ok := session.FromContext(ctx); ok {
		n.StaffID = sess.StaffID
	}

	value, err := json.Marshal(n)
	if err != nil {
		p.logger.Error("failed to encode notification", zap.Error(err))
		return
	}

	// the request context ends before delivery completes
	p.producer.ProduceAsync(context.WithoutCancel(ctx), p.topic, n.StaffID, value, func(err error) {
		if err != nil {
			p.logger.Warn("notification not delivered", zap.Error(err))
			return
		}
		if p.metrics != nil {
			p.metrics.Notifications.WithLabelValues("kafka").Inc()
		}
	})
}

// DecodeNotification parses a consumed notification
func DecodeNotification(msg *ConsumedMessage) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		return nil, fmt.Errorf("decode notification at %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	return &n, nil
}
