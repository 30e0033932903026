package visitview

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Notifier surfaces transient error notices (toasts)
type Notifier interface {
	Error(ctx context.Context, message string)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, message string)

// Error implements Notifier
func (f NotifierFunc) Error(ctx context.Context, message string) { f(ctx, message) }

// LogNotifier writes notices to the log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Error implements Notifier
func (n *LogNotifier) Error(_ context.Context, message string) {
	n.logger.Info("toast", zap.String("level", "error"), zap.String("message", message))
}

// Notice is one collected notification
type Notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Collector keeps notices in memory, one per view request
type Collector struct {
	mu      sync.Mutex
	notices []Notice
}

// Error implements Notifier
func (c *Collector) Error(_ context.Context, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, Notice{Level: "error", Message: message, At: time.Now().UTC()})
}

// Notices returns a copy of everything collected so far
func (c *Collector) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notice, len(c.notices))
	copy(out, c.notices)
	return out
}

// Multi fans a notice out to every notifier
type Multi []Notifier

// Error implements Notifier
func (m Multi) Error(ctx context.Context, message string) {
	for _, n := range m {
		if n != nil {
			n.Error(ctx, message)
		}
	}
}
