// Package alert raises operator-visible alerts.
package alert

import (
	"context"
	"time"

	"github.com/dotabank/dotabank/internal/logger"
)

// Alert is one escalation. Extra carries diagnostic fields.
type Alert struct {
	Message string
	Tags    map[string]string
	Extra   map[string]interface{}
}

// Alerter delivers alerts. Implementations must not block for long.
type Alerter interface {
	Alert(ctx context.Context, a Alert)
}

// LogAlerter writes alerts to the context logger at error level.
type LogAlerter struct{}

func (LogAlerter) Alert(ctx context.Context, a Alert) {
	fields := logger.Fields{"alert": true}
	for k, v := range a.Tags {
		fields[k] = v
	}
	for k, v := range a.Extra {
		fields["extra_"+k] = v
	}
	logger.FromContext(ctx).WithFields(fields).Error(a.Message)
}

// Multi fans an alert out to every sink.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, a Alert) {
	for _, sink := range m {
		sink.Alert(ctx, a)
	}
}

// Flusher is implemented by sinks that buffer.
type Flusher interface {
	Flush(timeout time.Duration) bool
}

// Flush drains every buffering sink in m.
func (m Multi) Flush(timeout time.Duration) bool {
	ok := true
	for _, sink := range m {
		if f, isFlusher := sink.(Flusher); isFlusher {
			ok = f.Flush(timeout) && ok
		}
	}
	return ok
}
