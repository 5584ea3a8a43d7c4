package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/dotabank/dotabank/internal/config"
	"github.com/getsentry/sentry-go"
)

// SentryAlerter sends alerts to Sentry as error-level messages.
type SentryAlerter struct {
	hub *sentry.Hub
}

// NewSentryAlerter creates an alerter on its own hub.
func NewSentryAlerter(cfg *config.AlertConfig) (*SentryAlerter, error) {
	return newSentryAlerter(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
	})
}

func newSentryAlerter(opts sentry.ClientOptions) (*SentryAlerter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	return &SentryAlerter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (s *SentryAlerter) Alert(_ context.Context, a Alert) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		for k, v := range a.Tags {
			scope.SetTag(k, v)
		}
		if len(a.Extra) > 0 {
			scope.SetContext("extra", a.Extra)
		}
		s.hub.CaptureMessage(a.Message)
	})
}

func (s *SentryAlerter) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}
