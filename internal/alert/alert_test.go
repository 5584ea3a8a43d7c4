package alert

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dotabank/dotabank/internal/logger"
	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recorder) Alert(_ context.Context, a Alert) {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
}

func TestLogAlerter(t *testing.T) {
	var buf bytes.Buffer
	ctx := logger.New(&logger.Options{Output: &buf}).WithContext(context.Background())

	LogAlerter{}.Alert(ctx, Alert{
		Message: "replay 123 exceeded auto-fix attempts",
		Tags:    map[string]string{"check": "MISSING_S3_FILE"},
		Extra:   map[string]interface{}{"attempts": 6},
	})

	out := buf.String()
	assert.Contains(t, out, "exceeded auto-fix attempts")
	assert.Contains(t, out, `"check":"MISSING_S3_FILE"`)
	assert.Contains(t, out, `"extra_attempts":6`)
	assert.Contains(t, out, `"level":"error"`)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, b}.Alert(context.Background(), Alert{Message: "x"})
	assert.Len(t, a.alerts, 1)
	assert.Len(t, b.alerts, 1)
}

func TestSentryAlerterCapturesMessage(t *testing.T) {
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	s, err := newSentryAlerter(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)

	s.Alert(context.Background(), Alert{
		Message: "replay 42 with error PLAYER_COUNT_MISMATCH has exceeded auto-fix attempts",
		Tags:    map[string]string{"check": "PLAYER_COUNT_MISMATCH"},
		Extra:   map[string]interface{}{"replay_id": 42},
	})
	s.Flush(time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, sentry.LevelError, events[0].Level)
	assert.Equal(t, "PLAYER_COUNT_MISMATCH", events[0].Tags["check"])
	assert.Contains(t, events[0].Message, "replay 42")
}
