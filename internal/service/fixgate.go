package service

import (
	"context"
	"fmt"

	"github.com/dotabank/dotabank/internal/alert"
	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/logger"
	"github.com/dotabank/dotabank/internal/repository"
)

// FixGate bounds automatic fixes per (replay, check kind).
type FixGate struct {
	store       *repository.Store
	alerter     alert.Alerter
	maxAttempts int64
}

func NewFixGate(store *repository.Store, alerter alert.Alerter, maxAttempts int) *FixGate {
	if alerter == nil {
		alerter = alert.LogAlerter{}
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &FixGate{store: store, alerter: alerter, maxAttempts: int64(maxAttempts)}
}

// ShouldAttempt logs a new attempt and returns true while the recorded
// attempts do not exceed the budget. Past it, an alert is raised and no
// attempt is logged.
func (g *FixGate) ShouldAttempt(ctx context.Context, replayID int64, kind domain.CheckKind, extra domain.Extra) (bool, error) {
	count, err := g.store.FixAttempts.Count(ctx, replayID, kind)
	if err != nil {
		return false, fmt.Errorf("failed to count fix attempts for replay %d: %w", replayID, err)
	}

	if count <= g.maxAttempts {
		if _, err := g.store.FixAttempts.Log(ctx, replayID, kind, extra); err != nil {
			return false, fmt.Errorf("failed to log fix attempt for replay %d: %w", replayID, err)
		}
		return true, nil
	}

	logger.With(logger.Fields{
		logger.FieldReplayID: replayID,
		logger.FieldCheck:    kind,
		logger.FieldCount:    count,
	}).Warn(ctx, "Fix attempts exhausted")

	g.alerter.Alert(ctx, alert.Alert{
		Message: fmt.Sprintf("Replay %d with error %s has exceeded auto-fix attempts", replayID, kind),
		Tags:    map[string]string{"check": string(kind)},
		Extra: map[string]interface{}{
			"replay_id": replayID,
			"attempts":  count,
			"extra":     map[string]interface{}(extra),
		},
	})
	return false, nil
}
