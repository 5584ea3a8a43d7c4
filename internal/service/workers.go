package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/logger"
	"github.com/dotabank/dotabank/internal/repository"
	"github.com/dotabank/dotabank/internal/secret"
	"github.com/google/uuid"
)

// ErrUnauthorized is returned for any failed worker login.
var ErrUnauthorized = errors.New("invalid worker credentials")

// WorkerRegistry registers fleet members and checks their credentials.
type WorkerRegistry struct {
	store *repository.Store
	box   *secret.Box
}

func NewWorkerRegistry(store *repository.Store, box *secret.Box) *WorkerRegistry {
	return &WorkerRegistry{store: store, box: box}
}

// Register creates a worker and returns it with its one-time plaintext secret.
func (r *WorkerRegistry) Register(ctx context.Context, username, displayName string) (*domain.Worker, string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, "", fmt.Errorf("username is required")
	}

	plain := strings.ReplaceAll(uuid.NewString(), "-", "")
	sealed, err := r.box.Seal([]byte(plain))
	if err != nil {
		return nil, "", err
	}

	w := &domain.Worker{Username: username, DisplayName: displayName, Secret: sealed}
	if err := r.store.Workers.Create(ctx, w); err != nil {
		return nil, "", err
	}

	logger.With(logger.Fields{logger.FieldWorkerID: w.ID, "username": username}).Info(ctx, "Worker registered")
	return w, plain, nil
}

// Authenticate returns the worker owning username/password.
func (r *WorkerRegistry) Authenticate(ctx context.Context, username, password string) (*domain.Worker, error) {
	w, err := r.store.Workers.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrWorkerNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if err := r.box.Verify(w.Secret, password); err != nil {
		if errors.Is(err, secret.ErrMismatch) {
			return nil, ErrUnauthorized
		}
		// A secret that fails to open means the key was rotated.
		return nil, fmt.Errorf("failed to open secret for worker %d: %w", w.ID, err)
	}
	return w, nil
}

// Deregister removes a worker and its job history.
func (r *WorkerRegistry) Deregister(ctx context.Context, id uint) error {
	if err := r.store.Workers.Delete(ctx, id); err != nil {
		return err
	}
	logger.With(logger.Fields{logger.FieldWorkerID: id}).Info(ctx, "Worker deregistered")
	return nil
}

func (r *WorkerRegistry) List(ctx context.Context) ([]domain.Worker, error) {
	return r.store.Workers.List(ctx)
}
