package repository

import "errors"

var (
	ErrReplayNotFound = errors.New("replay not found")
	ErrReplayExists   = errors.New("replay already exists")
	ErrWorkerNotFound = errors.New("worker not found")
	ErrWorkerExists   = errors.New("worker username already registered")
)
