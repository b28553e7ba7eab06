package store

import "errors"

// Error kinds the Store surfaces, per the storage error taxonomy.
var (
	ErrNotADirectory  = errors.New("store: data directory path is not a directory")
	ErrSchemaMismatch = errors.New("store: schema version mismatch, rebuild required")
	ErrLocked         = errors.New("store: locked for writing by another process")
	ErrCorrupted      = errors.New("store: index corrupted")
	ErrIOFailure      = errors.New("store: i/o failure")
	ErrNotFound       = errors.New("store: not found")
)
