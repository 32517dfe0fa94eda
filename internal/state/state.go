package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kyuhyong/surveillance-camera/internal/database"
)

// Backend names accepted in configuration.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// DefaultSensitivity applies when no sensitivity was ever persisted.
const DefaultSensitivity = 3

// ErrInvalidSensitivity is returned for negative sensitivities.
var ErrInvalidSensitivity = errors.New("motion sensitivity must be non-negative")

// ControlState is the operator controlled arm flag and motion threshold.
type ControlState struct {
	Armed       bool `json:"isArmed"`
	Sensitivity int  `json:"motion_sensitivity"`
}

// Default returns the state used when nothing has been persisted.
func Default() ControlState {
	return ControlState{Armed: false, Sensitivity: DefaultSensitivity}
}

// Validate checks the invariants of a state about to be written.
func (s ControlState) Validate() error {
	if s.Sensitivity < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSensitivity, s.Sensitivity)
	}
	return nil
}

// Store persists ControlState. The recorder only calls Load; Save is used by
// operator tooling.
type Store interface {
	Load(ctx context.Context) (ControlState, error)
	Save(ctx context.Context, s ControlState) error
	Close() error
}

// Open returns the store for backend. db is only used by the sqlite backend
// and path only by the file backend.
func Open(backend, path string, db *database.Database, logger *slog.Logger) (Store, error) {
	switch backend {
	case BackendSQLite:
		if db == nil {
			return nil, errors.New("sqlite state backend requires a database")
		}
		return NewSQLiteStore(db), nil
	case BackendFile:
		if path == "" {
			path = DefaultFileName
		}
		return NewFileStore(path, logger), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q (valid: %s|%s)", backend, BackendSQLite, BackendFile)
	}
}
