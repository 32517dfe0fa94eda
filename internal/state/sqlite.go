package state

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kyuhyong/surveillance-camera/internal/database"
)

// Keys in the app_config table.
const (
	KeyArmed       = "armed"
	KeySensitivity = "motion_sensitivity"
)

// SQLiteStore keeps the state in the shared app_config table so the web
// layer and the recorder see the same rows.
type SQLiteStore struct {
	db *database.Database
}

// NewSQLiteStore creates a store on an already migrated database.
func NewSQLiteStore(db *database.Database) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load reads both keys in one query. Absent keys take their defaults.
func (s *SQLiteStore) Load(ctx context.Context) (ControlState, error) {
	values, err := s.db.GetConfigs(ctx, KeyArmed, KeySensitivity)
	if err != nil {
		return ControlState{}, fmt.Errorf("failed to load control state: %w", err)
	}

	st := Default()
	if v, ok := values[KeyArmed]; ok {
		armed, err := strconv.ParseBool(v)
		if err != nil {
			return ControlState{}, fmt.Errorf("invalid %s value %q: %w", KeyArmed, v, err)
		}
		st.Armed = armed
	}
	if v, ok := values[KeySensitivity]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ControlState{}, fmt.Errorf("invalid %s value %q: %w", KeySensitivity, v, err)
		}
		st.Sensitivity = n
	}
	if err := st.Validate(); err != nil {
		return ControlState{}, err
	}
	return st, nil
}

// Save writes both keys in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, st ControlState) error {
	if err := st.Validate(); err != nil {
		return err
	}
	return s.db.SaveConfigs(ctx, map[string]string{
		KeyArmed:       strconv.FormatBool(st.Armed),
		KeySensitivity: strconv.Itoa(st.Sensitivity),
	})
}

// Close is a no-op; the database is owned by the caller.
func (s *SQLiteStore) Close() error { return nil }
