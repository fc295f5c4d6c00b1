package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"setupwiz/internal/domain"
)

// CanResume reports the saved resume state. HoursSinceActivity is computed
// from the time the state was last written.
func (s *Store) CanResume(ctx context.Context) (domain.ResumeState, error) {
	var raw, updated string
	err := s.db.QueryRowContext(ctx, "SELECT state, updated_at FROM resume_state WHERE id = 1").Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ResumeState{Reason: "no saved session"}, nil
	}
	if err != nil {
		return domain.ResumeState{}, domain.WrapOp("sqlite.CanResume", err)
	}

	var st domain.ResumeState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return domain.ResumeState{}, fmt.Errorf("unmarshal resume state: %w", err)
	}
	cfg, err := s.sealer.OpenConfig(st.Configuration)
	if err != nil {
		return domain.ResumeState{}, domain.WrapOp("sqlite.CanResume", err)
	}
	st.Configuration = cfg
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		st.UpdatedAt = t
		st.HoursSinceActivity = s.now().Sub(t).Hours()
	}
	return st, nil
}

// SaveState replaces the saved resume state.
func (s *Store) SaveState(ctx context.Context, state domain.ResumeState) error {
	cfg, err := s.sealer.SealConfig(state.Configuration)
	if err != nil {
		return domain.WrapOp("sqlite.SaveState", err)
	}
	state.Configuration = cfg
	state.HoursSinceActivity = 0
	state.UpdatedAt = time.Time{}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal resume state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resume_state (id, state, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		string(raw), s.now().UTC().Format(time.RFC3339Nano),
	)
	return domain.WrapOp("sqlite.SaveState", err)
}

// ClearState forgets the saved resume state. The version and checkpoint logs
// are kept.
func (s *Store) ClearState(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM resume_state WHERE id = 1")
	return domain.WrapOp("sqlite.ClearState", err)
}

// Status returns the last installation status put by the installer. Before
// anything is reported the phase is not-started.
func (s *Store) Status(ctx context.Context) (domain.InstallationStatus, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT status FROM install_status WHERE id = 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InstallationStatus{Phase: domain.PhaseNotStarted}, nil
	}
	if err != nil {
		return domain.InstallationStatus{}, domain.WrapOp("sqlite.Status", err)
	}
	var st domain.InstallationStatus
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return domain.InstallationStatus{}, fmt.Errorf("unmarshal install status: %w", err)
	}
	return st, nil
}

// PutStatus records the installation status.
func (s *Store) PutStatus(ctx context.Context, st domain.InstallationStatus) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal install status: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO install_status (id, status, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		string(raw), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.WrapOp("sqlite.PutStatus", err)
	}
	s.logger.Debug("installation status stored", "phase", st.Phase, "tasks", len(st.Tasks))
	return nil
}
