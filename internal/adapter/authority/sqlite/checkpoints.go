package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"setupwiz/internal/domain"
)

// Checkpoints exposes the checkpoint log under the CheckpointAuthority
// method names, which collide with the version log's Restore.
func (s *Store) Checkpoints() *CheckpointLog {
	return &CheckpointLog{s: s}
}

// CheckpointLog implements domain.CheckpointAuthority.
type CheckpointLog struct {
	s *Store
}

// Create appends a checkpoint for stage.
func (c *CheckpointLog) Create(ctx context.Context, stage string, data map[string]any) (domain.Checkpoint, error) {
	if stage == "" {
		return domain.Checkpoint{}, domain.NewDomainError("sqlite.CreateCheckpoint", domain.ErrInvalidInput, "empty stage")
	}
	sealed, err := c.s.sealer.SealConfig(data)
	if err != nil {
		return domain.Checkpoint{}, domain.WrapOp("sqlite.CreateCheckpoint", err)
	}
	raw, err := json.Marshal(nonNilMap(sealed))
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("marshal checkpoint data: %w", err)
	}
	cp := domain.Checkpoint{
		ID:        ulid.Make().String(),
		Stage:     stage,
		Data:      domain.CloneConfig(nonNilMap(data)),
		Timestamp: c.s.now().UTC(),
	}
	_, err = c.s.db.ExecContext(ctx,
		"INSERT INTO checkpoints (id, stage, data, created_at) VALUES (?, ?, ?, ?)",
		cp.ID, cp.Stage, string(raw), cp.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.Checkpoint{}, domain.WrapOp("sqlite.CreateCheckpoint", err)
	}
	return cp, nil
}

// List returns every checkpoint newest first.
func (c *CheckpointLog) List(ctx context.Context) ([]domain.Checkpoint, error) {
	rows, err := c.s.db.QueryContext(ctx, "SELECT id, stage, data, created_at FROM checkpoints ORDER BY seq DESC")
	if err != nil {
		return nil, domain.WrapOp("sqlite.ListCheckpoints", err)
	}
	defer rows.Close()

	var out []domain.Checkpoint
	for rows.Next() {
		cp, err := c.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Restore returns checkpoint id exactly as it was created.
func (c *CheckpointLog) Restore(ctx context.Context, checkpointID string) (domain.Checkpoint, error) {
	row := c.s.db.QueryRowContext(ctx, "SELECT id, stage, data, created_at FROM checkpoints WHERE id = ?", checkpointID)
	cp, err := c.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Checkpoint{}, domain.NewSubSystemError("checkpoint", "sqlite.RestoreCheckpoint", domain.ErrNotFound, checkpointID)
	}
	if err != nil {
		return domain.Checkpoint{}, domain.WrapOp("sqlite.RestoreCheckpoint", err)
	}
	return cp, nil
}

func (c *CheckpointLog) scan(sc scanner) (domain.Checkpoint, error) {
	var (
		cp      domain.Checkpoint
		raw     string
		created string
	)
	if err := sc.Scan(&cp.ID, &cp.Stage, &raw, &created); err != nil {
		return domain.Checkpoint{}, err
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("unmarshal checkpoint %s: %w", cp.ID, err)
	}
	data, err := c.s.sealer.OpenConfig(data)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	cp.Data = data
	cp.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
	return cp, nil
}

// Authorities returns s wired into every authority slot.
func (s *Store) Authorities() domain.Authorities {
	return domain.Authorities{Resume: s, Versions: s, Checkpoints: s.Checkpoints(), Install: s}
}
