package versioning

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/tracer"
)

// CreateCheckpoint snapshots the session at a milestone. extra is merged
// into the checkpoint data; the session keys always win. The new id is
// written to the local pointer, a pointer failure is logged only.
func (m *Manager) CreateCheckpoint(ctx context.Context, stage string, extra map[string]any) (domain.Checkpoint, error) {
	if stage == "" {
		return domain.Checkpoint{}, domain.NewDomainError("Manager.CreateCheckpoint", domain.ErrInvalidInput, "empty stage")
	}
	done, err := guard(&m.checkpointBusy, "Manager.CreateCheckpoint", "checkpoint")
	if err != nil {
		return domain.Checkpoint{}, err
	}
	defer done()

	data := make(map[string]any, len(extra)+5)
	maps.Copy(data, extra)
	maps.Copy(data, checkpointData(m.wizard.Session()))

	start := time.Now()
	cp, err := tracer.Do(ctx, "checkpoint.create", func(ctx context.Context) (domain.Checkpoint, error) {
		return m.checkpoints.Create(ctx, stage, data)
	}, tracer.StringAttr("checkpoint.stage", stage))
	m.metrics.ObserveAuthority("CreateCheckpoint", start, err)
	if err != nil {
		return domain.Checkpoint{}, authorityErr("Manager.CreateCheckpoint", err)
	}

	if err := m.pointer.Set(cp.ID); err != nil {
		m.logger.Warn("checkpoint pointer not updated", "checkpoint_id", cp.ID, "error", err)
	}
	m.metrics.CheckpointCreated(stage)
	m.logger.Info("checkpoint created", "checkpoint_id", cp.ID, "stage", stage)
	m.publish(ctx, domain.EventCheckpointCreated, map[string]string{"checkpointId": cp.ID, "stage": stage})
	return cp, nil
}

// ListCheckpoints returns the authority's checkpoints, newest first.
func (m *Manager) ListCheckpoints(ctx context.Context) ([]domain.Checkpoint, error) {
	v, err, _ := m.reads.Do("checkpoints", func() (any, error) {
		start := time.Now()
		list, err := m.checkpoints.List(ctx)
		m.metrics.ObserveAuthority("ListCheckpoints", start, err)
		return list, err
	})
	if err != nil {
		return nil, authorityErr("Manager.ListCheckpoints", err)
	}
	return v.([]domain.Checkpoint), nil
}

// LatestCheckpointID returns the locally cached id of the newest checkpoint.
func (m *Manager) LatestCheckpointID() string { return m.pointer.ID() }

// ClearPointer forgets the cached checkpoint id.
func (m *Manager) ClearPointer() error { return m.pointer.Clear() }

// RestoreCheckpoint sets the current step, configuration and profiles to
// exactly the values stored in checkpoint id. The version log is untouched.
func (m *Manager) RestoreCheckpoint(ctx context.Context, id string) (domain.Checkpoint, error) {
	if id == "" {
		return domain.Checkpoint{}, domain.NewDomainError("Manager.RestoreCheckpoint", domain.ErrInvalidInput, "empty checkpoint id")
	}
	ok, err := m.confirm.Confirm(ctx, fmt.Sprintf("Restore checkpoint %s? Current progress will be replaced.", id))
	if err != nil {
		return domain.Checkpoint{}, domain.WrapOp("Manager.RestoreCheckpoint", err)
	}
	if !ok {
		return domain.Checkpoint{}, domain.NewDomainError("Manager.RestoreCheckpoint", domain.ErrDeclined, id)
	}

	done, err := guard(&m.checkpointBusy, "Manager.RestoreCheckpoint", "checkpoint")
	if err != nil {
		return domain.Checkpoint{}, err
	}
	defer done()

	start := time.Now()
	cp, err := tracer.Do(ctx, "checkpoint.restore", func(ctx context.Context) (domain.Checkpoint, error) {
		return m.checkpoints.Restore(ctx, id)
	}, tracer.StringAttr("checkpoint.id", id))
	m.metrics.ObserveAuthority("RestoreCheckpoint", start, err)
	if err != nil {
		m.metrics.Restore("checkpoint", err)
		return domain.Checkpoint{}, authorityErr("Manager.RestoreCheckpoint", err)
	}

	rp, err := restorePoint(cp)
	if err == nil {
		err = m.wizard.Restore(ctx, rp)
	}
	m.metrics.Restore("checkpoint", err)
	if err != nil {
		return domain.Checkpoint{}, domain.WrapOp("Manager.RestoreCheckpoint", err)
	}

	m.logger.Info("checkpoint restored", "checkpoint_id", cp.ID, "stage", cp.Stage, "step", rp.Step)
	m.publish(ctx, domain.EventCheckpointRestored, map[string]string{"checkpointId": cp.ID, "stage": cp.Stage})
	return cp, nil
}

func checkpointData(sess domain.Session) map[string]any {
	profiles := sess.SelectedProfiles
	if profiles == nil {
		profiles = []string{}
	}
	cfg := sess.Configuration
	if cfg == nil {
		cfg = map[string]any{}
	}
	return map[string]any{
		domain.CheckpointKeyCurrentStep:      sess.CurrentStep,
		domain.CheckpointKeyConfiguration:    cfg,
		domain.CheckpointKeySelectedProfiles: profiles,
		domain.CheckpointKeyNavigationPath:   sess.NavigationPath.String(),
		domain.CheckpointKeyTemplate:         sess.Template,
	}
}

// checkpointState is the typed view of Checkpoint.Data. Data may have been
// through JSON already, so decoding goes through JSON too.
type checkpointState struct {
	CurrentStep      int                    `json:"currentStep"`
	Configuration    map[string]any         `json:"configuration"`
	SelectedProfiles []string               `json:"selectedProfiles"`
	NavigationPath   *domain.NavigationPath `json:"navigationPath"`
	Template         *domain.TemplateChoice `json:"template"`
}

func restorePoint(cp domain.Checkpoint) (domain.RestorePoint, error) {
	raw, err := json.Marshal(cp.Data)
	if err != nil {
		return domain.RestorePoint{}, fmt.Errorf("checkpoint %s: encode data: %w", cp.ID, err)
	}
	var st checkpointState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.RestorePoint{}, domain.NewSubSystemError("checkpoint", "restorePoint", domain.ErrInvalidInput, err.Error())
	}
	if st.CurrentStep == 0 {
		return domain.RestorePoint{}, domain.NewSubSystemError("checkpoint", "restorePoint", domain.ErrInvalidInput,
			fmt.Sprintf("checkpoint %s has no %s", cp.ID, domain.CheckpointKeyCurrentStep))
	}
	return domain.RestorePoint{
		Step:     st.CurrentStep,
		Profiles: st.SelectedProfiles,
		Config:   st.Configuration,
		Path:     st.NavigationPath,
		Template: st.Template,
	}, nil
}
