// Package versioning keeps the two recovery logs of a wizard session:
// fine-grained versions of profiles and configuration, and coarse
// checkpoints taken at installation milestones.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/metrics"
	"setupwiz/internal/infra/tracer"
)

// Wizard is the part of the navigation controller the manager needs: a
// session snapshot to record from and a way to write restored state back.
type Wizard interface {
	Session() domain.Session
	Restore(ctx context.Context, rp domain.RestorePoint) error
}

// SaveStatus tells whether a save reached the authority.
type SaveStatus int

const (
	SaveWritten SaveStatus = iota
	// SaveSkipped: profiles and configuration were both empty.
	SaveSkipped
)

// SaveResult is returned by Record and SaveVersion.
type SaveResult struct {
	Status    SaveStatus
	VersionID string
}

// UndoStatus classifies an undo attempt.
type UndoStatus int

const (
	UndoApplied UndoStatus = iota
	// UndoNothing: the log was empty. Informational, not a failure.
	UndoNothing
	// UndoUnavailable: the authority could not be reached; state is unchanged.
	UndoUnavailable
	UndoDeclined
)

func (s UndoStatus) String() string {
	switch s {
	case UndoApplied:
		return "applied"
	case UndoNothing:
		return "nothing"
	case UndoUnavailable:
		return "unavailable"
	case UndoDeclined:
		return "declined"
	}
	return "unknown"
}

// UndoOutcome is the structured result of Undo.
type UndoOutcome struct {
	Status  UndoStatus
	Message string
	// Err is the authority error behind UndoUnavailable.
	Err error
}

// Options configures a Manager.
type Options struct {
	Versions    domain.VersionAuthority
	Checkpoints domain.CheckpointAuthority
	Pointer     *Pointer
	Confirmer   domain.Confirmer
	Bus         domain.EventBus
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Manager writes and restores versions and checkpoints. Writes against the
// same log never overlap: a second one fails with ErrOperationInFlight.
// Identical concurrent reads are coalesced.
type Manager struct {
	wizard      Wizard
	versions    domain.VersionAuthority
	checkpoints domain.CheckpointAuthority
	pointer     *Pointer
	confirm     domain.Confirmer
	bus         domain.EventBus
	metrics     *metrics.Metrics
	logger      *slog.Logger

	versionBusy    atomic.Bool
	checkpointBusy atomic.Bool
	reads          singleflight.Group
}

// NewManager creates a Manager. Without a Confirmer every destructive action
// is declined.
func NewManager(w Wizard, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Confirmer == nil {
		opts.Confirmer = domain.ConfirmFunc(func(context.Context, string) (bool, error) { return false, nil })
	}
	return &Manager{
		wizard:      w,
		versions:    opts.Versions,
		checkpoints: opts.Checkpoints,
		pointer:     opts.Pointer,
		confirm:     opts.Confirmer,
		bus:         opts.Bus,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

func guard(flag *atomic.Bool, op, log string) (func(), error) {
	if !flag.CompareAndSwap(false, true) {
		return nil, domain.NewSubSystemError(log, op, domain.ErrOperationInFlight, "")
	}
	return func() { flag.Store(false) }, nil
}

// SaveVersion snapshots the current session (explicit user save).
func (m *Manager) SaveVersion(ctx context.Context, description string) (SaveResult, error) {
	sess := m.wizard.Session()
	return m.Record(ctx, sess.SelectedProfiles, sess.Configuration, domain.VersionMetadata{
		Action:      "manual-save",
		Description: description,
	})
}

// RecordTransition records a version after the user left step left.
func (m *Manager) RecordTransition(ctx context.Context, sess domain.Session, left domain.Step) (string, error) {
	res, err := m.Record(ctx, sess.SelectedProfiles, sess.Configuration, domain.VersionMetadata{
		Action:      "step:" + string(left.ID),
		Description: "left " + left.Title,
	})
	if err != nil {
		return "", err
	}
	return res.VersionID, nil
}

// Record writes a version unless both profiles and config are empty.
func (m *Manager) Record(ctx context.Context, profiles []string, config map[string]any, meta domain.VersionMetadata) (SaveResult, error) {
	in := domain.VersionInput{
		Profiles: domain.NormalizeProfiles(profiles),
		Config:   domain.CloneConfig(config),
		Metadata: meta,
	}
	if in.Empty() {
		m.metrics.VersionSkipped()
		m.logger.Debug("version skipped, nothing to snapshot", "action", meta.Action)
		return SaveResult{Status: SaveSkipped}, nil
	}
	if in.Metadata.Timestamp.IsZero() {
		in.Metadata.Timestamp = time.Now().UTC()
	}

	done, err := guard(&m.versionBusy, "Manager.Record", "versioning")
	if err != nil {
		return SaveResult{}, err
	}
	defer done()

	start := time.Now()
	id, err := tracer.Do(ctx, "versioning.save", func(ctx context.Context) (string, error) {
		return m.versions.SaveVersion(ctx, in)
	}, tracer.StringAttr("version.action", meta.Action))
	m.metrics.ObserveAuthority("SaveVersion", start, err)
	if err != nil {
		return SaveResult{}, authorityErr("Manager.Record", err)
	}

	m.metrics.VersionSaved()
	m.logger.Info("version saved", "version_id", id, "action", meta.Action, "profiles", len(in.Profiles))
	m.publish(ctx, domain.EventVersionSaved, map[string]string{"versionId": id, "action": meta.Action})
	return SaveResult{Status: SaveWritten, VersionID: id}, nil
}

// Undo asks the authority to pop the latest version and applies the one
// that becomes current. The user must confirm first.
func (m *Manager) Undo(ctx context.Context) (UndoOutcome, error) {
	ok, err := m.confirm.Confirm(ctx, "Undo the most recent change?")
	if err != nil {
		return UndoOutcome{}, domain.WrapOp("Manager.Undo", err)
	}
	if !ok {
		return UndoOutcome{Status: UndoDeclined, Message: "undo cancelled"}, nil
	}

	done, err := guard(&m.versionBusy, "Manager.Undo", "versioning")
	if err != nil {
		return UndoOutcome{}, err
	}
	defer done()

	start := time.Now()
	res, err := tracer.Do(ctx, "versioning.undo", m.versions.Undo)
	m.metrics.ObserveAuthority("Undo", start, err)
	if err != nil {
		m.metrics.Restore("undo", err)
		m.logger.Warn("undo unavailable, state unchanged", "error", err)
		return UndoOutcome{Status: UndoUnavailable, Message: "undo is not available right now", Err: err}, nil
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "nothing to undo"
		}
		m.logger.Info("undo had nothing to do", "message", msg)
		return UndoOutcome{Status: UndoNothing, Message: msg}, nil
	}
	// Empty snapshots are never saved, so an empty result is not a real
	// previous version. Applying it would strip the current selections.
	if len(res.Profiles) == 0 && len(res.Config) == 0 {
		m.logger.Warn("undo returned no previous state, keeping selections")
		return UndoOutcome{Status: UndoNothing, Message: "no earlier version to return to"}, nil
	}

	if err := m.wizard.Restore(ctx, domain.RestorePoint{Profiles: res.Profiles, Config: res.Config}); err != nil {
		m.metrics.Restore("undo", err)
		return UndoOutcome{}, domain.WrapOp("Manager.Undo", err)
	}
	m.metrics.Restore("undo", nil)
	m.logger.Info("undo applied", "profiles", len(res.Profiles))
	m.publish(ctx, domain.EventVersionUndone, map[string]int{"profiles": len(res.Profiles)})
	return UndoOutcome{Status: UndoApplied, Message: res.Message}, nil
}

// RestoreVersion copies version id forward as the current state. Later
// versions stay in the log.
func (m *Manager) RestoreVersion(ctx context.Context, id string) error {
	if id == "" {
		return domain.NewDomainError("Manager.RestoreVersion", domain.ErrInvalidInput, "empty version id")
	}
	ok, err := m.confirm.Confirm(ctx, fmt.Sprintf("Restore version %s? Current selections will be replaced.", id))
	if err != nil {
		return domain.WrapOp("Manager.RestoreVersion", err)
	}
	if !ok {
		return domain.NewDomainError("Manager.RestoreVersion", domain.ErrDeclined, id)
	}

	done, err := guard(&m.versionBusy, "Manager.RestoreVersion", "versioning")
	if err != nil {
		return err
	}
	defer done()

	start := time.Now()
	res, err := tracer.Do(ctx, "versioning.restore", func(ctx context.Context) (domain.RestoreResult, error) {
		return m.versions.Restore(ctx, id)
	}, tracer.StringAttr("version.id", id))
	m.metrics.ObserveAuthority("RestoreVersion", start, err)
	if err == nil && !res.Success {
		err = domain.NewSubSystemError("versioning", "Manager.RestoreVersion", domain.ErrNotFound, id)
	}
	if err != nil {
		m.metrics.Restore("version", err)
		return authorityErr("Manager.RestoreVersion", err)
	}

	err = m.wizard.Restore(ctx, domain.RestorePoint{Profiles: res.Profiles, Config: res.Config})
	m.metrics.Restore("version", err)
	if err != nil {
		return domain.WrapOp("Manager.RestoreVersion", err)
	}
	m.logger.Info("version restored", "version_id", id)
	m.publish(ctx, domain.EventVersionRestored, map[string]string{"versionId": id})
	return nil
}

// History lists up to limit versions, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]domain.VersionEntry, error) {
	v, err, _ := m.reads.Do(fmt.Sprintf("history:%d", limit), func() (any, error) {
		start := time.Now()
		entries, err := m.versions.ListHistory(ctx, limit)
		m.metrics.ObserveAuthority("ListHistory", start, err)
		return entries, err
	})
	if err != nil {
		return nil, authorityErr("Manager.History", err)
	}
	return v.([]domain.VersionEntry), nil
}

func (m *Manager) publish(ctx context.Context, t domain.EventType, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, domain.NewEvent(t, payload))
}

// authorityErr keeps not-found and already-classified errors as they are and
// marks everything else as an unreachable authority.
func authorityErr(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrAuthorityUnavailable),
		errors.Is(err, domain.ErrInvalidInput):
		return domain.WrapOp(op, err)
	default:
		return domain.Unavailable(op, err)
	}
}
