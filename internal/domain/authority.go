package domain

import "context"

// ResumeAuthority answers whether a previous session can be continued.
type ResumeAuthority interface {
	CanResume(ctx context.Context) (ResumeState, error)
	ClearState(ctx context.Context) error
	SaveState(ctx context.Context, state ResumeState) error
}

// VersionAuthority owns the append-only version log.
type VersionAuthority interface {
	SaveVersion(ctx context.Context, in VersionInput) (string, error)
	// Undo pops the most recent version and returns the one now current.
	Undo(ctx context.Context) (UndoResult, error)
	// ListHistory returns up to limit entries, newest first.
	ListHistory(ctx context.Context, limit int) ([]VersionEntry, error)
	Restore(ctx context.Context, versionID string) (RestoreResult, error)
}

// CheckpointAuthority owns the append-only checkpoint log.
type CheckpointAuthority interface {
	Create(ctx context.Context, stage string, data map[string]any) (Checkpoint, error)
	// List returns checkpoints newest first.
	List(ctx context.Context) ([]Checkpoint, error)
	Restore(ctx context.Context, checkpointID string) (Checkpoint, error)
}

// Authorities bundles the collaborators of record. The version and
// checkpoint logs both have a Restore method, so they are separate values.
type Authorities struct {
	Resume      ResumeAuthority
	Versions    VersionAuthority
	Checkpoints CheckpointAuthority
	Install     InstallationStatusSource
}

// PrerequisiteChecker inspects the host for tooling and resources.
type PrerequisiteChecker interface {
	Run(ctx context.Context) (PrerequisiteReport, error)
}

// ConfigValidator validates a configuration map.
type ConfigValidator interface {
	Validate(ctx context.Context, config map[string]any) (ValidationResult, error)
}

// ServiceProber reports whether a tracked service instance is still alive.
type ServiceProber interface {
	Alive(ctx context.Context, serviceID string) (bool, error)
}

// InstallationStatusSource reports installation progress.
type InstallationStatusSource interface {
	Status(ctx context.Context) (InstallationStatus, error)
}

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// AlwaysConfirm approves every prompt. Used by non-interactive callers that
// already obtained consent (e.g. an explicit --yes flag).
var AlwaysConfirm Confirmer = ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })
