package domain

import "time"

// VersionMetadata describes why a version was recorded.
type VersionMetadata struct {
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Version is an immutable fine-grained snapshot of profiles and configuration.
type Version struct {
	ID       string          `json:"versionId"`
	Profiles []string        `json:"profiles"`
	Config   map[string]any  `json:"config"`
	Metadata VersionMetadata `json:"metadata"`
}

// VersionEntry is a history listing row.
type VersionEntry struct {
	Version
	Current bool `json:"current,omitempty"`
}

// VersionInput is the payload of VersionAuthority.SaveVersion.
type VersionInput struct {
	Profiles []string        `json:"profiles"`
	Config   map[string]any  `json:"config"`
	Metadata VersionMetadata `json:"metadata"`
}

// Empty reports whether there is nothing worth snapshotting.
func (in VersionInput) Empty() bool {
	return len(in.Profiles) == 0 && len(in.Config) == 0
}

// UndoResult is the authority's answer to an undo request. Success=false with
// a message means there was no earlier version to return to.
type UndoResult struct {
	Success  bool           `json:"success"`
	Profiles []string       `json:"profiles,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// RestoreResult is the authority's answer to a version restore.
type RestoreResult struct {
	Success  bool           `json:"success"`
	Profiles []string       `json:"profiles,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// Checkpoint data keys always present in Checkpoint.Data.
const (
	CheckpointKeyCurrentStep      = "currentStep"
	CheckpointKeyConfiguration    = "configuration"
	CheckpointKeySelectedProfiles = "selectedProfiles"
	CheckpointKeyNavigationPath   = "navigationPath"
	CheckpointKeyTemplate         = "template"
)

// Checkpoint is an immutable milestone snapshot.
type Checkpoint struct {
	ID        string         `json:"checkpointId"`
	Stage     string         `json:"stage"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// ResumeState is what the resume authority persists and reports back.
type ResumeState struct {
	CanResume          bool              `json:"canResume"`
	Reason             string            `json:"reason,omitempty"`
	CurrentStep        int               `json:"currentStep,omitempty"`
	NavigationPath     NavigationPath    `json:"navigationPath"`
	Template           TemplateChoice    `json:"template"`
	Phase              InstallationPhase `json:"phase,omitempty"`
	SelectedProfiles   []string          `json:"selectedProfiles,omitempty"`
	Configuration      map[string]any    `json:"configuration,omitempty"`
	BackgroundTasks    []TaskRef         `json:"backgroundTasks,omitempty"`
	HoursSinceActivity float64           `json:"hoursSinceActivity,omitempty"`
	UpdatedAt          time.Time         `json:"updatedAt,omitempty"`
}

// InstallationStatus is reported by the external installation API.
type InstallationStatus struct {
	Phase    InstallationPhase `json:"phase"`
	Complete bool              `json:"complete"`
	Tasks    []TaskRef         `json:"tasks,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult is returned by ConfigValidator.Validate.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Config map[string]any `json:"config,omitempty"` // normalised config, when provided
	Errors []FieldError   `json:"errors,omitempty"`
}

// OperationStatus is the lifecycle state of an OperationRecord.
type OperationStatus string

const (
	OpStarted    OperationStatus = "started"
	OpInProgress OperationStatus = "in-progress"
	OpCompleted  OperationStatus = "completed"
	OpFailed     OperationStatus = "failed"
	OpCancelled  OperationStatus = "cancelled"
	OpRolledBack OperationStatus = "rolled-back"
)

// Terminal reports whether the operation has finished.
func (s OperationStatus) Terminal() bool {
	switch s {
	case OpCompleted, OpFailed, OpCancelled, OpRolledBack:
		return true
	}
	return false
}

// OperationRecord logs one multi-step background operation.
type OperationRecord struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Status      OperationStatus `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Steps       int             `json:"steps"`
	Step        int             `json:"step"`
	Message     string          `json:"message,omitempty"`
}

// RestorePoint is state copied back into the session by a recovery flow.
// Nil Path or Template leave those fields unchanged; Step 0 leaves the
// current step unchanged.
type RestorePoint struct {
	Step     int
	Profiles []string
	Config   map[string]any
	Path     *NavigationPath
	Template *TemplateChoice
}
