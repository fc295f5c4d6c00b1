// Package wire holds the HTTP contract shared by the authority server and
// the remote authority client.
package wire

import "setupwiz/internal/domain"

// Routes.
const (
	PathResume            = "/api/wizard/resume"
	PathResumeClear       = "/api/wizard/resume/clear"
	PathVersions          = "/api/versions"
	PathVersionsUndo      = "/api/versions/undo"
	PathVersionRestore    = "/api/versions/%s/restore"
	PathCheckpoints       = "/api/checkpoints"
	PathCheckpointRestore = "/api/checkpoints/%s/restore"
	PathValidate          = "/api/config/validate"
	PathInstallStatus     = "/api/install/status"
	PathEvents            = "/ws"
)

// SaveVersionResponse answers POST /api/versions.
type SaveVersionResponse struct {
	VersionID string `json:"versionId"`
}

// HistoryResponse answers GET /api/versions.
type HistoryResponse struct {
	Versions []domain.VersionEntry `json:"versions"`
}

// CreateCheckpointRequest is the body of POST /api/checkpoints.
type CreateCheckpointRequest struct {
	Stage string         `json:"stage"`
	Data  map[string]any `json:"data"`
}

// CheckpointsResponse answers GET /api/checkpoints.
type CheckpointsResponse struct {
	Checkpoints []domain.Checkpoint `json:"checkpoints"`
}

// ValidateRequest is the body of POST /api/config/validate.
type ValidateRequest struct {
	Config map[string]any `json:"config"`
}

// ErrorBody is returned with every non-2xx status.
type ErrorBody struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}
