package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"setupwiz/internal/adapter/authority/wire"
	"setupwiz/internal/domain"
)

func (c *Client) CanResume(ctx context.Context) (domain.ResumeState, error) {
	var st domain.ResumeState
	err := c.call(ctx, "CanResume", http.MethodGet, wire.PathResume, nil, &st)
	return st, err
}

func (c *Client) ClearState(ctx context.Context) error {
	return c.call(ctx, "ClearState", http.MethodPost, wire.PathResumeClear, nil, nil)
}

func (c *Client) SaveState(ctx context.Context, state domain.ResumeState) error {
	return c.call(ctx, "SaveState", http.MethodPut, wire.PathResume, state, nil)
}

func (c *Client) SaveVersion(ctx context.Context, in domain.VersionInput) (string, error) {
	var resp wire.SaveVersionResponse
	if err := c.call(ctx, "SaveVersion", http.MethodPost, wire.PathVersions, in, &resp); err != nil {
		return "", err
	}
	return resp.VersionID, nil
}

func (c *Client) Undo(ctx context.Context) (domain.UndoResult, error) {
	var res domain.UndoResult
	err := c.call(ctx, "Undo", http.MethodPost, wire.PathVersionsUndo, nil, &res)
	return res, err
}

func (c *Client) ListHistory(ctx context.Context, limit int) ([]domain.VersionEntry, error) {
	path := wire.PathVersions
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp wire.HistoryResponse
	if err := c.call(ctx, "ListHistory", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Versions, nil
}

func (c *Client) Restore(ctx context.Context, versionID string) (domain.RestoreResult, error) {
	var res domain.RestoreResult
	path := fmt.Sprintf(wire.PathVersionRestore, url.PathEscape(versionID))
	err := c.call(ctx, "RestoreVersion", http.MethodPost, path, nil, &res)
	return res, err
}

// Validate asks the server for semantic validation of cfg.
func (c *Client) Validate(ctx context.Context, cfg map[string]any) (domain.ValidationResult, error) {
	var res domain.ValidationResult
	err := c.call(ctx, "Validate", http.MethodPost, wire.PathValidate, wire.ValidateRequest{Config: cfg}, &res)
	return res, err
}

// Status reads the installation status.
func (c *Client) Status(ctx context.Context) (domain.InstallationStatus, error) {
	var st domain.InstallationStatus
	err := c.call(ctx, "Status", http.MethodGet, wire.PathInstallStatus, nil, &st)
	return st, err
}

// PutStatus reports installation progress to the server, which pushes it to
// every connected wizard.
func (c *Client) PutStatus(ctx context.Context, st domain.InstallationStatus) error {
	return c.call(ctx, "PutStatus", http.MethodPut, wire.PathInstallStatus, st, nil)
}

// Checkpoints returns the checkpoint log client.
func (c *Client) Checkpoints() *Checkpoints {
	return &Checkpoints{c: c}
}

// Authorities returns c wired into every authority slot.
func (c *Client) Authorities() domain.Authorities {
	return domain.Authorities{Resume: c, Versions: c, Checkpoints: c.Checkpoints(), Install: c}
}

// Checkpoints implements domain.CheckpointAuthority.
type Checkpoints struct {
	c *Client
}

func (cp *Checkpoints) Create(ctx context.Context, stage string, data map[string]any) (domain.Checkpoint, error) {
	var out domain.Checkpoint
	err := cp.c.call(ctx, "CreateCheckpoint", http.MethodPost, wire.PathCheckpoints,
		wire.CreateCheckpointRequest{Stage: stage, Data: data}, &out)
	return out, err
}

func (cp *Checkpoints) List(ctx context.Context) ([]domain.Checkpoint, error) {
	var resp wire.CheckpointsResponse
	if err := cp.c.call(ctx, "ListCheckpoints", http.MethodGet, wire.PathCheckpoints, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Checkpoints, nil
}

func (cp *Checkpoints) Restore(ctx context.Context, checkpointID string) (domain.Checkpoint, error) {
	var out domain.Checkpoint
	path := fmt.Sprintf(wire.PathCheckpointRestore, url.PathEscape(checkpointID))
	err := cp.c.call(ctx, "RestoreCheckpoint", http.MethodPost, path, nil, &out)
	return out, err
}

var (
	_ domain.ResumeAuthority          = (*Client)(nil)
	_ domain.VersionAuthority         = (*Client)(nil)
	_ domain.ConfigValidator          = (*Client)(nil)
	_ domain.InstallationStatusSource = (*Client)(nil)
	_ domain.CheckpointAuthority      = (*Checkpoints)(nil)
)
