package validator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/config"
)

type recordingRemote struct {
	calls int
	got   map[string]any
	res   domain.ValidationResult
	err   error
}

func (r *recordingRemote) Validate(_ context.Context, cfg map[string]any) (domain.ValidationResult, error) {
	r.calls++
	r.got = cfg
	return r.res, r.err
}

func domainRules() config.ValidationConfig {
	return config.ValidationConfig{Rules: []config.FieldRule{
		{Field: "domain", Required: true, Pattern: `^[a-z0-9.-]+$`, MaxLength: 253},
		{Field: "admin_password", Required: true, MinLength: 12},
	}}
}

func TestLocalRules(t *testing.T) {
	v, err := New(domainRules(), nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		cfg   map[string]any
		field string
	}{
		{"missing", map[string]any{"admin_password": "long-enough-pw"}, "domain"},
		{"blank", map[string]any{"domain": "   ", "admin_password": "long-enough-pw"}, "domain"},
		{"pattern", map[string]any{"domain": "Bad_Host", "admin_password": "long-enough-pw"}, "domain"},
		{"short", map[string]any{"domain": "a.example", "admin_password": "short"}, "admin_password"},
		{"not a string", map[string]any{"domain": 42, "admin_password": "long-enough-pw"}, "domain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(context.Background(), tt.cfg)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, tt.field, res.Errors[0].Field)
		})
	}
}

func TestNormalizesStrings(t *testing.T) {
	v, err := New(domainRules(), nil, nil)
	require.NoError(t, err)

	in := map[string]any{"domain": " a.example ", "admin_password": "long-enough-pw"}
	res, err := v.Validate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "a.example", res.Config["domain"])
	assert.Equal(t, " a.example ", in["domain"], "input is not modified")
}

func TestBadPatternRejectedAtConstruction(t *testing.T) {
	_, err := New(config.ValidationConfig{Rules: []config.FieldRule{{Field: "x", Pattern: "("}}}, nil, nil)
	assert.Error(t, err)
}

func TestSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"type": "object",
		"properties": {
			"retention_days": {"type": "integer", "minimum": 1}
		},
		"required": ["retention_days"]
	}`), 0o600))

	v, err := New(config.ValidationConfig{SchemaFile: path}, nil, nil)
	require.NoError(t, err)

	res, err := v.Validate(context.Background(), map[string]any{"retention_days": 14})
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = v.Validate(context.Background(), map[string]any{"retention_days": 0})
	require.NoError(t, err)
	assert.False(t, res.Valid)

	res, err = v.Validate(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestMissingSchemaFile(t *testing.T) {
	_, err := New(config.ValidationConfig{SchemaFile: filepath.Join(t.TempDir(), "nope.json")}, nil, nil)
	assert.Error(t, err)
}

func TestRemoteRunsAfterLocalRules(t *testing.T) {
	remote := &recordingRemote{res: domain.ValidationResult{Valid: true}}
	v, err := New(domainRules(), remote, nil)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Zero(t, remote.calls, "local failures short-circuit")

	res, err := v.Validate(context.Background(), map[string]any{"domain": "a.example ", "admin_password": "long-enough-pw"})
	require.NoError(t, err)
	assert.Equal(t, 1, remote.calls)
	assert.Equal(t, "a.example", remote.got["domain"])
	assert.Equal(t, "a.example", res.Config["domain"], "local normalisation kept when remote returns none")
}

func TestRemoteRejection(t *testing.T) {
	remote := &recordingRemote{res: domain.ValidationResult{Errors: []domain.FieldError{{Field: "domain", Message: "not resolvable"}}}}
	v, err := New(config.ValidationConfig{}, remote, nil)
	require.NoError(t, err)

	res, err := v.Validate(context.Background(), map[string]any{"domain": "a.example"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "not resolvable", res.Errors[0].Message)
}

func TestRemoteUnavailable(t *testing.T) {
	remote := &recordingRemote{err: domain.Unavailable("Validate", errors.New("connection refused"))}
	v, err := New(config.ValidationConfig{}, remote, nil)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), map[string]any{"domain": "a.example"})
	assert.ErrorIs(t, err, domain.ErrAuthorityUnavailable)
}
