package wizard

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"setupwiz/internal/domain"
)

type stubValidator struct {
	result domain.ValidationResult
	err    error
	calls  int
}

func (s *stubValidator) Validate(_ context.Context, cfg map[string]any) (domain.ValidationResult, error) {
	s.calls++
	if s.err != nil {
		return domain.ValidationResult{}, s.err
	}
	return s.result, nil
}

func okReport() *domain.PrerequisiteReport {
	return &domain.PrerequisiteReport{
		Runtime:     domain.ToolStatus{Name: "docker", Available: true},
		Compose:     domain.ToolStatus{Name: "docker compose", Available: true},
		CPUs:        4,
		MinCPUs:     2,
		MemoryMB:    8192,
		MinMemoryMB: 4096,
	}
}

func consistentCustom() domain.Session {
	return domain.Session{
		NavigationPath:   domain.PathCustom,
		Template:         domain.TemplateChoice{Custom: true},
		SelectedProfiles: []string{"core"},
		Configuration:    map[string]any{"domain": "example.com"},
		Prerequisites:    okReport(),
	}
}

func TestGateChecklist(t *testing.T) {
	g := NewGate(nil, slog.Default())
	ctx := context.Background()

	v := g.CanLeave(ctx, domain.StepChecklist, domain.Session{})
	assert.False(t, v.OK)
	assert.Equal(t, FailRejected, v.Kind)

	missing := okReport()
	missing.Compose.Available = false
	v = g.CanLeave(ctx, domain.StepChecklist, domain.Session{Prerequisites: missing})
	assert.False(t, v.OK)
	assert.False(t, v.Soft, "missing tooling is a hard failure")

	small := okReport()
	small.MemoryMB = 1024
	v = g.CanLeave(ctx, domain.StepChecklist, domain.Session{Prerequisites: small})
	assert.False(t, v.OK)
	assert.True(t, v.Soft)

	v = g.CanLeave(ctx, domain.StepChecklist, domain.Session{Prerequisites: small, ResourceOverride: true})
	assert.True(t, v.OK)

	// The override never bypasses hard failures.
	v = g.CanLeave(ctx, domain.StepChecklist, domain.Session{Prerequisites: missing, ResourceOverride: true})
	assert.False(t, v.OK)
}

func TestGateTemplates(t *testing.T) {
	g := NewGate(nil, nil)
	ctx := context.Background()

	v := g.CanLeave(ctx, domain.StepTemplates, domain.Session{})
	assert.False(t, v.OK)
	assert.True(t, v.Silent)

	// Chosen but not applied.
	v = g.CanLeave(ctx, domain.StepTemplates, domain.Session{Template: domain.TemplateChoice{ID: "minimal"}})
	assert.False(t, v.OK)

	v = g.CanLeave(ctx, domain.StepTemplates, domain.Session{Template: domain.TemplateChoice{ID: "minimal", Applied: true}})
	assert.True(t, v.OK)
	assert.Equal(t, domain.PathTemplate, v.CommitPath)
	assert.Equal(t, domain.StepConfigure, v.Branch)

	v = g.CanLeave(ctx, domain.StepTemplates, domain.Session{Template: domain.TemplateChoice{Custom: true}})
	assert.True(t, v.OK)
	assert.Equal(t, domain.PathCustom, v.CommitPath)
	assert.Equal(t, domain.StepProfiles, v.Branch)
}

func TestGateProfiles(t *testing.T) {
	g := NewGate(nil, nil)
	v := g.CanLeave(context.Background(), domain.StepProfiles, domain.Session{})
	assert.False(t, v.OK)

	v = g.CanLeave(context.Background(), domain.StepProfiles, domain.Session{SelectedProfiles: []string{"core"}})
	assert.True(t, v.OK)
	assert.Equal(t, domain.PathCustom, v.CommitPath)
	assert.Equal(t, domain.StepConfigure, v.Branch)
}

func TestGateConfigureInconsistentBeforeValidation(t *testing.T) {
	val := &stubValidator{result: domain.ValidationResult{Valid: true}}
	g := NewGate(val, nil)

	sess := consistentCustom()
	sess.NavigationPath = domain.PathUnset
	v := g.CanLeave(context.Background(), domain.StepConfigure, sess)

	assert.False(t, v.OK)
	assert.Equal(t, FailInconsistent, v.Kind)
	assert.Equal(t, 0, val.calls, "field validation must not run after a failed self-check")
}

func TestGateConfigureFieldErrors(t *testing.T) {
	val := &stubValidator{result: domain.ValidationResult{
		Errors: []domain.FieldError{{Field: "domain", Message: "must be a hostname"}},
	}}
	g := NewGate(val, nil)

	v := g.CanLeave(context.Background(), domain.StepConfigure, consistentCustom())
	assert.False(t, v.OK)
	assert.Equal(t, FailRejected, v.Kind)
	assert.Equal(t, []string{"domain: must be a hostname"}, v.Details)
}

func TestGateConfigureUnavailableBlocks(t *testing.T) {
	val := &stubValidator{err: domain.Unavailable("validate", errors.New("refused"))}
	g := NewGate(val, nil)

	v := g.CanLeave(context.Background(), domain.StepConfigure, consistentCustom())
	assert.False(t, v.OK)
	assert.Equal(t, FailUnavailable, v.Kind)
}

func TestGateConfigureNormalized(t *testing.T) {
	val := &stubValidator{result: domain.ValidationResult{Valid: true, Config: map[string]any{"domain": "example.com", "port": float64(443)}}}
	g := NewGate(val, nil)

	v := g.CanLeave(context.Background(), domain.StepConfigure, consistentCustom())
	assert.True(t, v.OK)
	assert.Equal(t, float64(443), v.Normalized["port"])
}

func TestGateIsNeverCached(t *testing.T) {
	val := &stubValidator{result: domain.ValidationResult{Valid: true}}
	g := NewGate(val, nil)
	ctx := context.Background()

	assert.True(t, g.CanLeave(ctx, domain.StepConfigure, consistentCustom()).OK)
	val.result = domain.ValidationResult{Errors: []domain.FieldError{{Field: "domain", Message: "bad"}}}
	assert.False(t, g.CanLeave(ctx, domain.StepConfigure, consistentCustom()).OK)
	assert.Equal(t, 2, val.calls)
}

func TestGateReview(t *testing.T) {
	val := &stubValidator{result: domain.ValidationResult{Valid: true, Config: map[string]any{"x": "y"}}}
	g := NewGate(val, nil)
	ctx := context.Background()

	v := g.CanLeave(ctx, domain.StepReview, consistentCustom())
	assert.True(t, v.OK)
	assert.Nil(t, v.Normalized)

	sess := consistentCustom()
	sess.Prerequisites.Runtime.Available = false
	v = g.CanLeave(ctx, domain.StepReview, sess)
	assert.False(t, v.OK)
	assert.Contains(t, v.Reason, "system check no longer passes")
}

func TestGateInstall(t *testing.T) {
	g := NewGate(nil, nil)
	v := g.CanLeave(context.Background(), domain.StepInstall, domain.Session{InstallationPhase: domain.PhaseBuilding})
	assert.False(t, v.OK)
	assert.Equal(t, []string{"phase: building"}, v.Details)

	v = g.CanLeave(context.Background(), domain.StepInstall, domain.Session{InstallationComplete: true})
	assert.True(t, v.OK)
}

func TestCheckConsistency(t *testing.T) {
	assert.Empty(t, CheckConsistency(consistentCustom()))

	s := consistentCustom()
	s.NavigationPath = domain.PathTemplate
	assert.Contains(t, CheckConsistency(s), "template path without an applied template")

	s = consistentCustom()
	s.SelectedProfiles = []string{" core"}
	assert.Len(t, CheckConsistency(s), 1)
}

func TestFailureKindSentinels(t *testing.T) {
	assert.ErrorIs(t, FailInconsistent.sentinel(), domain.ErrInconsistentState)
	assert.ErrorIs(t, FailUnavailable.sentinel(), domain.ErrAuthorityUnavailable)
	assert.ErrorIs(t, FailRejected.sentinel(), domain.ErrGateRejected)
	assert.Equal(t, "none", FailNone.String())
}
