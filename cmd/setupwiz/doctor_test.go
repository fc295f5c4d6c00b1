package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"setupwiz/internal/adapter/authority/sqlite"
	"setupwiz/internal/domain"
	"setupwiz/internal/infra/config"
)

func TestCheckConfigFile(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "setupwiz.yaml")
	if err := os.WriteFile(present, []byte("logger:\n  level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		path string
		err  error
		want CheckStatus
	}{
		{"missing file uses defaults", filepath.Join(dir, "none.yaml"), nil, StatusWarn},
		{"load error", present, &config.ValidationError{Errors: []string{"bad"}}, StatusFail},
		{"valid", present, nil, StatusPass},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := checkConfigFile(tc.path, tc.err)(context.Background(), nil)
			if res.Status != tc.want {
				t.Errorf("status = %s, want %s (%s)", res.Status, tc.want, res.Message)
			}
		})
	}
}

func TestCheckStateDir(t *testing.T) {
	if res := checkStateDir(context.Background(), nil); res.Status != StatusFail {
		t.Errorf("nil config: %s", res.Status)
	}
	cfg := testConfig(t)
	cfg.State.DataDir = filepath.Join(cfg.State.DataDir, "nested")
	if res := checkStateDir(context.Background(), cfg); res.Status != StatusPass {
		t.Errorf("status = %s: %s", res.Status, res.Message)
	}
}

type downAuthority struct{ domain.ResumeAuthority }

func (downAuthority) CanResume(context.Context) (domain.ResumeState, error) {
	return domain.ResumeState{}, errors.New("connection refused")
}

func TestCheckAuthority(t *testing.T) {
	cfg := testConfig(t)
	store, err := sqlite.Open(cfg.Authority.SQLitePath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if res := checkAuthority(store)(context.Background(), cfg); res.Status != StatusPass {
		t.Errorf("local: %s %s", res.Status, res.Message)
	}

	cfg.Authority.Mode = "remote"
	res := checkAuthority(downAuthority{})(context.Background(), cfg)
	if res.Status != StatusFail || !strings.Contains(res.Fix, "setupwiz serve") {
		t.Errorf("remote down: %+v", res)
	}
}

func TestPrerequisiteChecks(t *testing.T) {
	rep := healthyReport()
	rep.Compose = domain.ToolStatus{Name: "docker compose", Detail: "not found in PATH"}
	rep.MemoryMB = 1024

	var buf bytes.Buffer
	err := report(context.Background(), &buf, nil, prerequisiteChecks(context.Background(), stubChecker{rep}))
	if err == nil {
		t.Fatal("expected failure for missing compose")
	}
	out := buf.String()
	for _, want := range []string{
		"[PASS] Container runtime: docker 27.3.1",
		"[FAIL] Compose: docker compose not available: not found in PATH",
		"[WARN] Resources",
		"1 passed, 1 warnings, 1 failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestReportAllPass(t *testing.T) {
	var buf bytes.Buffer
	checks := prerequisiteChecks(context.Background(), stubChecker{healthyReport()})
	if err := report(context.Background(), &buf, nil, checks); err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(buf.String(), "All checks passed") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}
