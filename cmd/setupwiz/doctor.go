package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/config"
	"setupwiz/internal/infra/logger"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor(ctx context.Context, out io.Writer) error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	var checker domain.PrerequisiteChecker
	var auth domain.ResumeAuthority
	if cfg != nil {
		log, closer, err := logger.New(cfg.Logger)
		if err == nil {
			defer closer()
			a, err := newApp(cfg, log, appOptions{confirmer: domain.AlwaysConfirm})
			if err != nil {
				cfgErr = errors.Join(cfgErr, err)
			} else {
				defer a.close()
				checker, auth = a.checker, a.auth.Resume
			}
		}
	}

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "State directory", Fn: checkStateDir},
		{Name: "Authority", Fn: checkAuthority(auth)},
	}
	checks = append(checks, prerequisiteChecks(ctx, checker)...)
	return report(ctx, out, cfg, checks)
}

func report(ctx context.Context, out io.Writer, cfg *config.Config, checks []Check) error {
	fmt.Fprintln(out, "setupwiz doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(ctx, cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(out, "\nFix the FAIL issues above before running the wizard.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(out, "\nThe wizard should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(out, "\nAll checks passed! setupwiz is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile returns a check that verifies the config file parses.
// A missing file only warns: defaults and env overrides still apply.
func checkConfigFile(cfgPath string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("configuration error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check %s and SETUPWIZ_* variables", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("config loaded from %s", cfgPath)}
	}
}

// checkStateDir verifies the data directory exists and is writable.
func checkStateDir(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	absDir, _ := filepath.Abs(cfg.State.DataDir)
	if err := os.MkdirAll(absDir, 0o700); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("data directory %s cannot be created: %v", absDir, err),
			Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", absDir),
		}
	}
	testFile := filepath.Join(absDir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("data directory %s is not writable: %v", absDir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 700 %s", absDir),
		}
	}
	os.Remove(testFile)
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("data directory %s writable", absDir)}
}

// checkAuthority asks the authority whether a session can be resumed, the
// cheapest call every mode supports.
func checkAuthority(auth domain.ResumeAuthority) func(context.Context, *config.Config) CheckResult {
	return func(ctx context.Context, cfg *config.Config) CheckResult {
		if auth == nil || cfg == nil {
			return CheckResult{Status: StatusFail, Message: "cannot check: authority not configured"}
		}
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		start := time.Now()
		st, err := auth.CanResume(ctx)
		if err != nil {
			fix := "Check authority.sqlite_path permissions"
			if cfg.Authority.Mode == "remote" {
				fix = fmt.Sprintf("Start 'setupwiz serve' at %s or check authority.token", cfg.Authority.BaseURL)
			}
			return CheckResult{Status: StatusFail, Message: fmt.Sprintf("%s authority unreachable: %v", cfg.Authority.Mode, err), Fix: fix}
		}
		msg := fmt.Sprintf("%s authority reachable (latency: %dms)", cfg.Authority.Mode, time.Since(start).Milliseconds())
		if st.CanResume {
			msg += fmt.Sprintf(", saved progress at step %d", st.CurrentStep)
		}
		return CheckResult{Status: StatusPass, Message: msg}
	}
}

// prerequisiteChecks runs the host check once and reports each part of it
// as its own line.
func prerequisiteChecks(ctx context.Context, checker domain.PrerequisiteChecker) []Check {
	if checker == nil {
		return []Check{{Name: "Prerequisites", Fn: func(context.Context, *config.Config) CheckResult {
			return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
		}}}
	}
	rep, err := checker.Run(ctx)
	if err != nil {
		return []Check{{Name: "Prerequisites", Fn: func(context.Context, *config.Config) CheckResult {
			return CheckResult{Status: StatusFail, Message: err.Error()}
		}}}
	}
	return []Check{
		{Name: "Container runtime", Fn: toolCheck(rep.Runtime)},
		{Name: "Compose", Fn: toolCheck(rep.Compose)},
		{Name: "Resources", Fn: func(context.Context, *config.Config) CheckResult {
			msg := fmt.Sprintf("%d CPUs, %d MB memory", rep.CPUs, rep.MemoryMB)
			if short := rep.ResourceShortfalls(); len(short) > 0 {
				return CheckResult{
					Status:  StatusWarn,
					Message: msg + ": " + strings.Join(short, ", "),
					Fix:     "The wizard lets you continue after confirming the shortfall",
				}
			}
			return CheckResult{Status: StatusPass, Message: msg}
		}},
	}
}

func toolCheck(t domain.ToolStatus) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if !t.Available {
			msg := t.Name + " not available"
			if t.Detail != "" {
				msg += ": " + t.Detail
			}
			return CheckResult{Status: StatusFail, Message: msg, Fix: "Install " + t.Name + " and make sure it is in PATH"}
		}
		return CheckResult{Status: StatusPass, Message: strings.TrimSpace(t.Name + " " + t.Version)}
	}
}
