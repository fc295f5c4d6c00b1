package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateAuthority(cfg, ve)
	validateServer(cfg, ve)
	validateState(cfg, ve)
	validatePrerequisites(cfg, ve)
	validateInstall(cfg, ve)
	validateTemplates(cfg, ve)
	validateRules(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateAuthority(cfg *Config, ve *ValidationError) {
	a := cfg.Authority
	switch a.Mode {
	case "local":
		if a.SQLitePath == "" {
			ve.Add("authority.sqlite_path is required in local mode")
		}
	case "remote":
		if a.BaseURL == "" {
			ve.Add("authority.base_url is required in remote mode")
		} else if u, err := url.Parse(a.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			ve.Add("authority.base_url %q is not an absolute URL", a.BaseURL)
		}
	default:
		ve.Add("authority.mode %q must be local or remote", a.Mode)
	}
	if a.Timeout <= 0 {
		ve.Add("authority.timeout must be > 0")
	}
	if a.RateLimit < 0 {
		ve.Add("authority.rate_limit must be >= 0")
	}
	if a.RateLimit > 0 && a.RateBurst <= 0 {
		ve.Add("authority.rate_burst must be > 0 when rate_limit is set")
	}
	if a.Breaker.MaxFailures == 0 {
		ve.Add("authority.breaker.max_failures must be > 0")
	}
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is not a valid host:port", cfg.Server.Addr)
	}
	if cfg.Server.RequestsPerMin < 0 {
		ve.Add("server.requests_per_min must be >= 0")
	}
	if cfg.Server.RequestsPerMin > 0 && cfg.Server.Burst <= 0 {
		ve.Add("server.burst must be > 0 when rate limiting is enabled")
	}
}

func validateState(cfg *Config, ve *ValidationError) {
	if cfg.State.PointerFile == "" {
		ve.Add("state.pointer_file must not be empty")
	}
	if cfg.State.OperationsFile == "" {
		ve.Add("state.operations_file must not be empty")
	}
	if a := cfg.State.Autosave; a != "" && !validSchedule(a) {
		ve.Add("state.autosave %q is neither a positive duration nor a cron expression", a)
	}
}

func validSchedule(s string) bool {
	if d, err := time.ParseDuration(s); err == nil {
		return d > 0
	}
	_, err := cron.ParseStandard(s)
	return err == nil
}

func validatePrerequisites(cfg *Config, ve *ValidationError) {
	p := cfg.Prerequisites
	if p.RuntimeBinary == "" {
		ve.Add("prerequisites.runtime_binary must not be empty")
	}
	if p.ComposeBinary == "" {
		ve.Add("prerequisites.compose_binary must not be empty")
	}
	if p.MinCPUs < 0 || p.MinMemoryMB < 0 {
		ve.Add("prerequisites minimums must be >= 0")
	}
	for i, port := range p.Ports {
		if port <= 0 || port > 65535 {
			ve.Add("prerequisites.ports[%d] %d is out of range", i, port)
		}
	}
}

func validateInstall(cfg *Config, ve *ValidationError) {
	s := cfg.Install.PollSchedule
	if s == "" {
		ve.Add("install.poll_schedule must not be empty")
	} else if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			ve.Add("install.poll_schedule must be a positive duration")
		}
	} else if _, err := cron.ParseStandard(s); err != nil {
		ve.Add("install.poll_schedule %q is neither a duration nor a cron expression", s)
	}
	if cfg.Install.RetryCountdown < 0 {
		ve.Add("install.retry_countdown must be >= 0")
	}
}

func validateTemplates(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, t := range cfg.Templates.Catalog {
		if t.ID == "" {
			ve.Add("templates.catalog[%d].id is required", i)
			continue
		}
		if seen[t.ID] {
			ve.Add("templates.catalog: duplicate template id %q", t.ID)
		}
		seen[t.ID] = true
		if len(t.Profiles) == 0 {
			ve.Add("templates.catalog[%d] (%s) must list at least one profile", i, t.ID)
		}
	}
}

func validateRules(cfg *Config, ve *ValidationError) {
	for i, r := range cfg.Validation.Rules {
		if r.Field == "" {
			ve.Add("validation.rules[%d].field is required", i)
		}
		if r.Pattern != "" {
			if _, err := regexp.Compile(r.Pattern); err != nil {
				ve.Add("validation.rules[%d].pattern: %v", i, err)
			}
		}
		if r.MaxLength > 0 && r.MinLength > r.MaxLength {
			ve.Add("validation.rules[%d]: min_length > max_length", i)
		}
	}
}
