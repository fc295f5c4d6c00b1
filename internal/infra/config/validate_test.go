package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateDefaultsPass(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateAuthorityMode(t *testing.T) {
	cfg := Defaults()
	cfg.Authority.Mode = "cloud"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `authority.mode "cloud" must be local or remote`)
}

func TestValidateRemoteNeedsURL(t *testing.T) {
	cfg := Defaults()
	cfg.Authority.Mode = "remote"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "authority.base_url is required")

	cfg.Authority.BaseURL = "not a url"
	err = Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "is not an absolute URL")
}

func TestValidateRateLimitNeedsBurst(t *testing.T) {
	cfg := Defaults()
	cfg.Authority.RateBurst = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "authority.rate_burst must be > 0")
}

func TestValidatePollSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		ok       bool
	}{
		{"5s", true},
		{"*/1 * * * *", true},
		{"0s", false},
		{"whenever", false},
		{"", false},
	}
	for _, tt := range tests {
		cfg := Defaults()
		cfg.Install.PollSchedule = tt.schedule
		err := Validate(cfg)
		if tt.ok && err != nil {
			t.Errorf("schedule %q: unexpected error %v", tt.schedule, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("schedule %q: expected error", tt.schedule)
		}
	}
}

func TestValidateAutosave(t *testing.T) {
	cfg := Defaults()
	cfg.State.Autosave = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("empty autosave disables it: %v", err)
	}
	cfg.State.Autosave = "*/5 * * * *"
	if err := Validate(cfg); err != nil {
		t.Fatalf("cron autosave: %v", err)
	}
	cfg.State.Autosave = "-1s"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "state.autosave")
}

func TestValidateTemplateCatalog(t *testing.T) {
	cfg := Defaults()
	cfg.Templates.Catalog = []TemplateConfig{
		{ID: "a", Profiles: []string{"core"}},
		{ID: "a", Profiles: []string{"core"}},
		{ID: "b"},
		{},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `duplicate template id "a"`)
	assertContains(t, err.Error(), "(b) must list at least one profile")
	assertContains(t, err.Error(), "templates.catalog[3].id is required")
}

func TestValidateRules(t *testing.T) {
	cfg := Defaults()
	cfg.Validation.Rules = []FieldRule{
		{Field: "domain", Pattern: "(["},
		{Field: "name", MinLength: 5, MaxLength: 2},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "validation.rules[0].pattern")
	assertContains(t, err.Error(), "min_length > max_length")
}

func TestValidatePorts(t *testing.T) {
	cfg := Defaults()
	cfg.Prerequisites.Ports = []int{80, 70000}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "prerequisites.ports[1] 70000 is out of range")
}

func TestValidateAccumulates(t *testing.T) {
	cfg := Defaults()
	cfg.Authority.Timeout = 0
	cfg.State.PointerFile = ""
	cfg.Server.Addr = "nope"

	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
