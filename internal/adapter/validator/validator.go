// Package validator checks wizard configuration locally (field rules and an
// optional JSON Schema) before handing it to a remote validator.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kaptinlin/jsonschema"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/config"
	"setupwiz/internal/infra/tracer"
)

type rule struct {
	config.FieldRule
	re *regexp.Regexp
}

// Validator implements domain.ConfigValidator.
type Validator struct {
	rules  []rule
	schema *jsonschema.Schema
	remote domain.ConfigValidator
	logger *slog.Logger
}

// New compiles cfg's rules and schema file. remote may be nil.
func New(cfg config.ValidationConfig, remote domain.ConfigValidator, logger *slog.Logger) (*Validator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{remote: remote, logger: logger}

	for _, fr := range cfg.Rules {
		r := rule{FieldRule: fr}
		if fr.Pattern != "" {
			re, err := regexp.Compile(fr.Pattern)
			if err != nil {
				return nil, fmt.Errorf("validation rule %q: %w", fr.Field, err)
			}
			r.re = re
		}
		v.rules = append(v.rules, r)
	}

	if cfg.SchemaFile != "" {
		raw, err := os.ReadFile(cfg.SchemaFile)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		schema, err := compileSchema(raw)
		if err != nil {
			return nil, err
		}
		v.schema = schema
	}
	return v, nil
}

func compileSchema(raw []byte) (*jsonschema.Schema, error) {
	schema, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return schema, nil
}

// Validate runs the local rules, then the schema, then the remote
// validator. Each stage runs only when the previous one passed. Remote
// failures are returned as errors so callers can tell "invalid" from
// "could not check".
func (v *Validator) Validate(ctx context.Context, cfg map[string]any) (domain.ValidationResult, error) {
	return tracer.Do(ctx, "validator.Validate", func(ctx context.Context) (domain.ValidationResult, error) {
		normalized := normalize(cfg)

		if errs := v.checkRules(normalized); len(errs) > 0 {
			return domain.ValidationResult{Errors: errs}, nil
		}
		if errs := v.checkSchema(normalized); len(errs) > 0 {
			return domain.ValidationResult{Errors: errs}, nil
		}
		if v.remote == nil {
			return domain.ValidationResult{Valid: true, Config: normalized}, nil
		}

		res, err := v.remote.Validate(ctx, normalized)
		if err != nil {
			return domain.ValidationResult{}, err
		}
		if res.Valid && res.Config == nil {
			res.Config = normalized
		}
		return res, nil
	}, tracer.IntAttr("validator.rules", len(v.rules)))
}

func (v *Validator) checkRules(cfg map[string]any) []domain.FieldError {
	var errs []domain.FieldError
	for _, r := range v.rules {
		raw, present := cfg[r.Field]
		s, isString := raw.(string)
		if !present || raw == nil || (isString && s == "") {
			if r.Required {
				errs = append(errs, domain.FieldError{Field: r.Field, Message: "is required"})
			}
			continue
		}
		if !isString {
			if r.re != nil || r.MinLength > 0 || r.MaxLength > 0 {
				errs = append(errs, domain.FieldError{Field: r.Field, Message: "must be a string"})
			}
			continue
		}
		n := utf8.RuneCountInString(s)
		switch {
		case r.MinLength > 0 && n < r.MinLength:
			errs = append(errs, domain.FieldError{Field: r.Field, Message: fmt.Sprintf("must be at least %d characters", r.MinLength)})
		case r.MaxLength > 0 && n > r.MaxLength:
			errs = append(errs, domain.FieldError{Field: r.Field, Message: fmt.Sprintf("must be at most %d characters", r.MaxLength)})
		case r.re != nil && !r.re.MatchString(s):
			errs = append(errs, domain.FieldError{Field: r.Field, Message: "has an invalid format"})
		}
	}
	return errs
}

func (v *Validator) checkSchema(cfg map[string]any) []domain.FieldError {
	if v.schema == nil {
		return nil
	}
	// The schema sees JSON types (float64 numbers), not Go ones.
	var doc any
	if b, err := json.Marshal(cfg); err == nil {
		_ = json.Unmarshal(b, &doc)
	}
	result := v.schema.Validate(doc)
	if result.IsValid() {
		return nil
	}
	v.logger.Debug("configuration failed schema validation", "error", result.Error())
	return []domain.FieldError{{Field: "configuration", Message: fmt.Sprintf("%s", result.Error())}}
}

// normalize trims surrounding whitespace from top-level string values.
func normalize(cfg map[string]any) map[string]any {
	out := domain.CloneConfig(cfg)
	if out == nil {
		out = map[string]any{}
	}
	for k, val := range out {
		if s, ok := val.(string); ok {
			out[k] = strings.TrimSpace(s)
		}
	}
	return out
}

var _ domain.ConfigValidator = (*Validator)(nil)
