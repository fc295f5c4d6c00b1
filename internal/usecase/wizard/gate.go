package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/tracer"
)

// FailureKind classifies a closed gate.
type FailureKind int

const (
	FailNone FailureKind = iota
	// FailRejected: the user must change input.
	FailRejected
	// FailInconsistent: the structural self-check failed.
	FailInconsistent
	// FailUnavailable: a remote check could not be reached.
	FailUnavailable
)

func (k FailureKind) String() string {
	switch k {
	case FailRejected:
		return "rejected"
	case FailInconsistent:
		return "inconsistent"
	case FailUnavailable:
		return "unavailable"
	default:
		return "none"
	}
}

// sentinel maps a kind to the error taxonomy.
func (k FailureKind) sentinel() error {
	switch k {
	case FailInconsistent:
		return domain.ErrInconsistentState
	case FailUnavailable:
		return domain.ErrAuthorityUnavailable
	default:
		return domain.ErrGateRejected
	}
}

// Verdict is the result of evaluating a step gate.
type Verdict struct {
	OK      bool
	Kind    FailureKind
	Reason  string
	Details []string
	// Soft rejections can be overridden by the user.
	Soft bool
	// Silent rejections carry no user-facing message.
	Silent bool

	// Branch overrides position+1 as the next step.
	Branch domain.StepID
	// CommitPath is written to the session when the gate opens.
	CommitPath domain.NavigationPath
	// Normalized replaces the configuration when the gate opens.
	Normalized map[string]any
}

func pass() Verdict { return Verdict{OK: true} }

func reject(kind FailureKind, reason string, details ...string) Verdict {
	return Verdict{Kind: kind, Reason: reason, Details: details}
}

// Gate evaluates the exit predicate of each step. It holds no state and
// caches nothing: every call re-checks the session it is given.
type Gate struct {
	validator domain.ConfigValidator
	logger    *slog.Logger
}

// NewGate creates a Gate. validator may be nil, in which case configuration
// is only checked for consistency.
func NewGate(validator domain.ConfigValidator, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{validator: validator, logger: logger}
}

// CanLeave reports whether the user may leave step id given sess.
func (g *Gate) CanLeave(ctx context.Context, id domain.StepID, sess domain.Session) Verdict {
	ctx, span := tracer.StartSpan(ctx, "gate."+string(id))
	defer span.End()

	var v Verdict
	switch id {
	case domain.StepChecklist:
		v = g.checklist(sess)
	case domain.StepTemplates:
		v = g.templates(sess)
	case domain.StepProfiles:
		v = g.profiles(sess)
	case domain.StepConfigure:
		v = g.configure(ctx, sess)
	case domain.StepReview:
		v = g.review(ctx, sess)
	case domain.StepInstall:
		v = g.install(sess)
	default:
		v = pass()
	}

	span.SetAttributes(tracer.BoolAttr("gate.ok", v.OK), tracer.StringAttr("gate.kind", v.Kind.String()))
	if v.OK {
		tracer.SetOK(span)
	}
	return v
}

func (g *Gate) checklist(sess domain.Session) Verdict {
	r := sess.Prerequisites
	if r == nil {
		return reject(FailRejected, "system check has not been run")
	}
	if hard := r.HardFailures(); len(hard) > 0 {
		return reject(FailRejected, "required tooling is missing", hard...)
	}
	if short := r.ResourceShortfalls(); len(short) > 0 && !sess.ResourceOverride {
		v := reject(FailRejected, "system resources are below the recommended minimum", short...)
		v.Soft = true
		return v
	}
	return pass()
}

func (g *Gate) templates(sess domain.Session) Verdict {
	t := sess.Template
	switch {
	case t.Custom:
		v := pass()
		v.CommitPath = domain.PathCustom
		v.Branch = domain.StepProfiles
		return v
	case t.ID != "" && t.Applied:
		v := pass()
		v.CommitPath = domain.PathTemplate
		v.Branch = domain.StepConfigure
		return v
	default:
		v := reject(FailRejected, "choose a template or build a custom setup")
		v.Silent = true
		return v
	}
}

func (g *Gate) profiles(sess domain.Session) Verdict {
	if len(sess.SelectedProfiles) == 0 {
		return reject(FailRejected, "select at least one profile")
	}
	v := pass()
	v.CommitPath = domain.PathCustom
	v.Branch = domain.StepConfigure
	return v
}

func (g *Gate) configure(ctx context.Context, sess domain.Session) Verdict {
	if problems := CheckConsistency(sess); len(problems) > 0 {
		return reject(FailInconsistent, "wizard state is inconsistent; go back and redo the previous step", problems...)
	}
	return g.validate(ctx, sess.Configuration)
}

func (g *Gate) review(ctx context.Context, sess domain.Session) Verdict {
	if problems := CheckConsistency(sess); len(problems) > 0 {
		return reject(FailInconsistent, "wizard state is inconsistent; go back and redo the previous step", problems...)
	}
	if v := g.checklist(sess); !v.OK {
		v.Reason = "system check no longer passes: " + v.Reason
		v.Soft = false
		return v
	}
	v := g.validate(ctx, sess.Configuration)
	// Review never rewrites the configuration the user just confirmed.
	v.Normalized = nil
	return v
}

func (g *Gate) install(sess domain.Session) Verdict {
	if !sess.InstallationComplete {
		phase := string(sess.InstallationPhase)
		if phase == "" {
			phase = "not started"
		}
		return reject(FailRejected, "installation has not finished", "phase: "+phase)
	}
	return pass()
}

func (g *Gate) validate(ctx context.Context, cfg map[string]any) Verdict {
	if g.validator == nil {
		return pass()
	}
	res, err := g.validator.Validate(ctx, domain.CloneConfig(cfg))
	if err != nil {
		g.logger.Warn("configuration validation unavailable", "error", err)
		return reject(FailUnavailable, "configuration could not be validated; try again")
	}
	if !res.Valid {
		details := make([]string, 0, len(res.Errors))
		for _, fe := range res.Errors {
			details = append(details, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
		}
		return reject(FailRejected, "configuration has invalid fields", details...)
	}
	v := pass()
	if res.Config != nil {
		v.Normalized = res.Config
	}
	return v
}

// CheckConsistency is the structural self-check run before configuration
// validation. It returns one line per problem.
func CheckConsistency(sess domain.Session) []string {
	var problems []string
	switch sess.NavigationPath {
	case domain.PathUnset:
		problems = append(problems, "no setup path chosen")
	case domain.PathTemplate:
		if sess.Template.ID == "" || !sess.Template.Applied {
			problems = append(problems, "template path without an applied template")
		}
	case domain.PathCustom:
		if !sess.Template.Custom {
			problems = append(problems, "custom path without a custom choice")
		}
	}
	if len(sess.SelectedProfiles) == 0 {
		problems = append(problems, "no profiles selected")
	}
	for _, p := range sess.SelectedProfiles {
		if strings.TrimSpace(p) != p || p == "" {
			problems = append(problems, fmt.Sprintf("malformed profile name %q", p))
		}
	}
	return problems
}
