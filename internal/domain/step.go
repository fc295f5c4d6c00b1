package domain

import "fmt"

// StepID is the stable identity of a wizard step.
type StepID string

const (
	StepWelcome   StepID = "welcome"
	StepChecklist StepID = "checklist"
	StepTemplates StepID = "templates"
	StepProfiles  StepID = "profiles"
	StepConfigure StepID = "configure"
	StepReview    StepID = "review"
	StepInstall   StepID = "install"
	StepComplete  StepID = "complete"
)

// Step is one static stage of the wizard.
type Step struct {
	ID       StepID `json:"id"`
	Position int    `json:"position"` // 1-based, unique, contiguous
	Title    string `json:"title"`
	// Snapshots marks steps whose exit records a version.
	Snapshots bool `json:"snapshots"`
}

// NavigationPath is the branch tag selecting which steps are active.
type NavigationPath int

const (
	PathUnset NavigationPath = iota
	PathTemplate
	PathCustom
)

func (p NavigationPath) String() string {
	switch p {
	case PathTemplate:
		return "template"
	case PathCustom:
		return "custom"
	default:
		return ""
	}
}

// ParseNavigationPath converts the wire form back to a NavigationPath.
func ParseNavigationPath(s string) (NavigationPath, error) {
	switch s {
	case "", "unset":
		return PathUnset, nil
	case "template":
		return PathTemplate, nil
	case "custom":
		return PathCustom, nil
	default:
		return PathUnset, fmt.Errorf("%w: navigation path %q", ErrInvalidInput, s)
	}
}

func (p NavigationPath) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *NavigationPath) UnmarshalText(b []byte) error {
	v, err := ParseNavigationPath(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// InstallationPhase is the coarse state of the external installation.
type InstallationPhase string

const (
	PhaseNotStarted InstallationPhase = ""
	PhasePreparing  InstallationPhase = "preparing"
	PhaseBuilding   InstallationPhase = "building"
	PhaseStarting   InstallationPhase = "starting"
	PhaseValidating InstallationPhase = "validating"
	PhaseComplete   InstallationPhase = "complete"
	PhaseFailed     InstallationPhase = "failed"
)

// Terminal reports whether no further progress is expected.
func (p InstallationPhase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}
