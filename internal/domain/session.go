package domain

import (
	"slices"
	"time"
)

// TemplateChoice records what the user picked on the templates step.
type TemplateChoice struct {
	ID      string `json:"id,omitempty"`
	Applied bool   `json:"applied,omitempty"`
	// Custom is the explicit "build custom" choice.
	Custom bool `json:"custom,omitempty"`
}

// Chosen reports whether either branch has been selected.
func (t TemplateChoice) Chosen() bool {
	return t.Custom || (t.ID != "" && t.Applied)
}

// TaskRef tracks one background task of the installation.
type TaskRef struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ServiceID string    `json:"serviceId,omitempty"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
}

// Running reports whether the task has not reached a terminal status.
func (t TaskRef) Running() bool {
	switch t.Status {
	case "completed", "failed", "cancelled":
		return false
	}
	return true
}

// ToolStatus is the presence of one required binary.
type ToolStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// PortStatus is the availability of one host port.
type PortStatus struct {
	Port      int  `json:"port"`
	Available bool `json:"available"`
}

// PrerequisiteReport is the result of a prerequisite check run.
type PrerequisiteReport struct {
	Runtime     ToolStatus   `json:"runtime"`
	Compose     ToolStatus   `json:"compose"`
	CPUs        int          `json:"cpus"`
	MemoryMB    int          `json:"memoryMb"`
	MinCPUs     int          `json:"minCpus"`
	MinMemoryMB int          `json:"minMemoryMb"`
	Ports       []PortStatus `json:"ports,omitempty"`
	CheckedAt   time.Time    `json:"checkedAt"`
}

// HardFailures lists problems that block the checklist step outright.
func (r PrerequisiteReport) HardFailures() []string {
	var out []string
	if !r.Runtime.Available {
		out = append(out, "container runtime not found: "+r.Runtime.Name)
	}
	if !r.Compose.Available {
		out = append(out, "compose tool not found: "+r.Compose.Name)
	}
	return out
}

// ResourceShortfalls lists unmet resource minimums. The user may override these.
func (r PrerequisiteReport) ResourceShortfalls() []string {
	var out []string
	if r.MinCPUs > 0 && r.CPUs < r.MinCPUs {
		out = append(out, "not enough CPUs")
	}
	if r.MinMemoryMB > 0 && r.MemoryMB < r.MinMemoryMB {
		out = append(out, "not enough memory")
	}
	for _, p := range r.Ports {
		if !p.Available {
			out = append(out, "port in use")
			break
		}
	}
	return out
}

// Session is the wizard aggregate. The State Store owns the only live copy;
// everything handed out is a Clone.
type Session struct {
	CurrentStep          int                 `json:"currentStep"`
	NavigationPath       NavigationPath      `json:"navigationPath"`
	History              []int               `json:"history,omitempty"`
	SelectedProfiles     []string            `json:"selectedProfiles,omitempty"`
	Configuration        map[string]any      `json:"configuration,omitempty"`
	Template             TemplateChoice      `json:"template"`
	Prerequisites        *PrerequisiteReport `json:"prerequisites,omitempty"`
	ResourceOverride     bool                `json:"resourceOverride,omitempty"`
	InstallationPhase    InstallationPhase   `json:"installationPhase,omitempty"`
	InstallationComplete bool                `json:"installationComplete,omitempty"`
	BackgroundTasks      []TaskRef           `json:"backgroundTasks,omitempty"`
	Reconfiguring        bool                `json:"reconfiguring,omitempty"`
}

// Clone returns a deep copy, so callers can never alias store internals.
func (s Session) Clone() Session {
	out := s
	out.History = slices.Clone(s.History)
	out.SelectedProfiles = slices.Clone(s.SelectedProfiles)
	out.Configuration = CloneConfig(s.Configuration)
	out.BackgroundTasks = slices.Clone(s.BackgroundTasks)
	if s.Prerequisites != nil {
		p := *s.Prerequisites
		p.Ports = slices.Clone(s.Prerequisites.Ports)
		out.Prerequisites = &p
	}
	return out
}

// CloneConfig deep-copies a configuration map. Nested maps and slices are
// copied recursively; scalar values keep their Go types.
func CloneConfig(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneConfig(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// NormalizeProfiles returns the sorted, de-duplicated, non-empty set.
func NormalizeProfiles(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
