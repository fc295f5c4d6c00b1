package wizard

import (
	"fmt"

	"setupwiz/internal/domain"
)

// Graph is the static step definition. Positions are 1-based and contiguous.
type Graph struct {
	steps []domain.Step
	byID  map[domain.StepID]int
}

// DefaultSteps is the wizard's step list in position order.
var DefaultSteps = []domain.Step{
	{ID: domain.StepWelcome, Position: 1, Title: "Welcome"},
	{ID: domain.StepChecklist, Position: 2, Title: "System check"},
	{ID: domain.StepTemplates, Position: 3, Title: "Templates", Snapshots: true},
	{ID: domain.StepProfiles, Position: 4, Title: "Profiles", Snapshots: true},
	{ID: domain.StepConfigure, Position: 5, Title: "Configure", Snapshots: true},
	{ID: domain.StepReview, Position: 6, Title: "Review", Snapshots: true},
	{ID: domain.StepInstall, Position: 7, Title: "Install"},
	{ID: domain.StepComplete, Position: 8, Title: "Complete"},
}

// NewGraph validates steps and builds a Graph.
func NewGraph(steps []domain.Step) (*Graph, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: empty step graph", domain.ErrInvalidInput)
	}
	g := &Graph{steps: make([]domain.Step, len(steps)), byID: make(map[domain.StepID]int, len(steps))}
	copy(g.steps, steps)
	for i, s := range g.steps {
		if s.Position != i+1 {
			return nil, fmt.Errorf("%w: step %s has position %d, want %d", domain.ErrInvalidInput, s.ID, s.Position, i+1)
		}
		if _, dup := g.byID[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate step %s", domain.ErrInvalidInput, s.ID)
		}
		g.byID[s.ID] = i
	}
	return g, nil
}

// DefaultGraph returns the wizard's standard graph.
func DefaultGraph() *Graph {
	g, err := NewGraph(DefaultSteps)
	if err != nil {
		panic(err)
	}
	return g
}

// Len is the total step count N.
func (g *Graph) Len() int { return len(g.steps) }

// Steps returns every step in position order.
func (g *Graph) Steps() []domain.Step {
	out := make([]domain.Step, len(g.steps))
	copy(out, g.steps)
	return out
}

// At returns the step at a 1-based position.
func (g *Graph) At(pos int) (domain.Step, bool) {
	if pos < 1 || pos > len(g.steps) {
		return domain.Step{}, false
	}
	return g.steps[pos-1], true
}

// ByID returns the step with id.
func (g *Graph) ByID(id domain.StepID) (domain.Step, bool) {
	i, ok := g.byID[id]
	if !ok {
		return domain.Step{}, false
	}
	return g.steps[i], true
}

// Position returns the position of id, or 0.
func (g *Graph) Position(id domain.StepID) int {
	s, ok := g.ByID(id)
	if !ok {
		return 0
	}
	return s.Position
}

// VisibleSteps derives the active steps for path from scratch. It is the only
// place visibility is decided: the template path hides profile selection.
func (g *Graph) VisibleSteps(path domain.NavigationPath) []domain.Step {
	out := make([]domain.Step, 0, len(g.steps))
	for _, s := range g.steps {
		if path == domain.PathTemplate && s.ID == domain.StepProfiles {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Visible reports whether pos is active on path.
func (g *Graph) Visible(path domain.NavigationPath, pos int) bool {
	return g.DisplayNumber(path, pos) > 0
}

// DisplayNumber is the 1-based number shown for pos on path, or 0 when the
// step is hidden.
func (g *Graph) DisplayNumber(path domain.NavigationPath, pos int) int {
	for i, s := range g.VisibleSteps(path) {
		if s.Position == pos {
			return i + 1
		}
	}
	return 0
}

// nextVisible returns the first visible position after pos, or 0.
func (g *Graph) nextVisible(path domain.NavigationPath, pos int) int {
	for p := pos + 1; p <= len(g.steps); p++ {
		if g.Visible(path, p) {
			return p
		}
	}
	return 0
}

// prevVisible returns the last visible position before pos, or 0.
func (g *Graph) prevVisible(path domain.NavigationPath, pos int) int {
	for p := pos - 1; p >= 1; p-- {
		if g.Visible(path, p) {
			return p
		}
	}
	return 0
}

// backTarget is the path-aware special case of back-navigation. Forward jumps
// can skip positions, so these steps never fall back to position-1.
func (g *Graph) backTarget(id domain.StepID, path domain.NavigationPath) (int, bool) {
	switch id {
	case domain.StepConfigure:
		switch path {
		case domain.PathTemplate:
			return g.Position(domain.StepTemplates), true
		case domain.PathCustom:
			return g.Position(domain.StepProfiles), true
		}
	case domain.StepProfiles:
		return g.Position(domain.StepTemplates), true
	}
	return 0, false
}
