package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/metrics"
	"setupwiz/internal/usecase/session"
)

// TransitionRecorder records a version after the user leaves a step whose
// data is worth snapshotting. It returns "" when nothing was written.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, sess domain.Session, left domain.Step) (string, error)
}

// Rejection describes why Next did not move.
type Rejection struct {
	Step    domain.StepID
	Kind    FailureKind
	Reason  string
	Details []string
	Soft    bool
	Silent  bool
}

func (r *Rejection) Error() string {
	if len(r.Details) == 0 {
		return fmt.Sprintf("%s: %s", r.Step, r.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", r.Step, r.Reason, strings.Join(r.Details, "; "))
}

// Unwrap maps the rejection onto the error taxonomy so callers can use errors.Is.
func (r *Rejection) Unwrap() error { return r.Kind.sentinel() }

// Outcome is the structured result of a transition. Gate and authority
// failures are reported here, never as errors.
type Outcome struct {
	Moved     bool
	From      domain.StepID
	To        domain.StepID
	Rejection *Rejection
	// VersionID is set when leaving the step recorded a version.
	VersionID string
	// SaveErr reports a failed version save. Navigation still happened.
	SaveErr error
}

// Options configures a Controller.
type Options struct {
	Graph   *Graph
	Gate    *Gate
	Catalog *Catalog
	Bus     domain.EventBus
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Controller drives transitions through the step graph. It is the only
// writer of the current step, navigation path and history.
//
// The controller is not reentrant. A call made while another is running
// fails with ErrTransitionInFlight instead of waiting.
type Controller struct {
	store    *session.Store
	nav      *session.Navigation
	sel      *session.Selection
	graph    *Graph
	gate     *Gate
	catalog  *Catalog
	bus      domain.EventBus
	metrics  *metrics.Metrics
	logger   *slog.Logger
	recorder TransitionRecorder

	inFlight atomic.Bool
}

// NewController claims the navigation and selection writers of store.
func NewController(store *session.Store, opts Options) (*Controller, error) {
	nav, err := store.ClaimNavigation()
	if err != nil {
		return nil, err
	}
	sel, err := store.ClaimSelection()
	if err != nil {
		return nil, err
	}
	if opts.Graph == nil {
		opts.Graph = DefaultGraph()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gate == nil {
		opts.Gate = NewGate(nil, opts.Logger)
	}
	return &Controller{
		store:   store,
		nav:     nav,
		sel:     sel,
		graph:   opts.Graph,
		gate:    opts.Gate,
		catalog: opts.Catalog,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}, nil
}

// SetRecorder wires the version recorder. Call before the first transition.
func (c *Controller) SetRecorder(r TransitionRecorder) { c.recorder = r }

// Graph returns the step graph.
func (c *Controller) Graph() *Graph { return c.graph }

// Templates lists the template catalog.
func (c *Controller) Templates() []Template { return c.catalog.List() }

// Session returns a snapshot of the session.
func (c *Controller) Session() domain.Session { return c.store.Snapshot() }

// Current returns the current step, false before Start.
func (c *Controller) Current() (domain.Step, bool) {
	return c.graph.At(c.store.Snapshot().CurrentStep)
}

// OnEnter calls fn once for every entry into step id. Returns an unsubscribe
// function. Requires a bus.
func (c *Controller) OnEnter(id domain.StepID, fn func(ctx context.Context, p domain.StepEnteredPayload)) func() {
	if c.bus == nil {
		return func() {}
	}
	return c.bus.Subscribe(domain.EventStepEntered, func(ctx context.Context, ev domain.Event) {
		p, ok := decodeEntered(ev)
		if ok && p.StepID == id {
			fn(ctx, p)
		}
	})
}

func (c *Controller) begin(op string) (func(), error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, domain.NewDomainError(op, domain.ErrTransitionInFlight, "")
	}
	return func() { c.inFlight.Store(false) }, nil
}

// Start enters step 1 with an empty history.
func (c *Controller) Start(ctx context.Context) error {
	done, err := c.begin("Controller.Start")
	if err != nil {
		return err
	}
	defer done()

	c.nav.SetHistory(nil)
	c.nav.SetCurrentStep(1)
	c.entered(ctx, 1, "start")
	return nil
}

// Next evaluates the current step's gate and, when it opens, advances to the
// branch target or the next visible step.
func (c *Controller) Next(ctx context.Context) (Outcome, error) {
	done, err := c.begin("Controller.Next")
	if err != nil {
		return Outcome{}, err
	}
	defer done()

	sess := c.store.Snapshot()
	cur, ok := c.graph.At(sess.CurrentStep)
	if !ok {
		return Outcome{}, domain.NewDomainError("Controller.Next", domain.ErrInvalidInput, "wizard not started")
	}
	out := Outcome{From: cur.ID, To: cur.ID}

	if cur.Position == c.graph.Len() {
		out.Rejection = &Rejection{Step: cur.ID, Kind: FailRejected, Reason: "already at the final step", Silent: true}
		return out, nil
	}

	v := c.gate.CanLeave(ctx, cur.ID, sess)
	if !v.OK {
		out.Rejection = &Rejection{
			Step:    cur.ID,
			Kind:    v.Kind,
			Reason:  v.Reason,
			Details: v.Details,
			Soft:    v.Soft,
			Silent:  v.Silent,
		}
		c.metrics.GateRejected(string(cur.ID), v.Kind.String())
		if !v.Silent {
			c.logger.Info("step gate rejected", "step", cur.ID, "kind", v.Kind.String(), "reason", v.Reason)
		}
		c.publish(ctx, domain.EventGateRejected, map[string]any{
			"stepId": cur.ID,
			"kind":   v.Kind.String(),
			"soft":   v.Soft,
		})
		return out, nil
	}

	path := sess.NavigationPath
	if v.CommitPath != domain.PathUnset && v.CommitPath != path {
		path = v.CommitPath
		c.nav.SetPath(path)
		c.publish(ctx, domain.EventPathCommitted, map[string]string{"path": path.String()})
	}
	if v.Normalized != nil {
		c.sel.SetConfiguration(v.Normalized)
	}

	target := 0
	if v.Branch != "" {
		target = c.graph.Position(v.Branch)
	}
	if target == 0 || !c.graph.Visible(path, target) {
		target = c.graph.nextVisible(path, cur.Position)
	}

	c.nav.SetHistory(append(sess.History, cur.Position))
	c.nav.SetCurrentStep(target)
	to, _ := c.graph.At(target)
	out.Moved, out.To = true, to.ID
	c.entered(ctx, target, "next")

	if cur.Snapshots && c.recorder != nil {
		id, err := c.recorder.RecordTransition(ctx, c.store.Snapshot(), cur)
		out.VersionID = id
		if err != nil {
			out.SaveErr = err
			c.logger.Warn("version save failed, navigation continues", "step", cur.ID, "error", err)
		}
	}
	return out, nil
}

// Previous moves back. The target is chosen in priority order: the
// path-aware special case, then the history stack, then position-1.
// History entries at or beyond the target are discarded.
func (c *Controller) Previous(ctx context.Context) (Outcome, error) {
	done, err := c.begin("Controller.Previous")
	if err != nil {
		return Outcome{}, err
	}
	defer done()

	sess := c.store.Snapshot()
	cur, ok := c.graph.At(sess.CurrentStep)
	if !ok {
		return Outcome{}, domain.NewDomainError("Controller.Previous", domain.ErrInvalidInput, "wizard not started")
	}
	out := Outcome{From: cur.ID, To: cur.ID}
	if cur.Position <= 1 {
		return out, nil
	}
	path := sess.NavigationPath

	target := 0
	if t, ok := c.graph.backTarget(cur.ID, path); ok && t > 0 && t < cur.Position {
		target = t
	}
	stack := sess.History
	for target == 0 && len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		// Entries left behind by a goto may point forward; skip them.
		if h >= 1 && h < cur.Position && c.graph.Visible(path, h) {
			target = h
		}
	}
	if target == 0 {
		target = c.graph.prevVisible(path, cur.Position)
	}
	if target == 0 {
		return out, nil
	}

	c.nav.SetHistory(trimHistory(sess.History, target))
	c.nav.SetCurrentStep(target)
	to, _ := c.graph.At(target)
	out.Moved, out.To = true, to.ID
	c.entered(ctx, target, "previous")
	return out, nil
}

// Goto jumps directly to position n without evaluating gates or pushing
// history. It is reserved for programmatic recovery.
func (c *Controller) Goto(ctx context.Context, n int) error {
	done, err := c.begin("Controller.Goto")
	if err != nil {
		return err
	}
	defer done()
	return c.jump(ctx, n, "goto")
}

func (c *Controller) jump(ctx context.Context, n int, kind string) error {
	if err := c.checkBounds(n); err != nil {
		return err
	}
	h := c.store.Snapshot().History
	if kept := trimHistory(h, n); len(kept) != len(h) {
		c.nav.SetHistory(kept)
	}
	c.nav.SetCurrentStep(n)
	c.entered(ctx, n, kind)
	return nil
}

func (c *Controller) checkBounds(n int) error {
	if n >= 1 && n <= c.graph.Len() {
		return nil
	}
	err := domain.NewDomainError("Controller.Goto", domain.ErrBoundsViolation,
		fmt.Sprintf("position %d outside 1..%d", n, c.graph.Len()))
	c.logger.Error("rejected out-of-range jump", "position", n, "error", err)
	return err
}

// ExitReconfiguration leaves reconfiguration mode: to the final step when a
// previous installation completed, otherwise back to step 1.
func (c *Controller) ExitReconfiguration(ctx context.Context) error {
	done, err := c.begin("Controller.ExitReconfiguration")
	if err != nil {
		return err
	}
	defer done()

	sess := c.store.Snapshot()
	target := 1
	if sess.InstallationComplete {
		target = c.graph.Len()
	}
	c.sel.SetReconfiguring(false)
	c.nav.SetHistory(nil)
	if err := c.jump(ctx, target, "exit"); err != nil {
		return err
	}
	c.publish(ctx, domain.EventWizardExited, map[string]int{"position": target})
	return nil
}

// AbandonReconfiguration leaves reconfiguration mode where it stands. It is
// used after a rollback has already put the session back.
func (c *Controller) AbandonReconfiguration(ctx context.Context) error {
	done, err := c.begin("Controller.AbandonReconfiguration")
	if err != nil {
		return err
	}
	defer done()

	c.sel.SetReconfiguring(false)
	c.publish(ctx, domain.EventWizardExited, map[string]int{"position": c.store.Snapshot().CurrentStep})
	return nil
}

// BeginReconfiguration enters reconfiguration mode at the templates step.
func (c *Controller) BeginReconfiguration(ctx context.Context) error {
	done, err := c.begin("Controller.BeginReconfiguration")
	if err != nil {
		return err
	}
	defer done()

	c.sel.SetReconfiguring(true)
	c.nav.SetHistory(nil)
	return c.jump(ctx, c.graph.Position(domain.StepTemplates), "reconfigure")
}

// Restore overwrites selections from a recovery source and jumps to its step.
// The step is bounds-checked before anything is written.
func (c *Controller) Restore(ctx context.Context, rp domain.RestorePoint) error {
	done, err := c.begin("Controller.Restore")
	if err != nil {
		return err
	}
	defer done()

	if rp.Step != 0 {
		if err := c.checkBounds(rp.Step); err != nil {
			return err
		}
	}
	c.sel.SetProfiles(rp.Profiles)
	c.sel.SetConfiguration(rp.Config)
	if rp.Template != nil {
		c.sel.SetTemplate(*rp.Template)
	}
	if rp.Path != nil {
		c.nav.SetPath(*rp.Path)
	}
	if rp.Step == 0 {
		return nil
	}
	return c.jump(ctx, rp.Step, "restore")
}

// ChooseTemplate applies a catalog template: its profiles and configuration
// replace the current selection.
func (c *Controller) ChooseTemplate(ctx context.Context, id string) error {
	done, err := c.begin("Controller.ChooseTemplate")
	if err != nil {
		return err
	}
	defer done()

	t, ok := c.catalog.Get(id)
	if !ok {
		return domain.NewDomainError("Controller.ChooseTemplate", domain.ErrNotFound, "template "+id)
	}
	c.sel.SetTemplate(domain.TemplateChoice{ID: t.ID, Applied: true})
	c.sel.SetProfiles(t.Profiles)
	c.sel.SetConfiguration(t.Config)
	c.logger.Debug("template applied", "template", t.ID, "profiles", len(t.Profiles))
	return nil
}

// ChooseCustom records the explicit "build custom" choice. Profiles and
// configuration that came from an applied template are dropped, so the
// profiles step starts from an empty selection.
func (c *Controller) ChooseCustom(ctx context.Context) error {
	done, err := c.begin("Controller.ChooseCustom")
	if err != nil {
		return err
	}
	defer done()
	if prev := c.store.Snapshot().Template; prev.Applied {
		c.sel.SetProfiles(nil)
		c.sel.SetConfiguration(nil)
		c.logger.Debug("template selection dropped for custom path", "template", prev.ID)
	}
	c.sel.SetTemplate(domain.TemplateChoice{Custom: true})
	return nil
}

// SelectProfiles replaces the selected profile set.
func (c *Controller) SelectProfiles(ctx context.Context, profiles []string) error {
	done, err := c.begin("Controller.SelectProfiles")
	if err != nil {
		return err
	}
	defer done()
	c.sel.SetProfiles(profiles)
	return nil
}

// UpdateConfiguration merges patch into the configuration. A nil value
// removes the key.
func (c *Controller) UpdateConfiguration(ctx context.Context, patch map[string]any) error {
	done, err := c.begin("Controller.UpdateConfiguration")
	if err != nil {
		return err
	}
	defer done()

	merged := c.store.Snapshot().Configuration
	if merged == nil {
		merged = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	c.sel.SetConfiguration(merged)
	return nil
}

// RecordPrerequisites stores a fresh system check report. Any earlier
// resource override is dropped since it applied to an older report.
func (c *Controller) RecordPrerequisites(ctx context.Context, report domain.PrerequisiteReport) error {
	done, err := c.begin("Controller.RecordPrerequisites")
	if err != nil {
		return err
	}
	defer done()
	c.sel.SetPrerequisites(&report)
	c.sel.SetResourceOverride(false)
	return nil
}

// ConfirmResourceOverride accepts resource shortfalls on the checklist step.
func (c *Controller) ConfirmResourceOverride(ctx context.Context) error {
	done, err := c.begin("Controller.ConfirmResourceOverride")
	if err != nil {
		return err
	}
	defer done()
	c.sel.SetResourceOverride(true)
	return nil
}

func (c *Controller) entered(ctx context.Context, pos int, kind string) {
	step, _ := c.graph.At(pos)
	path := c.store.Snapshot().NavigationPath
	p := domain.StepEnteredPayload{
		StepNumber: c.graph.DisplayNumber(path, pos),
		StepID:     step.ID,
		Position:   pos,
	}
	c.metrics.Transition(kind, string(step.ID))
	c.logger.Debug("step entered", "step", step.ID, "position", pos, "display", p.StepNumber, "via", kind)
	c.publish(ctx, domain.EventStepEntered, p)
}

func (c *Controller) publish(ctx context.Context, t domain.EventType, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(ctx, domain.NewEvent(t, payload))
}

func decodeEntered(ev domain.Event) (domain.StepEnteredPayload, bool) {
	var p domain.StepEnteredPayload
	if err := ev.Decode(&p); err != nil {
		return p, false
	}
	return p, true
}

// trimHistory keeps entries strictly before pos.
func trimHistory(h []int, pos int) []int {
	out := make([]int, 0, len(h))
	for _, e := range h {
		if e < pos {
			out = append(out, e)
		}
	}
	return out
}
