// Package resume decides at boot whether a saved wizard session is continued
// or discarded.
package resume

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/metrics"
	"setupwiz/internal/infra/tracer"
)

// Wizard is the subset of the navigation controller used on resume.
type Wizard interface {
	Session() domain.Session
	Start(ctx context.Context) error
	Restore(ctx context.Context, rp domain.RestorePoint) error
}

// Adopter receives the installation phase and tasks of a resumed session.
type Adopter interface {
	Adopt(phase domain.InstallationPhase, complete bool, tasks []domain.TaskRef)
}

// Resetter clears local session state.
type Resetter interface {
	Clear()
}

// PointerClearer forgets the cached latest checkpoint id.
type PointerClearer interface {
	ClearPointer() error
}

// Offer is the answer to "can this session be resumed?".
type Offer struct {
	State domain.ResumeState
	// Degraded is set when the authority could not be asked.
	Degraded bool
	Err      error
}

// Resumable reports whether the user should be offered a choice.
func (o Offer) Resumable() bool { return !o.Degraded && o.State.CanResume }

// Choice is the user's answer to a resumable offer.
type Choice int

const (
	ChoiceResume Choice = iota
	ChoiceStartOver
)

// Chooser asks the user what to do with a resumable offer.
type Chooser func(ctx context.Context, offer Offer) (Choice, error)

// Decision is what Run ended up doing.
type Decision string

const (
	DecisionFresh       Decision = "fresh"
	DecisionDegraded    Decision = "degraded"
	DecisionResumed     Decision = "resumed"
	DecisionStartedOver Decision = "started_over"
)

// Result describes the state after Run, Resume or StartOver.
type Result struct {
	Decision Decision
	Step     int
	// Running lists background tasks that were still active when saved.
	Running []domain.TaskRef
	// Unverified lists service ids whose liveness could not be confirmed.
	Unverified []string
	// ClearErr is set when the authority could not clear its state. The
	// local session was reset regardless.
	ClearErr error
}

// Options configures a Detector.
type Options struct {
	Watcher   Adopter
	Prober    domain.ServiceProber
	Pointer   PointerClearer
	Confirmer domain.Confirmer
	Bus       domain.EventBus
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// ProbeTimeout bounds each liveness probe. Zero means 5s.
	ProbeTimeout time.Duration
}

// Detector runs the boot-time resume flow.
type Detector struct {
	authority domain.ResumeAuthority
	wizard    Wizard
	store     Resetter
	watcher   Adopter
	prober    domain.ServiceProber
	pointer   PointerClearer
	confirm   domain.Confirmer
	bus       domain.EventBus
	metrics   *metrics.Metrics
	logger    *slog.Logger
	probeTTL  time.Duration
}

// NewDetector creates a Detector.
func NewDetector(authority domain.ResumeAuthority, w Wizard, store Resetter, opts Options) *Detector {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Confirmer == nil {
		opts.Confirmer = domain.AlwaysConfirm
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	return &Detector{
		authority: authority,
		wizard:    w,
		store:     store,
		watcher:   opts.Watcher,
		prober:    opts.Prober,
		pointer:   opts.Pointer,
		confirm:   opts.Confirmer,
		bus:       opts.Bus,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		probeTTL:  opts.ProbeTimeout,
	}
}

// Check asks the authority whether the session can be resumed. It never
// fails: an unreachable authority yields a degraded offer.
func (d *Detector) Check(ctx context.Context) Offer {
	start := time.Now()
	st, err := tracer.Do(ctx, "resume.check", d.authority.CanResume)
	d.metrics.ObserveAuthority("CanResume", start, err)
	if err != nil {
		d.logger.Warn("resume check failed, starting fresh", "error", err)
		return Offer{Degraded: true, Err: domain.Unavailable("Detector.Check", err)}
	}
	return Offer{State: st}
}

// Run performs the boot flow. A non-resumable or degraded offer starts at
// step 1 without prompting.
func (d *Detector) Run(ctx context.Context, choose Chooser) (Result, error) {
	offer := d.Check(ctx)
	if !offer.Resumable() {
		dec := DecisionFresh
		if offer.Degraded {
			dec = DecisionDegraded
		}
		if err := d.wizard.Start(ctx); err != nil {
			return Result{}, err
		}
		d.metrics.ResumeDecision(string(dec))
		d.logger.Info("starting fresh session", "decision", dec, "reason", offer.State.Reason)
		return Result{Decision: dec, Step: 1}, nil
	}

	choice := ChoiceResume
	if choose != nil {
		c, err := choose(ctx, offer)
		if err != nil {
			return Result{}, domain.WrapOp("Detector.Run", err)
		}
		choice = c
	}
	if choice == ChoiceStartOver {
		return d.StartOver(ctx)
	}

	res, err := d.Resume(ctx, offer)
	if err != nil {
		// A saved state we cannot apply is treated like no saved state.
		d.logger.Error("resume failed, starting fresh", "error", err)
		if serr := d.wizard.Start(ctx); serr != nil {
			return Result{}, serr
		}
		d.metrics.ResumeDecision(string(DecisionDegraded))
		return Result{Decision: DecisionDegraded, Step: 1}, nil
	}
	return res, nil
}

// Resume copies the saved fields into the session and jumps to the saved
// step without evaluating gates.
func (d *Detector) Resume(ctx context.Context, offer Offer) (Result, error) {
	st := offer.State
	if !offer.Resumable() {
		return Result{}, domain.NewDomainError("Detector.Resume", domain.ErrInvalidInput, "offer is not resumable")
	}
	step := st.CurrentStep
	if step == 0 {
		step = 1
	}

	rp := domain.RestorePoint{Step: step, Profiles: st.SelectedProfiles, Config: st.Configuration}
	if st.NavigationPath != domain.PathUnset {
		path := st.NavigationPath
		rp.Path = &path
	}
	if st.Template.Chosen() {
		tmpl := st.Template
		rp.Template = &tmpl
	}

	// Installation fields first so the step entry sees them.
	if d.watcher != nil {
		d.watcher.Adopt(st.Phase, st.Phase == domain.PhaseComplete, st.BackgroundTasks)
	}
	if err := d.wizard.Restore(ctx, rp); err != nil {
		return Result{}, domain.WrapOp("Detector.Resume", err)
	}

	res := Result{Decision: DecisionResumed, Step: step}
	for _, t := range st.BackgroundTasks {
		if !t.Running() {
			continue
		}
		res.Running = append(res.Running, t)
		if t.ServiceID != "" && !d.verify(ctx, t) {
			res.Unverified = append(res.Unverified, t.ServiceID)
		}
	}

	d.metrics.ResumeDecision(string(DecisionResumed))
	d.logger.Info("session resumed",
		"step", step,
		"phase", st.Phase,
		"running_tasks", len(res.Running),
		"hours_since_activity", math.Round(st.HoursSinceActivity*10)/10,
	)
	d.publish(ctx, domain.EventSessionResumed, map[string]any{"step": step, "runningTasks": len(res.Running)})
	return res, nil
}

// verify probes one tracked service. Failures are logged, never fatal.
func (d *Detector) verify(ctx context.Context, t domain.TaskRef) bool {
	if d.prober == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, d.probeTTL)
	defer cancel()

	alive, err := d.prober.Alive(ctx, t.ServiceID)
	switch {
	case err != nil:
		d.logger.Warn("could not verify service", "task", t.Name, "service", t.ServiceID, "error", err)
		return false
	case !alive:
		d.logger.Warn("tracked service is no longer running", "task", t.Name, "service", t.ServiceID)
		return false
	}
	return true
}

// StartOver discards saved progress after confirmation and returns to step 1.
func (d *Detector) StartOver(ctx context.Context) (Result, error) {
	ok, err := d.confirm.Confirm(ctx, "Discard saved progress and start over?")
	if err != nil {
		return Result{}, domain.WrapOp("Detector.StartOver", err)
	}
	if !ok {
		return Result{}, domain.NewDomainError("Detector.StartOver", domain.ErrDeclined, "")
	}

	var res Result
	start := time.Now()
	_, err = tracer.Do(ctx, "resume.clear", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.authority.ClearState(ctx)
	})
	d.metrics.ObserveAuthority("ClearState", start, err)
	if err != nil {
		res.ClearErr = domain.Unavailable("Detector.StartOver", err)
		d.logger.Warn("authority state not cleared", "error", err)
	}

	d.store.Clear()
	if d.watcher != nil {
		// Forget the last seen phase so the next build gets its milestone.
		d.watcher.Adopt("", false, nil)
	}
	if d.pointer != nil {
		if err := d.pointer.ClearPointer(); err != nil {
			d.logger.Warn("checkpoint pointer not cleared", "error", err)
		}
	}
	if err := d.wizard.Start(ctx); err != nil {
		return Result{}, err
	}

	res.Decision, res.Step = DecisionStartedOver, 1
	d.metrics.ResumeDecision(string(DecisionStartedOver))
	d.logger.Info("session started over")
	d.publish(ctx, domain.EventSessionStartedOver, nil)
	return res, nil
}

// Save persists the current session so a later run can resume it.
func (d *Detector) Save(ctx context.Context) error {
	st := ToResumeState(d.wizard.Session())
	start := time.Now()
	err := d.authority.SaveState(ctx, st)
	d.metrics.ObserveAuthority("SaveState", start, err)
	if err != nil {
		return domain.Unavailable("Detector.Save", err)
	}
	d.logger.Debug("resume state saved", "step", st.CurrentStep)
	return nil
}

// ToResumeState converts a session into the persisted resume form. A
// session that has not started cannot be resumed.
func ToResumeState(sess domain.Session) domain.ResumeState {
	st := domain.ResumeState{
		CanResume:        sess.CurrentStep > 1,
		CurrentStep:      sess.CurrentStep,
		NavigationPath:   sess.NavigationPath,
		Template:         sess.Template,
		Phase:            sess.InstallationPhase,
		SelectedProfiles: sess.SelectedProfiles,
		Configuration:    sess.Configuration,
		BackgroundTasks:  sess.BackgroundTasks,
		UpdatedAt:        time.Now().UTC(),
	}
	if !st.CanResume {
		st.Reason = fmt.Sprintf("nothing to resume at step %d", sess.CurrentStep)
	}
	return st
}

func (d *Detector) publish(ctx context.Context, t domain.EventType, payload any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(ctx, domain.NewEvent(t, payload))
}
