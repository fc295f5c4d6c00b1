// Package installwatch reflects the progress of the external installation
// into the session. It is the only writer of the installation fields.
package installwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/metrics"
	"setupwiz/internal/usecase/scheduling"
	"setupwiz/internal/usecase/session"
)

// Scheduler task names.
const (
	PollTask  = "install-poll"
	RetryTask = "install-retry"
)

// Milestone checkpoint stages.
const (
	StageBeforeBuilding = "before-building"
	StageBeforeStarting = "before-starting"
)

var milestones = map[domain.InstallationPhase]string{
	domain.PhaseBuilding: StageBeforeBuilding,
	domain.PhaseStarting: StageBeforeStarting,
}

var allPhases = []string{
	string(domain.PhasePreparing),
	string(domain.PhaseBuilding),
	string(domain.PhaseStarting),
	string(domain.PhaseValidating),
	string(domain.PhaseComplete),
	string(domain.PhaseFailed),
}

// Checkpointer creates milestone checkpoints.
type Checkpointer interface {
	CreateCheckpoint(ctx context.Context, stage string, extra map[string]any) (domain.Checkpoint, error)
}

// Options configures a Watcher.
type Options struct {
	Checkpoints Checkpointer
	Scheduler   *scheduling.Scheduler
	// RetryCountdown delays the extra poll after a failure. Zero disables it.
	RetryCountdown time.Duration
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Watcher polls an InstallationStatusSource or receives pushed statuses.
type Watcher struct {
	inst   *session.Installation
	source domain.InstallationStatusSource
	cps    Checkpointer
	sched  *scheduling.Scheduler
	retry  time.Duration
	m      *metrics.Metrics
	logger *slog.Logger

	mu    sync.Mutex
	phase domain.InstallationPhase
}

// NewWatcher claims the installation writer of store. source may be nil when
// statuses only arrive through HandleEvent.
func NewWatcher(store *session.Store, source domain.InstallationStatusSource, opts Options) (*Watcher, error) {
	inst, err := store.ClaimInstallation()
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		inst:   inst,
		source: source,
		cps:    opts.Checkpoints,
		sched:  opts.Scheduler,
		retry:  opts.RetryCountdown,
		m:      opts.Metrics,
		logger: opts.Logger,
		phase:  store.Snapshot().InstallationPhase,
	}, nil
}

// Poll reads the current status and applies it. On failure a one-shot retry
// is scheduled when a scheduler and countdown are configured.
func (w *Watcher) Poll(ctx context.Context) (domain.InstallationStatus, error) {
	if w.source == nil {
		return domain.InstallationStatus{}, domain.NewDomainError("Watcher.Poll", domain.ErrInvalidInput, "no status source")
	}
	st, err := w.source.Status(ctx)
	if err != nil {
		w.scheduleRetry()
		return domain.InstallationStatus{}, domain.Unavailable("Watcher.Poll", err)
	}
	if w.sched != nil {
		_ = w.sched.Remove(RetryTask)
	}
	w.Apply(ctx, st)
	return st, nil
}

func (w *Watcher) scheduleRetry() {
	if w.sched == nil || w.retry <= 0 {
		return
	}
	err := w.sched.After(RetryTask, w.retry, func(ctx context.Context) error {
		_, err := w.Poll(ctx)
		return err
	})
	if err != nil {
		w.logger.Warn("could not schedule status retry", "error", err)
		return
	}
	w.logger.Info("installation status unavailable, retrying", "in", w.retry)
}

// RetryIn reports the countdown until the next automatic retry.
func (w *Watcher) RetryIn() (time.Duration, bool) {
	if w.sched == nil {
		return 0, false
	}
	return w.sched.Remaining(RetryTask)
}

// Apply writes st into the session. Entering building or starting creates
// the matching milestone checkpoint once per phase entry.
func (w *Watcher) Apply(ctx context.Context, st domain.InstallationStatus) {
	w.mu.Lock()
	prev := w.phase
	w.phase = st.Phase
	w.mu.Unlock()

	// The checkpoint captures the state from before the phase began.
	if stage, ok := milestones[st.Phase]; ok && st.Phase != prev && w.cps != nil {
		extra := map[string]any{"phase": string(st.Phase), "previousPhase": string(prev)}
		if _, err := w.cps.CreateCheckpoint(ctx, stage, extra); err != nil {
			w.logger.Warn("milestone checkpoint not created", "stage", stage, "error", err)
		}
	}

	w.inst.SetPhase(st.Phase)
	w.inst.SetComplete(st.Complete || st.Phase == domain.PhaseComplete)
	w.inst.SetTasks(st.Tasks)
	w.m.SetInstallPhase(string(st.Phase), allPhases)

	if st.Phase != prev {
		w.logger.Info("installation phase changed", "from", prev, "to", st.Phase, "tasks", len(st.Tasks))
	}
}

// Adopt seeds the installation fields of a resumed session without creating
// checkpoints.
func (w *Watcher) Adopt(phase domain.InstallationPhase, complete bool, tasks []domain.TaskRef) {
	w.mu.Lock()
	w.phase = phase
	w.mu.Unlock()

	w.inst.SetPhase(phase)
	w.inst.SetComplete(complete)
	w.inst.SetTasks(tasks)
	w.m.SetInstallPhase(string(phase), allPhases)
}

// Schedule registers the periodic poll. every is a duration or cron
// expression.
func (w *Watcher) Schedule(s *scheduling.Scheduler, every string) error {
	if w.sched == nil {
		w.sched = s
	}
	s.RegisterAction(scheduling.ActionInstallPoll, func(ctx context.Context) error {
		st, err := w.Poll(ctx)
		if err == nil && st.Phase.Terminal() {
			// Nothing left to watch.
			_ = s.Remove(PollTask)
		}
		return err
	})
	return s.AddTask(scheduling.Task{Name: PollTask, Schedule: every, Action: scheduling.ActionInstallPoll})
}

// HandleEvent applies pushed installation.status events. Other events are
// ignored, so it can be subscribed with SubscribeAll.
func (w *Watcher) HandleEvent(ctx context.Context, ev domain.Event) {
	if ev.Type != domain.EventInstallationStatus {
		return
	}
	var st domain.InstallationStatus
	if err := ev.Decode(&st); err != nil {
		w.logger.Warn("malformed installation status event", "seq", ev.Seq, "error", err)
		return
	}
	w.Apply(ctx, st)
}
