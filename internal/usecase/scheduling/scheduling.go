// Package scheduling runs the wizard's timer-driven work: the installation
// status poll, the auto-retry countdown after a failed poll and the
// periodic resume-state save.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"setupwiz/internal/domain"
)

// Action identifies a kind of scheduled work.
type Action string

const (
	ActionInstallPoll Action = "install_poll"
	ActionStateSave   Action = "state_save"
)

// Task is a recurring or one-shot job bound to a registered Action.
type Task struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" OR duration "5s"
	Action   Action
	OneShot  bool
}

const defaultJobTimeout = time.Minute

// Scheduler wraps robfig/cron. Jobs run with the context given to Start and
// are skipped after Stop.
type Scheduler struct {
	cron       *cron.Cron
	actions    map[Action]func(ctx context.Context) error
	entries    map[string]cron.EntryID // task name → entry
	logger     *slog.Logger
	jobTimeout time.Duration

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:       cron.New(),
		actions:    make(map[Action]func(ctx context.Context) error),
		entries:    make(map[string]cron.EntryID),
		logger:     logger,
		jobTimeout: defaultJobTimeout,
	}
}

// RegisterAction binds fn to action.
func (s *Scheduler) RegisterAction(action Action, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask schedules task. Names are unique.
func (s *Scheduler) AddTask(task Task) error {
	sched, err := parseSchedule(task.Schedule)
	if err != nil {
		return domain.NewDomainError("Scheduler.AddTask", domain.ErrInvalidInput,
			fmt.Sprintf("task %q: %v", task.Name, err))
	}

	s.mu.Lock()
	fn, ok := s.actions[task.Action]
	s.mu.Unlock()
	if !ok {
		return domain.NewDomainError("Scheduler.AddTask", domain.ErrInvalidInput,
			fmt.Sprintf("unknown action %q for task %q", task.Action, task.Name))
	}
	return s.schedule(task.Name, sched, fn, task.OneShot)
}

// After runs fn once, d from now, under name. An existing task with the
// same name is replaced, which restarts the countdown.
func (s *Scheduler) After(name string, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return domain.NewDomainError("Scheduler.After", domain.ErrInvalidInput, "delay must be positive")
	}
	_ = s.Remove(name)
	return s.schedule(name, &constantDelay{delay: d}, fn, true)
}

func (s *Scheduler) schedule(name string, sched cron.Schedule, fn func(ctx context.Context) error, oneShot bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return domain.NewDomainError("Scheduler.schedule", domain.ErrInvalidInput,
			fmt.Sprintf("task %q already scheduled", name))
	}

	var id cron.EntryID
	id = s.cron.Schedule(sched, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		timeout := s.jobTimeout
		s.mu.Unlock()

		if ctx == nil || ctx.Err() != nil {
			s.logger.Debug("scheduler stopped, skipping task", "task", name)
			return
		}
		if oneShot {
			s.mu.Lock()
			if s.entries[name] == id {
				delete(s.entries, name)
			}
			s.mu.Unlock()
			s.cron.Remove(id)
		}

		jobCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		if err := fn(jobCtx); err != nil {
			s.logger.Warn("scheduled task failed", "task", name, "error", err, "duration", time.Since(start))
			return
		}
		s.logger.Debug("scheduled task completed", "task", name, "duration", time.Since(start))
	}))
	s.entries[name] = id

	s.logger.Debug("task scheduled", "task", name, "one_shot", oneShot)
	return nil
}

// Remove unschedules task name.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[name]
	if !ok {
		return domain.NewDomainError("Scheduler.Remove", domain.ErrNotFound, name)
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	return nil
}

// NextRun returns when task name fires next.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(id)
	if e.ID == 0 || e.Next.IsZero() {
		return time.Time{}, false
	}
	return e.Next, true
}

// Remaining is the countdown until task name fires, for "retrying in N
// seconds" displays.
func (s *Scheduler) Remaining(name string) (time.Duration, bool) {
	next, ok := s.NextRun(name)
	if !ok {
		return 0, false
	}
	return max(time.Until(next), 0), true
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	return nil
}

// ParseSchedule accepts a standard cron expression or a positive duration.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	return parseSchedule(schedule)
}

func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return &constantDelay{delay: dur}, nil
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second precision.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
