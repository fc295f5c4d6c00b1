package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"setupwiz/internal/adapter/authority/httpclient"
	"setupwiz/internal/adapter/authority/sqlite"
	"setupwiz/internal/adapter/prereq"
	"setupwiz/internal/adapter/validator"
	"setupwiz/internal/domain"
	"setupwiz/internal/infra/config"
	"setupwiz/internal/infra/logger"
	"setupwiz/internal/infra/metrics"
	"setupwiz/internal/infra/secrets"
	"setupwiz/internal/infra/tracer"
	"setupwiz/internal/usecase/eventbus"
	"setupwiz/internal/usecase/installwatch"
	"setupwiz/internal/usecase/operation"
	"setupwiz/internal/usecase/resume"
	"setupwiz/internal/usecase/scheduling"
	"setupwiz/internal/usecase/session"
	"setupwiz/internal/usecase/versioning"
	"setupwiz/internal/usecase/wizard"
)

// app holds the wired engine for one CLI invocation.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	bus     *eventbus.Bus

	auth   domain.Authorities
	local  *sqlite.Store      // local mode only
	remote *httpclient.Client // remote mode only

	store    *session.Store
	ctrl     *wizard.Controller
	versions *versioning.Manager
	resume   *resume.Detector
	watcher  *installwatch.Watcher
	ops      *operation.Log
	sched    *scheduling.Scheduler
	checker  domain.PrerequisiteChecker
	watching bool

	closers []func() error
}

// bootstrap loads configuration and sets up logging and tracing. The
// returned cleanup must run before exit.
func bootstrap(ctx context.Context, cfgPath string) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logger: %w", err)
	}
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, nil, nil, fmt.Errorf("tracer: %w", err)
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
		logCloser()
	}
	return cfg, log, cleanup, nil
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New(nil)
}

// openAuthorities connects the collaborators of record for the configured
// mode.
func openAuthorities(cfg *config.Config, log *slog.Logger, m *metrics.Metrics) (*sqlite.Store, *httpclient.Client, error) {
	switch cfg.Authority.Mode {
	case "remote":
		c, err := httpclient.New(cfg.Authority, logger.Component(log, "authority"), httpclient.WithMetrics(m))
		if err != nil {
			return nil, nil, err
		}
		return nil, c, nil
	default:
		if err := os.MkdirAll(cfg.State.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		sealer := secrets.NewSealer(os.Getenv(cfg.Secrets.PassphraseEnv), cfg.Secrets.Fields)
		if !sealer.Enabled() {
			log.Warn("secret configuration values are stored unsealed", "passphrase_env", cfg.Secrets.PassphraseEnv)
		}
		s, err := sqlite.Open(cfg.Authority.SQLitePath,
			sqlite.WithSealer(sealer),
			sqlite.WithLogger(logger.Component(log, "authority")),
		)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
}

type appOptions struct {
	confirmer domain.Confirmer
	// checker overrides the host prerequisite checker (tests).
	checker domain.PrerequisiteChecker
}

// newApp wires the engine. Everything it opens is released by close.
func newApp(cfg *config.Config, log *slog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: newMetrics(cfg)}
	a.bus = eventbus.New(logger.Component(log, "eventbus"))
	a.closers = append(a.closers, func() error { a.bus.Close(); return nil })

	local, remote, err := openAuthorities(cfg, log, a.metrics)
	if err != nil {
		a.close()
		return nil, err
	}
	a.local, a.remote = local, remote
	if local != nil {
		a.auth = local.Authorities()
		a.closers = append(a.closers, local.Close)
	} else {
		a.auth = remote.Authorities()
	}

	var remoteValidator domain.ConfigValidator
	if remote != nil && cfg.Validation.Remote {
		remoteValidator = remote
	}
	v, err := validator.New(cfg.Validation, remoteValidator, logger.Component(log, "validator"))
	if err != nil {
		a.close()
		return nil, err
	}

	a.store = session.New(a.bus, logger.Component(log, "session"))
	a.ctrl, err = wizard.NewController(a.store, wizard.Options{
		Gate:    wizard.NewGate(v, logger.Component(log, "gate")),
		Catalog: wizard.NewCatalog(cfg.Templates.Catalog),
		Bus:     a.bus,
		Metrics: a.metrics,
		Logger:  logger.Component(log, "wizard"),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	pointer, err := versioning.OpenPointer(cfg.State.PointerFile)
	if err != nil {
		a.close()
		return nil, err
	}
	a.versions = versioning.NewManager(a.ctrl, versioning.Options{
		Versions:    a.auth.Versions,
		Checkpoints: a.auth.Checkpoints,
		Pointer:     pointer,
		Confirmer:   opts.confirmer,
		Bus:         a.bus,
		Metrics:     a.metrics,
		Logger:      logger.Component(log, "versioning"),
	})
	a.ctrl.SetRecorder(a.versions)

	a.sched = scheduling.NewScheduler(logger.Component(log, "scheduler"))
	a.watcher, err = installwatch.NewWatcher(a.store, a.auth.Install, installwatch.Options{
		Checkpoints:    a.versions,
		Scheduler:      a.sched,
		RetryCountdown: cfg.Install.RetryCountdown,
		Metrics:        a.metrics,
		Logger:         logger.Component(log, "installwatch"),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	opStore, err := operation.NewFileStore(cfg.State.OperationsFile)
	if err != nil {
		a.close()
		return nil, err
	}
	a.ops, err = operation.NewLog(opStore, logger.Component(log, "operations"),
		operation.WithBus(a.bus), operation.WithMetrics(a.metrics))
	if err != nil {
		a.close()
		return nil, err
	}

	a.checker = opts.checker
	var prober domain.ServiceProber
	if a.checker == nil || cfg.Prerequisites.UseDockerAPI {
		var checkerOpts []prereq.Option
		if cfg.Prerequisites.UseDockerAPI {
			if cli, err := prereq.NewDockerClient(); err != nil {
				log.Warn("docker API unavailable, falling back to the CLI", "error", err)
			} else {
				a.closers = append(a.closers, cli.Close)
				checkerOpts = append(checkerOpts, prereq.WithDocker(cli))
				prober = prereq.NewContainerProber(cli)
			}
		}
		if a.checker == nil {
			a.checker = prereq.NewChecker(cfg.Prerequisites, logger.Component(log, "prereq"), checkerOpts...)
		}
	}

	a.resume = resume.NewDetector(a.auth.Resume, a.ctrl, a.store, resume.Options{
		Watcher:   a.watcher,
		Prober:    prober,
		Pointer:   a.versions,
		Confirmer: opts.confirmer,
		Bus:       a.bus,
		Metrics:   a.metrics,
		Logger:    logger.Component(log, "resume"),
	})
	return a, nil
}

// startBackground runs the scheduler (autosave) and, in remote mode,
// follows the authority's event stream.
func (a *app) startBackground(ctx context.Context) error {
	if a.cfg.State.Autosave != "" {
		a.sched.RegisterAction(scheduling.ActionStateSave, a.resume.Save)
		if err := a.sched.AddTask(scheduling.Task{
			Name:     "autosave",
			Schedule: a.cfg.State.Autosave,
			Action:   scheduling.ActionStateSave,
		}); err != nil {
			return fmt.Errorf("schedule autosave: %w", err)
		}
	}
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	a.closers = append(a.closers, a.sched.Stop)

	if a.remote != nil {
		go a.remote.Follow(ctx, 5*time.Second, a.watcher.HandleEvent)
	}
	return nil
}

// watchInstall starts polling the installation status once per run. The
// poll task removes itself at a terminal phase.
func (a *app) watchInstall() error {
	if a.watching {
		return nil
	}
	if err := a.watcher.Schedule(a.sched, a.cfg.Install.PollSchedule); err != nil {
		return fmt.Errorf("schedule installation poll: %w", err)
	}
	a.watching = true
	return nil
}

// saveState persists the session for a later resume. Failures are logged:
// losing the resume point must not turn a clean exit into an error.
func (a *app) saveState(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.resume.Save(ctx); err != nil {
		a.log.Warn("resume state not saved", "error", err)
	}
}

func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown", "error", err)
	}
}
