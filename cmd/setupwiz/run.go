package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"setupwiz/internal/adapter/tui/stepview"
	"setupwiz/internal/domain"
	"setupwiz/internal/usecase/resume"
	"setupwiz/internal/usecase/versioning"
)

func runWizard(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, log, cleanup, err := bootstrap(ctx, configPath())
	if err != nil {
		return err
	}
	defer cleanup()

	ui := NewPrompter(in, out, assumeYes())
	a, err := newApp(cfg, log, appOptions{confirmer: ui})
	if err != nil {
		return err
	}
	defer a.close()
	return newShell(a, ui).run(ctx)
}

// shell is the line-oriented wizard front end. Each loop renders the
// current step, runs step entry work and executes one command.
type shell struct {
	app  *app
	ui   *Prompter
	view *stepview.Indicator

	// reconfigOp is the operation tracking an open reconfiguration.
	reconfigOp string
	// checkedAt is the step at which prerequisites were last checked, so the
	// check runs once per entry.
	checkedAt int
}

func newShell(a *app, ui *Prompter) *shell {
	return &shell{app: a, ui: ui, view: stepview.NewIndicator(a.ctrl.Graph())}
}

func (s *shell) run(ctx context.Context) error {
	if err := s.app.startBackground(ctx); err != nil {
		return err
	}
	if err := s.boot(ctx); err != nil {
		return err
	}
	defer s.app.saveState(ctx)

	prevStep := 0
	for {
		sess := s.app.ctrl.Session()
		if sess.CurrentStep != prevStep {
			s.ui.Println(s.view.View(sess))
			s.enter(ctx, sess)
			prevStep = sess.CurrentStep
		}
		fmt.Fprint(s.ui.writer, "> ")

		var in input
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.ui.writer)
			return nil
		case in = <-s.readLine():
		}
		if errors.Is(in.err, io.EOF) {
			fmt.Fprintln(s.ui.writer)
			return nil
		}
		if in.err != nil {
			return in.err
		}
		quit, err := s.exec(ctx, in.line)
		if err != nil {
			s.ui.PrintErr(err)
		}
		if quit {
			return nil
		}
	}
}

type input struct {
	line string
	err  error
}

// readLine reads one line in the background so the loop can also wait on
// ctx. A read abandoned on cancellation ends with the process.
func (s *shell) readLine() <-chan input {
	ch := make(chan input, 1)
	go func() {
		line, err := s.ui.ReadLine()
		ch <- input{line, err}
	}()
	return ch
}

// boot runs the resume flow. Declining to start over resumes instead.
func (s *shell) boot(ctx context.Context) error {
	res, err := s.app.resume.Run(ctx, s.ui.Chooser(s.app.ctrl.Graph()))
	if errors.Is(err, domain.ErrDeclined) {
		res, err = s.app.resume.Run(ctx, func(context.Context, resume.Offer) (resume.Choice, error) {
			return resume.ChoiceResume, nil
		})
	}
	if err != nil {
		return err
	}
	switch res.Decision {
	case resume.DecisionResumed:
		s.ui.PrintSuccess(fmt.Sprintf("Resumed at step %d", res.Step))
	case resume.DecisionStartedOver:
		s.ui.PrintSuccess("Started over")
	case resume.DecisionDegraded:
		s.ui.PrintWarning("Saved progress could not be read; starting fresh")
	}
	if res.ClearErr != nil {
		s.ui.PrintWarning("The saved progress could not be cleared and may be offered again")
	}
	for _, t := range res.Running {
		s.ui.PrintInfo(fmt.Sprintf("Task %s was still running (%s)", t.Name, t.Status))
	}
	for _, id := range res.Unverified {
		s.ui.PrintWarning(fmt.Sprintf("Service %s could not be verified", id))
	}
	return nil
}

// enter performs the work tied to arriving at a step.
func (s *shell) enter(ctx context.Context, sess domain.Session) {
	step, ok := s.app.ctrl.Current()
	if !ok {
		return
	}
	switch step.ID {
	case domain.StepChecklist:
		if s.checkedAt != sess.CurrentStep || sess.Prerequisites == nil {
			s.check(ctx)
		}
	case domain.StepTemplates:
		s.printTemplates()
	case domain.StepInstall:
		if err := s.app.watchInstall(); err != nil {
			s.ui.PrintErr(err)
		}
	}
}

func (s *shell) check(ctx context.Context) {
	rep, err := s.app.checker.Run(ctx)
	if err != nil {
		s.ui.PrintErr(err)
		return
	}
	if err := s.app.ctrl.RecordPrerequisites(ctx, rep); err != nil {
		s.ui.PrintErr(err)
		return
	}
	s.checkedAt = s.app.ctrl.Session().CurrentStep
	s.ui.Println(stepview.Report(rep))
}

func (s *shell) printTemplates() {
	for _, t := range s.app.ctrl.Templates() {
		fmt.Fprintf(s.ui.writer, "  %-12s %s\n", t.ID, t.Name)
	}
	s.ui.PrintInfo("Use 'template <id>' or 'custom'")
}

const shellHelp = `Commands:
  next, back, goto <n>          navigate
  template <id>, custom         choose a template or build custom
  profiles <a,b,...>            select profiles
  set <key>=<value>, unset <key>
  check, override               rerun the system check, accept shortfalls
  save [description], undo, history, restore-version <id>
  checkpoint <stage>, checkpoints, restore-checkpoint <id>
  reconfigure, done, rollback   change a finished setup
  status, operations, help, quit`

// exec runs one command line. It reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	a := s.app

	switch cmd {
	case "":
		return false, nil
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		fmt.Fprintln(s.ui.writer, shellHelp)
	case "next", "n":
		out, err := a.ctrl.Next(ctx)
		if err != nil {
			return false, err
		}
		s.ui.Println(stepview.Rejection(out.Rejection))
		if out.SaveErr != nil {
			s.ui.PrintWarning("Progress was not versioned: " + out.SaveErr.Error())
		}
	case "back", "b":
		_, err := a.ctrl.Previous(ctx)
		return false, err
	case "goto":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return false, fmt.Errorf("%w: goto needs a step number", domain.ErrInvalidInput)
		}
		return false, a.ctrl.Goto(ctx, n)
	case "template":
		return false, a.ctrl.ChooseTemplate(ctx, arg)
	case "custom":
		return false, a.ctrl.ChooseCustom(ctx)
	case "profiles":
		return false, a.ctrl.SelectProfiles(ctx, splitList(arg))
	case "set":
		k, v, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return false, fmt.Errorf("%w: use set <key>=<value>", domain.ErrInvalidInput)
		}
		return false, a.ctrl.UpdateConfiguration(ctx, map[string]any{strings.TrimSpace(k): parseValue(v)})
	case "unset":
		return false, a.ctrl.UpdateConfiguration(ctx, map[string]any{arg: nil})
	case "check":
		s.check(ctx)
	case "override":
		if err := a.ctrl.ConfirmResourceOverride(ctx); err != nil {
			return false, err
		}
		s.ui.PrintWarning("Resource shortfalls accepted")
	case "save":
		res, err := a.versions.SaveVersion(ctx, arg)
		if err != nil {
			return false, err
		}
		if res.Status == versioning.SaveSkipped {
			s.ui.PrintInfo("Nothing to save yet")
		} else {
			s.ui.PrintSuccess("Saved version " + res.VersionID)
		}
	case "undo":
		s.undo(ctx)
	case "history":
		hist, err := a.versions.History(ctx, 20)
		if err != nil {
			return false, err
		}
		s.ui.Println(stepview.History(hist))
	case "restore-version":
		if err := a.versions.RestoreVersion(ctx, arg); err != nil {
			return false, err
		}
		s.ui.PrintSuccess("Version restored")
	case "checkpoint":
		cp, err := a.versions.CreateCheckpoint(ctx, arg, nil)
		if err != nil {
			return false, err
		}
		s.ui.PrintSuccess("Checkpoint " + cp.ID)
	case "checkpoints":
		cps, err := a.versions.ListCheckpoints(ctx)
		if err != nil {
			return false, err
		}
		s.ui.Println(stepview.Checkpoints(cps, a.versions.LatestCheckpointID()))
	case "restore-checkpoint":
		if _, err := a.versions.RestoreCheckpoint(ctx, arg); err != nil {
			return false, err
		}
		s.ui.PrintSuccess("Checkpoint restored")
	case "reconfigure":
		return false, s.reconfigure(ctx)
	case "done":
		return false, s.finishReconfigure(ctx)
	case "rollback":
		return false, s.rollback(ctx)
	case "status":
		s.status()
	case "operations":
		s.ui.Println(stepview.Operations(a.ops.List()))
	default:
		return false, fmt.Errorf("%w: unknown command %q, try 'help'", domain.ErrInvalidInput, cmd)
	}
	return false, nil
}

func (s *shell) undo(ctx context.Context) {
	out, err := s.app.versions.Undo(ctx)
	reportUndo(s.ui, out, err)
}

func reportUndo(ui *Prompter, out versioning.UndoOutcome, err error) {
	if err != nil {
		ui.PrintErr(err)
		return
	}
	switch out.Status {
	case versioning.UndoApplied:
		msg := out.Message
		if msg == "" {
			msg = "Reverted to the previous version"
		}
		ui.PrintSuccess(msg)
	case versioning.UndoNothing, versioning.UndoDeclined:
		ui.PrintInfo(out.Message)
	case versioning.UndoUnavailable:
		ui.PrintErr(out.Err)
	}
}

// reconfigure opens a tracked reconfiguration of a finished setup. The
// checkpoint taken first is what rollback returns to.
func (s *shell) reconfigure(ctx context.Context) error {
	a := s.app
	if s.reconfigOp != "" {
		return fmt.Errorf("%w: a reconfiguration is already open", domain.ErrOperationInFlight)
	}
	op, err := a.ops.Begin(ctx, "reconfigure", "Reconfigure setup", 2)
	if err != nil {
		return err
	}
	if _, err := a.versions.CreateCheckpoint(ctx, "before-reconfigure", map[string]any{"operationId": op.ID}); err != nil {
		_, _ = a.ops.Complete(ctx, op.ID, false, err.Error())
		return err
	}
	_, _ = a.ops.Advance(ctx, op.ID, 1, "checkpoint created")
	if err := a.ctrl.BeginReconfiguration(ctx); err != nil {
		_, _ = a.ops.Complete(ctx, op.ID, false, err.Error())
		return err
	}
	s.reconfigOp = op.ID
	s.ui.PrintInfo("Reconfiguring. Use 'done' to finish or 'rollback' to undo the changes")
	return nil
}

func (s *shell) finishReconfigure(ctx context.Context) error {
	a := s.app
	if err := a.ctrl.ExitReconfiguration(ctx); err != nil {
		return err
	}
	if s.reconfigOp != "" {
		if _, err := a.ops.Complete(ctx, s.reconfigOp, true, "reconfiguration applied"); err != nil {
			a.log.Warn("operation not completed", "id", s.reconfigOp, "error", err)
		}
		s.reconfigOp = ""
	}
	s.ui.PrintSuccess("Reconfiguration finished")
	return nil
}

// rollback restores the newest checkpoint and marks the open (or most
// recent) reconfiguration as rolled back.
func (s *shell) rollback(ctx context.Context) error {
	a := s.app
	id := a.versions.LatestCheckpointID()
	if id == "" {
		return domain.NewDomainError("rollback", domain.ErrNotFound, "no checkpoint to roll back to")
	}
	if _, err := a.versions.RestoreCheckpoint(ctx, id); err != nil {
		return err
	}
	opID := s.reconfigOp
	if opID == "" {
		recs := a.ops.List()
		for i := len(recs) - 1; i >= 0; i-- {
			if recs[i].Type == "reconfigure" {
				opID = recs[i].ID
				break
			}
		}
	}
	if opID != "" {
		if _, err := a.ops.MarkRolledBack(ctx, opID, "restored checkpoint "+id); err != nil {
			a.log.Warn("operation not marked rolled back", "id", opID, "error", err)
		}
	}
	if s.reconfigOp != "" {
		if err := a.ctrl.AbandonReconfiguration(ctx); err != nil {
			return err
		}
		s.reconfigOp = ""
	}
	s.ui.PrintSuccess("Rolled back to checkpoint " + id)
	return nil
}

func (s *shell) status() {
	sess := s.app.ctrl.Session()
	s.ui.Println(s.view.View(sess))
	fmt.Fprintf(s.ui.writer, "  path: %s\n", sess.NavigationPath)
	if len(sess.SelectedProfiles) > 0 {
		fmt.Fprintf(s.ui.writer, "  profiles: %s\n", strings.Join(sess.SelectedProfiles, ", "))
	}
	keys := make([]string, 0, len(sess.Configuration))
	for k := range sess.Configuration {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(s.ui.writer, "  %s = %v\n", k, sess.Configuration[k])
	}
	if sess.InstallationPhase != "" {
		fmt.Fprintf(s.ui.writer, "  installation: %s\n", sess.InstallationPhase)
	}
	if d, ok := s.app.watcher.RetryIn(); ok {
		fmt.Fprintf(s.ui.writer, "  status retry in %s\n", d.Round(time.Second))
	}
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		out = append(out, strings.TrimSpace(f))
	}
	return out
}

// parseValue types a command-line value: integers and booleans keep their
// type, everything else is a string.
func parseValue(v string) any {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}
