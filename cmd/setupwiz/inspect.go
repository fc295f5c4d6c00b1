package main

import (
	"context"
	"io"

	"setupwiz/internal/adapter/tui/stepview"
	"setupwiz/internal/usecase/resume"
)

// runInspect serves the one-shot commands that read or adjust saved state
// without entering the wizard.
func runInspect(ctx context.Context, cmd string, in io.Reader, out io.Writer) error {
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
	return inspect(ctx, a, ui, cmd)
}

func inspect(ctx context.Context, a *app, ui *Prompter, cmd string) error {
	switch cmd {
	case "history":
		hist, err := a.versions.History(ctx, 50)
		if err != nil {
			return err
		}
		ui.Println(stepview.History(hist))
	case "checkpoints":
		cps, err := a.versions.ListCheckpoints(ctx)
		if err != nil {
			return err
		}
		ui.Println(stepview.Checkpoints(cps, a.versions.LatestCheckpointID()))
	case "operations":
		ui.Println(stepview.Operations(a.ops.List()))
	case "undo":
		// Load the saved session, revert it, and save it back for the
		// next wizard run.
		res, err := a.resume.Run(ctx, func(context.Context, resume.Offer) (resume.Choice, error) {
			return resume.ChoiceResume, nil
		})
		if err != nil {
			return err
		}
		if res.Decision != resume.DecisionResumed {
			ui.PrintInfo("No saved session to undo")
			return nil
		}
		out, err := a.versions.Undo(ctx)
		reportUndo(ui, out, err)
		if err != nil {
			return err
		}
		return a.resume.Save(ctx)
	}
	return nil
}
