package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"setupwiz/internal/adapter/tui/stepview"
	"setupwiz/internal/adapter/tui/theme"
	"setupwiz/internal/adapter/tui/uxerror"
	"setupwiz/internal/domain"
	"setupwiz/internal/usecase/resume"
	"setupwiz/internal/usecase/wizard"
)

// Prompter reads answers from the terminal and prints wizard output. It
// also confirms destructive actions for the engine.
type Prompter struct {
	reader    *bufio.Reader
	writer    io.Writer
	assumeYes bool
}

// NewPrompter creates a Prompter with the given I/O streams. With assumeYes
// every confirmation is approved without reading input.
func NewPrompter(r io.Reader, w io.Writer, assumeYes bool) *Prompter {
	return &Prompter{reader: bufio.NewReader(r), writer: w, assumeYes: assumeYes}
}

var _ domain.Confirmer = (*Prompter)(nil)

// Confirm asks a yes/no question that defaults to no.
func (p *Prompter) Confirm(_ context.Context, prompt string) (bool, error) {
	if p.assumeYes {
		fmt.Fprintf(p.writer, "%s [y/N]: y\n", prompt)
		return true, nil
	}
	return p.AskConfirmation(prompt, false)
}

// AskConfirmation asks the user for a yes/no confirmation.
func (p *Prompter) AskConfirmation(prompt string, defaultYes bool) (bool, error) {
	def := "y/N"
	if defaultYes {
		def = "Y/n"
	}
	fmt.Fprintf(p.writer, "%s [%s]: ", prompt, def)
	line, err := p.ReadLine()
	if err != nil {
		return false, err
	}
	line = strings.ToLower(line)
	if line == "" {
		return defaultYes, nil
	}
	return line == "y" || line == "yes", nil
}

// AskString asks for a string with an optional default value.
func (p *Prompter) AskString(prompt, defaultVal string) (string, error) {
	if defaultVal != "" {
		fmt.Fprintf(p.writer, "%s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.writer, "%s: ", prompt)
	}
	line, err := p.ReadLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return defaultVal, nil
	}
	return line, nil
}

// AskChoice asks the user to select from a numbered list (1 to max).
func (p *Prompter) AskChoice(max int) (int, error) {
	for {
		fmt.Fprintf(p.writer, "Choice [1-%d]: ", max)
		line, err := p.ReadLine()
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(line)
		if err != nil || n < 1 || n > max {
			p.PrintError(fmt.Sprintf("Please enter a number between 1 and %d", max))
			continue
		}
		return n, nil
	}
}

// ReadLine returns the next trimmed input line. A final line without a
// newline is returned before io.EOF.
func (p *Prompter) ReadLine() (string, error) {
	line, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Chooser returns the resume prompt shown at startup.
func (p *Prompter) Chooser(graph *wizard.Graph) resume.Chooser {
	return func(_ context.Context, offer resume.Offer) (resume.Choice, error) {
		p.Println(stepview.ResumeOffer(offer, graph))
		if p.assumeYes {
			p.PrintInfo("resuming")
			return resume.ChoiceResume, nil
		}
		fmt.Fprintln(p.writer, "  1) Resume where you left off")
		fmt.Fprintln(p.writer, "  2) Start over")
		n, err := p.AskChoice(2)
		if err != nil {
			return resume.ChoiceResume, err
		}
		if n == 2 {
			return resume.ChoiceStartOver, nil
		}
		return resume.ChoiceResume, nil
	}
}

func (p *Prompter) Println(s string) {
	if s != "" {
		fmt.Fprintln(p.writer, s)
	}
}

func (p *Prompter) PrintSuccess(message string) {
	fmt.Fprintf(p.writer, "%s %s\n", theme.TextSuccess.Render(theme.SymbolSuccess), message)
}

func (p *Prompter) PrintInfo(message string) {
	fmt.Fprintf(p.writer, "%s %s\n", theme.TextInfo.Render(theme.SymbolInfo), message)
}

func (p *Prompter) PrintWarning(message string) {
	fmt.Fprintf(p.writer, "%s %s\n", theme.TextWarning.Render(theme.SymbolWarning), message)
}

func (p *Prompter) PrintError(message string) {
	fmt.Fprintf(p.writer, "%s %s\n", theme.TextError.Render(theme.SymbolError), message)
}

// PrintErr renders err with its recovery hints.
func (p *Prompter) PrintErr(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(p.writer, uxerror.Humanize(err).Render())
}
