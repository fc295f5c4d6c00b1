// Package uxerror translates raw errors into user-facing messages with
// recovery hints.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"setupwiz/internal/adapter/tui/theme"
	"setupwiz/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Authority Unreachable"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text (for debug)
}

// Render formats the FriendlyError for the terminal.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(theme.TextError.Render(theme.SymbolError + " " + fe.Title))
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

var patterns = []errorPattern{
	// Domain sentinels first so errors.Is works through wrapping.
	{
		match: func(err error) bool {
			return domain.ErrorCodeOf(err) == domain.CodeCheckpointNotFound
		},
		produce: constantError("Checkpoint Not Found", "The checkpoint no longer exists on the authority.",
			[]string{"Run 'setupwiz checkpoints' to list the available checkpoints"}),
	},
	{
		match: func(err error) bool {
			return domain.ErrorCodeOf(err) == domain.CodeVersionNotFound
		},
		produce: constantError("Version Not Found", "The configuration version no longer exists.",
			[]string{"Run 'setupwiz history' to list recorded versions"}),
	},
	{
		match: is(domain.ErrAuthorityUnavailable),
		produce: constantError("Authority Unreachable", "The version and checkpoint store could not be reached.",
			[]string{"Check authority.base_url and authority.token", "Run 'setupwiz serve' on the installation host", "Your progress in this session is kept; try again"}),
	},
	{
		match: is(domain.ErrOperationInFlight),
		produce: constantError("Busy", "Another save, undo or restore is still running.",
			[]string{"Wait for it to finish and try again"}),
	},
	{
		match: is(domain.ErrInconsistentState),
		produce: constantError("Inconsistent Setup", "The chosen path, template and profiles do not agree.",
			[]string{"Go back to the template step and choose again", "Restore an earlier checkpoint"}),
	},
	{
		match: is(domain.ErrDeclined),
		produce: constantError("Cancelled", "Nothing was changed.", nil),
	},
	{
		match: is(domain.ErrSealing),
		produce: constantError("Secret Sealing Failed", "Secret configuration values could not be encrypted or decrypted.",
			[]string{"Check that the passphrase environment variable matches the one used to save"}),
	},
	{
		match: is(domain.ErrConfigLoad),
		produce: constantError("Invalid Configuration", "The configuration file could not be loaded.",
			[]string{"Check the YAML syntax", "Run 'setupwiz help' for the supported keys"}),
	},

	// Transport patterns for errors that never passed through the authority client.
	{
		match: containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach the remote service.",
			[]string{"Verify the service URL in config", "Check if a firewall is blocking the connection"}),
	},
	{
		match: containsAny("deadline exceeded", "timeout"),
		produce: constantError("Request Timed Out", "The request took too long to complete.",
			[]string{"Check your network connection", "Increase authority.timeout in config"}),
	},
	{
		match: containsAny("permission denied"),
		produce: constantError("Permission Denied", "The wizard could not read or write a local file or socket.",
			[]string{"Check the permissions of the data directory", "Add your user to the docker group"}),
	},
}

// Humanize converts a raw error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	for _, p := range patterns {
		if p.match(err) {
			fe := p.produce(err)
			fe.Raw = err.Error()
			return fe
		}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with SETUPWIZ_LOGGER_LEVEL=debug for more details"},
		Raw:     err.Error(),
	}
}

// containsAny returns a match func that checks if the error string contains
// any of the given substrings (case-insensitive).
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

// constantError returns a produce func that always returns the same FriendlyError.
func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(error) FriendlyError {
		return FriendlyError{Title: title, Message: message, Hints: hints}
	}
}
