// Package uxerror translates raw errors into user-friendly messages with
// recovery hints for the TUI and the command line.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"project-companion/internal/adapter/tui/theme"
	"project-companion/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Connection Failed"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Code    domain.ErrorCode
	Raw     string // original error text (for debug)
}

// Render formats the FriendlyError for display.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
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

var patterns = []errorPattern{
	// Domain sentinels first so errors.Is works through wrapping.
	{
		match: is(domain.ErrNotAuthenticated),
		produce: constantError("Not Logged In", "No saved credentials were found.",
			[]string{"Run 'companion login' or 'companion signup'"}),
	},
	{
		match: is(domain.ErrTokenExpired),
		produce: constantError("Session Expired", "Your login token has expired.",
			[]string{"Run 'companion login' again"}),
	},
	{
		match: is(domain.ErrAuthInvalid),
		produce: constantError("Authentication Failed", "The backend rejected your credentials.",
			[]string{"Check your email and password", "Run 'companion login' to refresh your token"}),
	},
	{
		match: is(domain.ErrForbidden),
		produce: constantError("Not Allowed", "Your role in this project does not permit that action.",
			[]string{"Ask the project owner for editor access", "Run 'companion members list' to see roles"}),
	},
	{
		match: func(err error) bool { return domain.ErrorCodeOf(err) == domain.CodeProjectNotFound },
		produce: constantError("Project Not Found", "The project does not exist or you are not a member.",
			[]string{"Run 'companion projects list'", "Check the --project flag"}),
	},
	{
		match: is(domain.ErrCircuitOpen),
		produce: constantError("Backend Unavailable", "Recent requests kept failing, so calls are paused briefly.",
			[]string{"Wait half a minute and try again", "Check that the backend is running"}),
	},
	{
		match: is(domain.ErrRateLimit),
		produce: constantError("Rate Limited", "Too many requests were sent.",
			[]string{"Wait a moment before retrying", "Lower api.rate_limit in config"}),
	},
	{
		match: is(domain.ErrStreamTruncated),
		produce: constantError("Answer Cut Off", "The stream closed before the assistant finished.",
			[]string{"Send the message again", "Partial file edits were kept in the workspace"}),
	},
	{
		match: is(domain.ErrNoStreamBody),
		produce: constantError("Empty Response", "The backend accepted the message but sent nothing back.",
			[]string{"Try again", "Check the stream.path setting in config"}),
	},
	{
		match: is(domain.ErrPathOutsideSandbox),
		produce: constantError("Path Rejected", "A file path pointed outside the workspace directory.",
			[]string{"The edit was not written to disk", "Check workspace.mirror_dir in config"}),
	},
	{
		match: is(domain.ErrConfigLoad),
		produce: constantError("Configuration Error", "The config file could not be loaded.",
			[]string{"Check the YAML syntax", "Use --config to point at another file"}),
	},
	{
		match: is(domain.ErrDecryption),
		produce: constantError("Cannot Decrypt Secrets", "An encrypted value could not be decrypted.",
			[]string{"Set COMPANION_CONFIG_KEY to the passphrase used for encryption"}),
	},

	// Network patterns (string matching for transport errors).
	{
		match: containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach the backend.",
			[]string{"Check that the backend is running", "Verify api.base_url in config"}),
	},
	{
		match: containsAny("deadline exceeded", "timeout", "context deadline"),
		produce: constantError("Request Timed Out", "The request took too long to complete.",
			[]string{"Check your network connection", "Increase api.resp_timeout in config"}),
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
			fe.Code = domain.ErrorCodeOf(err)
			return fe
		}
	}

	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with --log-level debug for more details"},
		Code:    domain.ErrorCodeOf(err),
		Raw:     err.Error(),
	}
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
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
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
