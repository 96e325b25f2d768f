// Package syncerr implements the severity-tagged error taxonomy of the
// synchronization engine: Message < Folder < Repo < Critical. Errors
// wrap github.com/rotisserie/eris so causes keep a stack trace without
// every call site hand-rolling fmt.Errorf("...: %w", err) chains.
package syncerr

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Severity orders failures by how much of the sync they abort.
type Severity int

const (
	// Message: one message failed; skip it, log, continue the folder.
	Message Severity = iota
	// Folder: folder cannot proceed; skip folder, continue the account.
	Folder
	// Repo: repository-level failure; bubbles to the account and counts
	// against its failure budget.
	Repo
	// Critical: fatal to this account; re-raised out of the account loop.
	Critical
)

func (s Severity) String() string {
	switch s {
	case Message:
		return "MESSAGE"
	case Folder:
		return "FOLDER"
	case Repo:
		return "REPO"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Error is a severity-tagged, stack-traced synchronization error.
type Error struct {
	Severity Severity
	Account  string
	Folder   string
	cause    error
}

func (e *Error) Error() string {
	loc := e.Account
	if e.Folder != "" {
		loc = fmt.Sprintf("%s/%s", e.Account, e.Folder)
	}
	if loc == "" {
		return fmt.Sprintf("[%s] %s", e.Severity, e.cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Severity, loc, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New wraps cause at the given severity, attaching an eris stack trace.
func New(sev Severity, account, folder string, cause error) *Error {
	return &Error{Severity: sev, Account: account, Folder: folder, cause: eris.Wrap(cause, sev.String())}
}

// Wrapf formats a new root cause and wraps it at the given severity.
func Wrapf(sev Severity, account, folder string, format string, args ...any) *Error {
	return New(sev, account, folder, eris.Errorf(format, args...))
}

// SeverityOf extracts the Severity from err, defaulting to Critical for
// errors that were never classified (conservative: an unclassified
// error should not be silently downgraded).
func SeverityOf(err error) Severity {
	var se *Error
	if errors.As(err, &se) {
		return se.Severity
	}
	return Critical
}
