// Package ui defines the UI-sink interface used by the sync engine to
// report progress and account/folder lifecycle events, decoupled from
// any particular rendering backend (spec.md §4 "Top-level driver" /
// SPEC_FULL.md §"Logging"). Grounded on the teacher's main.go, which
// drives a single github.com/schollz/progressbar/v3 bar directly from
// its sync loop; here that call site becomes an interface so tests and
// a silent/batch mode can swap in a no-op.
package ui

// Sink receives lifecycle notifications from account and folder sync
// runs. All methods must be safe for concurrent use, since folders
// within one account sync concurrently.
type Sink interface {
	// AccountStarted/AccountFinished bracket one sync cycle for an
	// account. err is nil on success.
	AccountStarted(account string)
	AccountFinished(account string, err error)

	// FolderStarted/FolderFinished bracket one folder's three-pass sync.
	FolderStarted(account, folder string)
	FolderFinished(account, folder string, err error)

	// MessagesCopied reports progress within pass 1 of a folder sync;
	// called once per successfully copied message.
	MessagesCopied(account, folder string, n int)

	// Warn surfaces a non-fatal condition (hook failure, skipped
	// folder) to the user.
	Warn(account, folder, message string)

	// Sleep reports that an account is about to wait until the next
	// autorefresh cycle.
	Sleep(account string, seconds int)
}
