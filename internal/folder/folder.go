// Package folder defines the narrow capability interface shared by the
// three folder variants (Maildir, status, IMAP). syncengine depends
// only on this interface, never on a concrete implementation.
package folder

import (
	"context"

	"github.com/mailsync/mailsync/internal/message"
)

// Folder is the contract the three-pass reconciliation engine needs.
// Each variant (maildirstore, statusstore, imapstore) implements it.
type Folder interface {
	// Name returns the folder's visible name (IMAP-style path, using
	// this folder's own separator).
	Name() string

	// LiveUIDValidity returns the authoritative value right now: a
	// constant sentinel for Maildir, the server's reported value for
	// IMAP, and the stored value for the status store.
	LiveUIDValidity(ctx context.Context) (message.Validity, error)
	// SavedUIDValidity returns the previously persisted value, if any
	// was ever recorded for this folder (spec.md §3 "UID validity").
	SavedUIDValidity(ctx context.Context) (message.Validity, bool, error)
	// SaveUIDValidity persists the current live value as the saved one.
	SaveUIDValidity(ctx context.Context) error

	// MessageList returns the folder's UID -> flag-set mapping. The
	// Maildir folder scans on first call and memoizes the result; the
	// IMAP and status folders query their backing store on every call.
	MessageList(ctx context.Context) (map[message.UID]message.Flags, error)
	// Forget discards any memoized state (the Maildir message list, the
	// IMAP mailbox selection) so the next call reloads it.
	Forget()

	UIDExists(ctx context.Context, uid message.UID) (bool, error)
	MessageFlags(ctx context.Context, uid message.UID) (message.Flags, error)
	MessageTime(ctx context.Context, uid message.UID) (int64, bool, error)

	// GetMessage returns the raw body of a message. Only called when
	// the destination's StoresMessages is true.
	GetMessage(ctx context.Context, uid message.UID) ([]byte, error)

	// SaveMessage stores a message, minting a new UID if uid <= 0 and
	// the destination is authoritative (e.g. IMAP). Returns the UID the
	// message now has: >0 on success, 0 if saved but unidentifiable.
	SaveMessage(ctx context.Context, uid message.UID, body []byte, flags message.Flags, rtime int64) (message.UID, error)
	// SaveMessageFlags replaces one message's flags.
	SaveMessageFlags(ctx context.Context, uid message.UID, flags message.Flags) error
	// AddMessagesFlags/DeleteMessagesFlags apply a bulk flag mutation
	// to every UID in the list in as few round trips as the backing
	// store allows.
	AddMessagesFlags(ctx context.Context, uids []message.UID, flags message.Flags) error
	DeleteMessagesFlags(ctx context.Context, uids []message.UID, flags message.Flags) error

	DeleteMessages(ctx context.Context, uids []message.UID) error

	// StoresMessages reports whether this folder needs the message
	// body (false for the status store, which only tracks metadata).
	StoresMessages() bool
	// SuggestsThreads reports whether per-message copies out of this
	// folder should fan out across MSGCOPY_<repo> (true for IMAP
	// sources, false for Maildir).
	SuggestsThreads() bool
	// CopyInstanceLimit reports the folder's own per-message copy limit.
	// syncengine does not read it: pass-1 fan-out is bounded by the
	// Limiter handed to SyncMessagesTo.
	CopyInstanceLimit() int
}

// Renamer is an optional capability: a folder that can atomically
// rename a message to a new UID instead of a save+delete pair. Used by
// syncengine to close the crash window spec.md §9 flags as an open
// question; see SPEC_FULL.md §9.
type Renamer interface {
	RenameMessage(ctx context.Context, oldUID, newUID message.UID) error
}

// QuickChecker is an optional capability reporting whether a folder's
// contents differ from a previously observed status snapshot without
// doing the full three-pass reconciliation (spec.md §4.8).
type QuickChecker interface {
	QuickChanged(ctx context.Context, status map[message.UID]message.Flags) (bool, error)
}

// AtimeRestorer is an optional capability offered by repositories that
// want read-heavy passes to not disturb file access times (spec.md
// §4.1 "Atime restoration").
type AtimeRestorer interface {
	SnapshotAtimes(ctx context.Context) error
	RestoreAtimes(ctx context.Context) error
}

// ValidityRecorder is an optional capability offered by the status
// store: it records a new uidvalidity baseline for a folder, wiping
// any message rows recorded under a previous baseline (spec.md §4.2
// "uidvalidity change wipes status").
type ValidityRecorder interface {
	SetUIDValidity(ctx context.Context, v message.Validity) error
}
