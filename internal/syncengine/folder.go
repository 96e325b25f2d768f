package syncengine

import (
	"context"

	"github.com/mailsync/mailsync/internal/folder"
	"github.com/mailsync/mailsync/internal/message"
	"github.com/mailsync/mailsync/internal/syncerr"
	"github.com/mailsync/mailsync/internal/ui"
)

// FolderTask holds everything SyncFolder needs for one mailbox's sync
// cycle (spec.md §4.6).
type FolderTask struct {
	Account string

	Remote folder.Folder
	Local  folder.Folder
	Status folder.Folder

	RemoteReadOnly bool
	LocalReadOnly  bool
	Quick          bool

	CopyLimiter Limiter

	// Sink receives progress events; nil means no UI reporting.
	Sink ui.Sink
}

// SyncFolder runs one folder's full sync cycle: uid-validity check,
// optional quick-change skip, and the two directional three-pass
// reconciliations. Errors at severity > Folder bubble to the caller;
// at <= Folder the caller is expected to log and move on to the next
// folder, per spec.md §4.6's closing sentence.
func SyncFolder(ctx context.Context, t FolderTask) (err error) {
	name := t.Remote.Name()

	if t.Sink != nil {
		t.Sink.FolderStarted(t.Account, name)
		defer func() { t.Sink.FolderFinished(t.Account, name, err) }()
	}

	if ar, ok := t.Local.(folder.AtimeRestorer); ok {
		if err := ar.SnapshotAtimes(ctx); err != nil {
			return syncerr.New(syncerr.Folder, t.Account, name, err)
		}
		defer ar.RestoreAtimes(ctx)
	}

	// A fresh local folder (no saved uid-validity yet) invalidates any
	// leftover status cache from a previous, unrelated folder layout.
	statusRecorded := false
	if _, ok, err := t.Local.SavedUIDValidity(ctx); err != nil {
		return syncerr.New(syncerr.Folder, t.Account, name, err)
	} else if !ok {
		if vr, ok := t.Status.(folder.ValidityRecorder); ok {
			live, err := t.Remote.LiveUIDValidity(ctx)
			if err != nil {
				return syncerr.New(syncerr.Folder, t.Account, name, err)
			}
			if err := vr.SetUIDValidity(ctx, live); err != nil {
				return syncerr.New(syncerr.Folder, t.Account, name, err)
			}
			statusRecorded = true
		} else {
			statusList, err := t.Status.MessageList(ctx)
			if err != nil {
				return syncerr.New(syncerr.Folder, t.Account, name, err)
			}
			if len(statusList) > 0 {
				uids := make([]message.UID, 0, len(statusList))
				for uid := range statusList {
					uids = append(uids, uid)
				}
				if err := t.Status.DeleteMessages(ctx, uids); err != nil {
					return syncerr.New(syncerr.Folder, t.Account, name, err)
				}
			}
		}
	}

	statusList, err := t.Status.MessageList(ctx)
	if err != nil {
		return syncerr.New(syncerr.Folder, t.Account, name, err)
	}

	if t.Quick {
		remoteChanged := true
		if qc, ok := t.Remote.(folder.QuickChecker); ok {
			remoteChanged, err = qc.QuickChanged(ctx, statusList)
			if err != nil {
				return syncerr.New(syncerr.Folder, t.Account, name, err)
			}
		}
		localChanged := true
		if qc, ok := t.Local.(folder.QuickChecker); ok {
			localChanged, err = qc.QuickChanged(ctx, statusList)
			if err != nil {
				return syncerr.New(syncerr.Folder, t.Account, name, err)
			}
		}
		if !remoteChanged && !localChanged {
			return nil
		}
	}

	localList, err := t.Local.MessageList(ctx)
	if err != nil {
		return syncerr.New(syncerr.Folder, t.Account, name, err)
	}
	remoteList, err := t.Remote.MessageList(ctx)
	if err != nil {
		return syncerr.New(syncerr.Folder, t.Account, name, err)
	}

	if len(localList) > 0 || len(remoteList) > 0 {
		localOK, err := folder.IsUIDValidityOK(ctx, t.Local)
		if err != nil {
			return syncerr.New(syncerr.Folder, t.Account, name, err)
		}
		remoteOK, err := folder.IsUIDValidityOK(ctx, t.Remote)
		if err != nil {
			return syncerr.New(syncerr.Folder, t.Account, name, err)
		}
		if !localOK || !remoteOK {
			return syncerr.Wrapf(syncerr.Folder, t.Account, name, "uid-validity mismatch, folder skipped")
		}
	} else {
		if err := t.Local.SaveUIDValidity(ctx); err != nil {
			return syncerr.New(syncerr.Folder, t.Account, name, err)
		}
		if err := t.Remote.SaveUIDValidity(ctx); err != nil {
			return syncerr.New(syncerr.Folder, t.Account, name, err)
		}
		if vr, ok := t.Status.(folder.ValidityRecorder); ok && !statusRecorded {
			live, err := t.Remote.LiveUIDValidity(ctx)
			if err != nil {
				return syncerr.New(syncerr.Folder, t.Account, name, err)
			}
			if err := vr.SetUIDValidity(ctx, live); err != nil {
				return syncerr.New(syncerr.Folder, t.Account, name, err)
			}
		}
	}

	if !t.LocalReadOnly {
		if err := SyncMessagesTo(ctx, t.Account, name, t.Remote, t.Local, t.Status, t.CopyLimiter, t.Sink); err != nil {
			return err
		}
	}
	if !t.RemoteReadOnly {
		if err := SyncMessagesTo(ctx, t.Account, name, t.Local, t.Remote, t.Status, t.CopyLimiter, t.Sink); err != nil {
			return err
		}
	}

	return nil
}
