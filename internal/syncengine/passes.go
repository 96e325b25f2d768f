// Package syncengine implements the three-pass reconciliation between
// two folders via a status witness (spec.md §4.4) and the per-folder
// sync task that drives it (spec.md §4.6). Grounded on
// original_source/offlineimap/folder/Base.py's syncmessagesto_copy/
// _delete/_flags and copymessageto, translated from exceptions to Go
// error returns wrapped through internal/syncerr.
package syncengine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mailsync/mailsync/internal/folder"
	"github.com/mailsync/mailsync/internal/message"
	"github.com/mailsync/mailsync/internal/syncerr"
	"github.com/mailsync/mailsync/internal/ui"
)

// Limiter bounds concurrent per-message copies; satisfied structurally
// by scheduler.Pool without syncengine importing it.
type Limiter interface {
	Acquire(ctx context.Context) error
	Release()
}

type unboundedLimiter struct{}

func (unboundedLimiter) Acquire(ctx context.Context) error { return nil }
func (unboundedLimiter) Release()                          {}

// SyncMessagesTo runs the three passes in the fixed order pass1 -> pass2
// -> pass3 from self toward dst, using status as the witness. account
// and folderName are used only for error tagging. copyLimiter bounds
// per-message copy fan-out in pass 1 when self suggests it; pass nil for
// an unbounded (sequential-friendly) default. sink is a variadic trailer
// so existing 7-arg call sites keep compiling; pass a ui.Sink to report
// per-message copy progress in pass 1.
func SyncMessagesTo(ctx context.Context, account, folderName string, self, dst, status folder.Folder, copyLimiter Limiter, sink ...ui.Sink) error {
	if copyLimiter == nil {
		copyLimiter = unboundedLimiter{}
	}
	var s ui.Sink
	if len(sink) > 0 {
		s = sink[0]
	}

	if err := pass1CopyNew(ctx, account, folderName, self, dst, status, copyLimiter, s); err != nil {
		return err
	}
	if err := pass2DeleteVanished(ctx, account, folderName, self, status, dst); err != nil {
		return err
	}
	if err := pass3ReconcileFlags(ctx, account, folderName, self, dst, status); err != nil {
		return err
	}
	return nil
}

// pass1CopyNew copies every UID present in self but absent from status.
// When self suggests thread-per-copy fan-out, individual copies run
// concurrently bounded by copyLimiter; otherwise they run sequentially
// to avoid spinning up goroutines a Maildir source gets no benefit
// from.
func pass1CopyNew(ctx context.Context, account, folderName string, self, dst, status folder.Folder, copyLimiter Limiter, sink ui.Sink) error {
	selfList, err := self.MessageList(ctx)
	if err != nil {
		return syncerr.New(syncerr.Folder, account, folderName, err)
	}
	statusList, err := status.MessageList(ctx)
	if err != nil {
		return syncerr.New(syncerr.Folder, account, folderName, err)
	}

	var toCopy []message.UID
	for uid := range selfList {
		if _, ok := statusList[uid]; !ok {
			toCopy = append(toCopy, uid)
		}
	}

	if !self.SuggestsThreads() || len(toCopy) <= 1 {
		for _, uid := range toCopy {
			if err := copyMessageTo(ctx, account, folderName, uid, self, dst, status); err != nil {
				return err
			}
			if sink != nil {
				sink.MessagesCopied(account, folderName, 1)
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, uid := range toCopy {
		uid := uid
		if err := copyLimiter.Acquire(gctx); err != nil {
			return syncerr.New(syncerr.Folder, account, folderName, err)
		}
		g.Go(func() error {
			defer copyLimiter.Release()
			if err := copyMessageTo(gctx, account, folderName, uid, self, dst, status); err != nil {
				return err
			}
			if sink != nil {
				sink.MessagesCopied(account, folderName, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

// copyMessageTo implements copymessageto() (spec.md §4.4, pass 1 body).
func copyMessageTo(ctx context.Context, account, folderName string, uid message.UID, self, dst, status folder.Folder) error {
	if uid > 0 {
		exists, err := dst.UIDExists(ctx, uid)
		if err != nil {
			return syncerr.New(syncerr.Message, account, folderName, err)
		}
		if exists {
			flags, err := self.MessageFlags(ctx, uid)
			if err != nil {
				return syncerr.New(syncerr.Message, account, folderName, err)
			}
			rtime, _, err := self.MessageTime(ctx, uid)
			if err != nil {
				return syncerr.New(syncerr.Message, account, folderName, err)
			}
			if _, err := status.SaveMessage(ctx, uid, nil, flags, rtime); err != nil {
				return syncerr.New(syncerr.Message, account, folderName, err)
			}
			return nil
		}
	}

	var body []byte
	if dst.StoresMessages() {
		b, err := self.GetMessage(ctx, uid)
		if err != nil {
			return syncerr.New(syncerr.Message, account, folderName, err)
		}
		body = b
	}
	flags, err := self.MessageFlags(ctx, uid)
	if err != nil {
		return syncerr.New(syncerr.Message, account, folderName, err)
	}
	rtime, _, err := self.MessageTime(ctx, uid)
	if err != nil {
		return syncerr.New(syncerr.Message, account, folderName, err)
	}

	newUID, err := dst.SaveMessage(ctx, uid, body, flags, rtime)
	if err != nil {
		return syncerr.New(syncerr.Message, account, folderName, err)
	}

	switch {
	case newUID < 0:
		return syncerr.Wrapf(syncerr.Message, account, folderName, "destination returned invalid uid %d for message %d", newUID, uid)

	case newUID == 0:
		// Accepted but unidentifiable (spec.md §3, §7): leave status
		// untouched, it will be re-evaluated next cycle via the
		// UID-absent path.
		return nil

	case newUID != uid:
		if renamer, ok := self.(folder.Renamer); ok {
			if err := renamer.RenameMessage(ctx, uid, newUID); err != nil {
				return syncerr.New(syncerr.Message, account, folderName, err)
			}
		} else {
			if _, err := self.SaveMessage(ctx, newUID, body, flags, rtime); err != nil {
				return syncerr.New(syncerr.Message, account, folderName, err)
			}
			if err := self.DeleteMessages(ctx, []message.UID{uid}); err != nil {
				return syncerr.New(syncerr.Message, account, folderName, err)
			}
		}
		if _, err := status.SaveMessage(ctx, newUID, nil, flags, rtime); err != nil {
			return syncerr.New(syncerr.Message, account, folderName, err)
		}
		return nil

	default: // newUID == uid
		if _, err := status.SaveMessage(ctx, newUID, nil, flags, rtime); err != nil {
			return syncerr.New(syncerr.Message, account, folderName, err)
		}
		return nil
	}
}

// pass2DeleteVanished deletes, status first then dst, every UID the
// status witness remembers that self no longer has (spec.md §4.4 pass
// 2 — status-first ordering keeps a crash from silently losing data).
func pass2DeleteVanished(ctx context.Context, account, folderName string, self, status, dst folder.Folder) error {
	selfList, err := self.MessageList(ctx)
	if err != nil {
		return syncerr.New(syncerr.Folder, account, folderName, err)
	}
	statusList, err := status.MessageList(ctx)
	if err != nil {
		return syncerr.New(syncerr.Folder, account, folderName, err)
	}

	var toDelete []message.UID
	for uid := range statusList {
		if uid < 0 {
			continue
		}
		if _, ok := selfList[uid]; !ok {
			toDelete = append(toDelete, uid)
		}
	}
	if len(toDelete) == 0 {
		return nil
	}

	if err := status.DeleteMessages(ctx, toDelete); err != nil {
		return syncerr.New(syncerr.Folder, account, folderName, err)
	}
	if err := dst.DeleteMessages(ctx, toDelete); err != nil {
		return syncerr.New(syncerr.Folder, account, folderName, err)
	}
	return nil
}

// pass3ReconcileFlags diffs self's flags against status for every UID
// present on both self and dst, then applies each flag letter's
// add/remove set in bulk to dst and to status (spec.md §4.4 pass 3).
func pass3ReconcileFlags(ctx context.Context, account, folderName string, self, dst, status folder.Folder) error {
	selfList, err := self.MessageList(ctx)
	if err != nil {
		return syncerr.New(syncerr.Folder, account, folderName, err)
	}
	dstList, err := dst.MessageList(ctx)
	if err != nil {
		return syncerr.New(syncerr.Folder, account, folderName, err)
	}
	statusList, err := status.MessageList(ctx)
	if err != nil {
		return syncerr.New(syncerr.Folder, account, folderName, err)
	}

	add := make(map[byte][]message.UID)
	del := make(map[byte][]message.UID)

	for uid, selfFlags := range selfList {
		if uid < 0 {
			continue
		}
		if _, ok := dstList[uid]; !ok {
			continue
		}
		statusFlags := statusList[uid] // nil (empty) if absent, per spec

		for _, letter := range selfFlags.Diff(statusFlags) {
			add[letter] = append(add[letter], uid)
		}
		for _, letter := range statusFlags.Diff(selfFlags) {
			del[letter] = append(del[letter], uid)
		}
	}

	for letter, uids := range add {
		flags := message.NewFlags(letter)
		if err := dst.AddMessagesFlags(ctx, uids, flags); err != nil {
			return syncerr.New(syncerr.Folder, account, folderName, err)
		}
		if err := status.AddMessagesFlags(ctx, uids, flags); err != nil {
			return syncerr.New(syncerr.Folder, account, folderName, err)
		}
	}
	for letter, uids := range del {
		flags := message.NewFlags(letter)
		if err := dst.DeleteMessagesFlags(ctx, uids, flags); err != nil {
			return syncerr.New(syncerr.Folder, account, folderName, err)
		}
		if err := status.DeleteMessagesFlags(ctx, uids, flags); err != nil {
			return syncerr.New(syncerr.Folder, account, folderName, err)
		}
	}
	return nil
}
