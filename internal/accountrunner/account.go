// Package accountrunner implements the account-level sync state machine
// (spec.md §4.5): the failure-budget loop, pre/post-sync hooks, quick-
// mode cadence, folder-tree replication, and per-account sleep/abort
// control. Grounded on original_source/offlineimap/accounts.py's
// SyncableAccount.syncrunner/sync/sleeper, translated from Python
// exceptions and threads into Go errors and goroutines.
package accountrunner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mailsync/mailsync/internal/imapstore"
	"github.com/mailsync/mailsync/internal/maildirstore"
	"github.com/mailsync/mailsync/internal/scheduler"
	"github.com/mailsync/mailsync/internal/statusstore"
	"github.com/mailsync/mailsync/internal/syncengine"
	"github.com/mailsync/mailsync/internal/syncerr"
	"github.com/mailsync/mailsync/internal/ui"
)

// Config is the per-account configuration the runner needs, mirroring
// the option table in spec.md §6.
type Config struct {
	Name string

	RefreshPeriod time.Duration // 0 disables autorefresh (one-shot)
	Quick         int           // <0 always quick, 0 never, >0 every Nth cycle full

	LocalReadOnly  bool
	RemoteReadOnly bool

	MaxFolderConns int64 // FOLDER_<repo> bound
	MaxCopyConns   int64 // MSGCOPY_<repo> bound

	FolderFilter imapstore.FolderFilter

	PreSyncHook  string
	PostSyncHook string

	HoldConnectionsOnSuccess bool

	MetadataDir string // <metadata>/Account-<name>

	Sink ui.Sink // nil means no progress reporting (ui.Silent{} also works)
}

// Account ties one account's three repositories together with the
// scheduler and runs its sync cycles.
type Account struct {
	cfg Config

	remote *imapstore.Repository
	local  *maildirstore.Repository
	status *statusstore.Store

	sched *scheduler.Registry
	abort *AbortEvent

	skipSleep atomic.Bool
	wake      chan struct{}
	quickNum  int

	logger zerolog.Logger
}

// New builds an Account from already-connected repositories.
func New(cfg Config, remote *imapstore.Repository, local *maildirstore.Repository, status *statusstore.Store, sched *scheduler.Registry, abort *AbortEvent, logger zerolog.Logger) *Account {
	return &Account{
		cfg:    cfg,
		remote: remote,
		local:  local,
		status: status,
		sched:  sched,
		abort:  abort,
		wake:   make(chan struct{}, 1),
		logger: logger.With().Str("account", cfg.Name).Logger(),
	}
}

// RequestResync implements the SIGHUP/SIGUSR1 "skip current sleep"
// signal for this account (spec.md §4.7 signal 1). A single pending
// request is enough; repeated sends before it is consumed collapse to
// one wake, which is the correct "resync now" semantics.
func (a *Account) RequestResync() {
	a.skipSleep.Store(true)
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// SyncRunner runs sync cycles until the failure budget is exhausted, a
// CRITICAL error is raised, or sleeper reports abort (spec.md §4.5).
func (a *Account) SyncRunner(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.MetadataDir, 0o700); err != nil {
		return syncerr.New(syncerr.Critical, a.cfg.Name, "", err)
	}

	looping := 3
	for looping > 0 {
		if a.cfg.Sink != nil {
			a.cfg.Sink.AccountStarted(a.cfg.Name)
		}
		err := a.sync(ctx)
		if a.cfg.Sink != nil {
			a.cfg.Sink.AccountFinished(a.cfg.Name, err)
		}
		if err != nil {
			sev := syncerr.SeverityOf(err)
			a.logger.Warn().Err(err).Msg("sync failed")
			if sev >= syncerr.Repo {
				looping--
				if sev >= syncerr.Critical {
					return err
				}
			}
		} else if a.cfg.RefreshPeriod > 0 {
			looping = 3
		}

		if looping > 0 {
			if a.cfg.Sink != nil && a.cfg.RefreshPeriod > 0 {
				a.cfg.Sink.Sleep(a.cfg.Name, int(a.cfg.RefreshPeriod.Seconds()))
			}
			code := a.sleeper(ctx)
			if code >= 2 {
				looping = 0
			}
		}
	}
	return nil
}

// sync runs exactly one cycle: hooks, folder-tree replication, and
// folder-parallel dispatch through the FOLDER_<repo> pool. Every
// cycle gets a correlation ID so its log lines are traceable across
// the folder pool's goroutines (SPEC_FULL.md §"Logging").
func (a *Account) sync(ctx context.Context) error {
	cycleLogger := a.logger.With().Str("cycle", uuid.NewString()).Logger()

	quick := a.determineQuick()

	cycleLogger.Info().Bool("quick", quick).Msg("sync cycle starting")
	a.runHook(ctx, cycleLogger, "presync", a.cfg.PreSyncHook)
	defer a.runHook(ctx, cycleLogger, "postsync", a.cfg.PostSyncHook)

	names, err := a.remote.ListFolders(a.cfg.FolderFilter)
	if err != nil {
		a.dropConnections()
		return syncerr.New(syncerr.Repo, a.cfg.Name, "", err)
	}

	if !a.cfg.LocalReadOnly {
		for _, name := range names {
			if err := a.local.CreateFolder(imapstore.CanonicalFolderName(name)); err != nil {
				a.dropConnections()
				return syncerr.New(syncerr.Repo, a.cfg.Name, name, err)
			}
		}
	}

	folderPool := a.sched.Pool("FOLDER_"+a.cfg.Name, a.cfg.MaxFolderConns)
	copyPool := a.sched.Pool("MSGCOPY_"+a.cfg.Name, a.cfg.MaxCopyConns)

	var mboxMu sync.Mutex
	var synced []string

	tasks := make([]func(context.Context) error, 0, len(names))
	for _, name := range names {
		name := name
		tasks = append(tasks, func(ctx context.Context) error {
			remoteFolder := a.remote.Folder(name)
			localFolder := a.local.Folder(imapstore.CanonicalFolderName(name))
			statusFolder := a.status.Folder(imapstore.CanonicalFolderName(name))

			taskErr := syncengine.SyncFolder(ctx, syncengine.FolderTask{
				Account:        a.cfg.Name,
				Remote:         remoteFolder,
				Local:          localFolder,
				Status:         statusFolder,
				RemoteReadOnly: a.cfg.RemoteReadOnly,
				LocalReadOnly:  a.cfg.LocalReadOnly,
				Quick:          quick,
				CopyLimiter:    copyPool,
				Sink:           a.cfg.Sink,
			})
			if taskErr != nil && syncerr.SeverityOf(taskErr) <= syncerr.Folder {
				cycleLogger.Warn().Err(taskErr).Str("folder", name).Msg("folder sync skipped")
				if a.cfg.Sink != nil {
					a.cfg.Sink.Warn(a.cfg.Name, name, taskErr.Error())
				}
				return nil
			}
			if taskErr == nil {
				mboxMu.Lock()
				synced = append(synced, imapstore.CanonicalFolderName(name))
				mboxMu.Unlock()
			}
			return taskErr
		})
	}

	if err := folderPool.Go(ctx, tasks); err != nil {
		a.dropConnections()
		return syncerr.New(syncerr.Repo, a.cfg.Name, "", err)
	}

	if err := a.writeMailboxList(synced); err != nil {
		cycleLogger.Warn().Err(err).Msg("cannot write mailboxlist")
	}

	if a.cfg.HoldConnectionsOnSuccess {
		a.remote.StartKeepalive(5 * time.Minute)
	} else {
		a.dropConnections()
	}
	return nil
}

// writeMailboxList persists the set of folders this cycle successfully
// replicated locally, one per line, to <MetadataDir>/mailboxlist, i.e.
// <metadata>/Account-<name>/mailboxlist
// (spec.md §4.5e "write mailbox-names file"), atomically via a
// tmp-then-rename write matching folder.UIDValidityFile's idiom.
// Grounded on offlineimap/accounts.py's mbnames.add/mbnames.write,
// simplified from its global multi-account registry to one file per
// account since each account already owns its own metadata directory.
func (a *Account) writeMailboxList(folders []string) error {
	sorted := append([]string(nil), folders...)
	sort.Strings(sorted)

	path := filepath.Join(a.cfg.MetadataDir, "mailboxlist")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(sorted, "\n")+"\n"), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (a *Account) dropConnections() {
	a.remote.StopKeepalive()
	_ = a.remote.Close()
}

// determineQuick implements the Python sync()'s quickconfig logic
// (spec.md §4.5 step 4b).
func (a *Account) determineQuick() bool {
	switch {
	case a.cfg.Quick < 0:
		return true
	case a.cfg.Quick > 0:
		if a.quickNum == 0 || a.quickNum >= a.cfg.Quick {
			a.quickNum = 1
			return false
		}
		a.quickNum++
		return true
	default:
		return false
	}
}

// sleeper implements spec.md §4.7: 100 no-sleep-configured, 0 timeout
// expired, 1 woken by skip-sleep, 2 global abort. Keeps the IMAP
// connection alive with NOOPs while waiting, since the wait can be
// arbitrarily long.
func (a *Account) sleeper(ctx context.Context) int {
	if a.cfg.RefreshPeriod <= 0 {
		return 100
	}

	a.remote.StartKeepalive(4 * time.Minute)
	defer a.remote.StopKeepalive()

	return a.sleeperNoKeepalive(ctx)
}

// sleeperNoKeepalive is the keepalive-free core of sleeper, split out
// so it can be exercised without a live IMAP connection.
func (a *Account) sleeperNoKeepalive(ctx context.Context) int {
	if a.cfg.RefreshPeriod <= 0 {
		return 100
	}

	timer := time.NewTimer(a.cfg.RefreshPeriod)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return 2
	case <-a.abort.Done():
		return 2
	case <-a.wake:
		a.skipSleep.Store(false)
		if a.abort.IsSet() {
			return 2
		}
		a.quickNum = 0
		return 1
	case <-timer.C:
		if a.abort.IsSet() {
			return 2
		}
		return 0
	}
}
