// Command mailsyncd is the top-level driver: it loads the YAML config,
// takes the advisory lock, wires each account's three repositories,
// and runs every account's sync loop bounded by the ACCOUNTLIMIT pool.
// Grounded on the teacher's main.go (flag.Bool CLI surface, yaml.v2
// config load, progressbar UI) generalized from a single-mailbox
// indexer into a multi-account scheduler driver (spec.md §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailsync/mailsync/internal/accountrunner"
	"github.com/mailsync/mailsync/internal/config"
	"github.com/mailsync/mailsync/internal/imapstore"
	"github.com/mailsync/mailsync/internal/maildirstore"
	"github.com/mailsync/mailsync/internal/scheduler"
	"github.com/mailsync/mailsync/internal/statusstore"
	"github.com/mailsync/mailsync/internal/ui"
)

func main() {
	configPath := flag.String("config", "./config.yml", "path to the YAML configuration file")
	once := flag.Bool("1", false, "run a single sync cycle per account, ignoring autorefresh, then exit")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	quiet := flag.Bool("quiet", false, "disable the interactive progress bars (log-only output)")
	logfile := flag.String("logfile", "", "write logs to this file instead of stderr")
	accountFilter := flag.String("account", "", "comma-separated subset of accounts to sync (default: all)")
	flag.Parse()

	logger := newLogger(*debug, *logfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot load configuration")
	}

	if err := os.MkdirAll(cfg.MetadataDir, 0o700); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.MetadataDir).Msg("cannot create metadata directory")
	}

	unlock, err := acquireLock(filepath.Join(cfg.MetadataDir, "lock"))
	if err != nil {
		logger.Fatal().Err(err).Msg("another instance is already running")
	}
	defer unlock()

	if err := os.WriteFile(filepath.Join(cfg.MetadataDir, "pid"), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600); err != nil {
		logger.Warn().Err(err).Msg("cannot write pid file")
	}

	names := selectedAccounts(cfg, *accountFilter)
	if len(names) == 0 {
		logger.Fatal().Msg("no accounts selected")
	}

	var sink ui.Sink = ui.Silent{}
	if !*quiet {
		sink = ui.NewConsole(logger)
	}

	sched := scheduler.NewRegistry()
	abort := accountrunner.NewAbortEvent()

	accounts := make([]*accountrunner.Account, 0, len(names))
	for _, name := range names {
		acctCfg := cfg.Accounts[name]
		if *once {
			acctCfg.AutoRefreshMinutes = 0
		}
		acct, err := buildAccount(name, acctCfg, cfg.MetadataDir, sched, abort, sink, logger)
		if err != nil {
			logger.Error().Err(err).Str("account", name).Msg("cannot initialize account, skipping")
			continue
		}
		accounts = append(accounts, acct)
	}

	installSignalHandlers(accounts, abort, logger)

	ctx := context.Background()
	if *once {
		runOnce(ctx, sched.Pool("ACCOUNTLIMIT", int64(maxInt(1, cfg.MaxSyncAccounts))), accounts, logger)
		return
	}

	accountPool := sched.Pool("ACCOUNTLIMIT", int64(maxInt(1, cfg.MaxSyncAccounts)))
	tasks := make([]func(context.Context) error, len(accounts))
	for i, acct := range accounts {
		acct := acct
		tasks[i] = acct.SyncRunner
	}
	if err := accountPool.Go(ctx, tasks); err != nil {
		logger.Error().Err(err).Msg("account runner exited with error")
		os.Exit(1)
	}
}

// runOnce drives each account's sync() path exactly once, at most
// pool.Bound() accounts at a time. Under -1 main builds every account
// with a RefreshPeriod of 0, which makes sleeper return 100 right after
// the first cycle.
func runOnce(ctx context.Context, pool *scheduler.Pool, accounts []*accountrunner.Account, logger zerolog.Logger) {
	var wg sync.WaitGroup
	for _, acct := range accounts {
		wg.Add(1)
		go func(a *accountrunner.Account) {
			defer wg.Done()
			if err := pool.Acquire(ctx); err != nil {
				logger.Error().Err(err).Msg("one-shot sync not started")
				return
			}
			defer pool.Release()
			if err := a.SyncRunner(ctx); err != nil {
				logger.Error().Err(err).Msg("one-shot sync failed")
			}
		}(acct)
	}
	wg.Wait()
}

func buildAccount(name string, acctCfg config.Account, metadataRoot string, sched *scheduler.Registry, abort *accountrunner.AbortEvent, sink ui.Sink, logger zerolog.Logger) (*accountrunner.Account, error) {
	metaDir := filepath.Join(metadataRoot, "Account-"+name)
	if err := os.MkdirAll(metaDir, 0o700); err != nil {
		return nil, err
	}
	uidDir := filepath.Join(metaDir, "uidvalidity")
	if err := os.MkdirAll(uidDir, 0o700); err != nil {
		return nil, err
	}

	local := maildirstore.NewRepository(acctCfg.LocalRepository.Path, filepath.Join(metaDir, "maildir-uidvalidity"), name)
	local.FSync = acctCfg.LocalRepository.FSync
	if acctCfg.LocalRepository.MaxAgeDays > 0 {
		local.MaxAgeDays = acctCfg.LocalRepository.MaxAgeDays
	}
	if acctCfg.LocalRepository.MaxSizeBytes > 0 {
		local.MaxSizeBytes = acctCfg.LocalRepository.MaxSizeBytes
	}

	var sockTimeout time.Duration
	if acctCfg.RemoteRepository.SockTimeout > 0 {
		sockTimeout = time.Duration(acctCfg.RemoteRepository.SockTimeout) * time.Second
	}
	remote, err := imapstore.Connect(imapstore.ServerConfig{
		Account:      name,
		Server:       acctCfg.RemoteRepository.Server,
		Port:         acctCfg.RemoteRepository.Port,
		Username:     acctCfg.RemoteRepository.User,
		Password:     acctCfg.RemoteRepository.Pass,
		UseTLS:       acctCfg.RemoteRepository.SSL,
		UseStartTLS:  acctCfg.RemoteRepository.StartTLS,
		SockTimeout:  sockTimeout,
		CopyInstance: int(acctCfg.RemoteRepository.MaxConnection),
	}, uidDir)
	if err != nil {
		return nil, err
	}

	status, err := statusstore.Open(context.Background(), metaDir, name)
	if err != nil {
		return nil, err
	}

	folderConns := acctCfg.RemoteRepository.MaxConnection
	if folderConns <= 0 {
		folderConns = 1
	}
	copyConns := folderConns

	return accountrunner.New(accountrunner.Config{
		Name:                     name,
		RefreshPeriod:            acctCfg.AutoRefreshPeriod(),
		Quick:                    acctCfg.Quick,
		LocalReadOnly:            acctCfg.LocalRepository.ReadOnly,
		RemoteReadOnly:           acctCfg.RemoteRepository.ReadOnly,
		MaxFolderConns:           folderConns,
		MaxCopyConns:             copyConns,
		FolderFilter:             imapstore.FolderFilter{Include: acctCfg.RemoteRepository.FolderIncludes, Exclude: acctCfg.RemoteRepository.FolderExcludes},
		PreSyncHook:              acctCfg.PreSyncHook,
		PostSyncHook:             acctCfg.PostSyncHook,
		HoldConnectionsOnSuccess: acctCfg.HoldConnectionsOnSuccess,
		MetadataDir:              metaDir,
		Sink:                     sink,
	}, remote, local, status, sched, abort, logger), nil
}

func selectedAccounts(cfg *config.Config, filter string) []string {
	wanted := map[string]bool{}
	if filter != "" {
		for _, n := range splitAndTrim(filter) {
			wanted[n] = true
		}
	}
	names := make([]string, 0, len(cfg.Accounts))
	for name := range cfg.Accounts {
		if len(wanted) == 0 || wanted[name] {
			names = append(names, name)
		}
	}
	return names
}

func splitAndTrim(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := strings.TrimSpace(s[start:i]); part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// acquireLock takes a non-blocking exclusive flock on path, per
// spec.md §5 "Locking". The returned func releases it.
func acquireLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock %q held by another instance: %w", path, err)
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}

// installSignalHandlers wires SIGTERM (immediate exit), SIGHUP/SIGUSR1
// (skip-sleep on every account), and SIGUSR2 (stop-after-current-cycle
// abort) per spec.md §4.7.
func installSignalHandlers(accounts []*accountrunner.Account, abort *accountrunner.AbortEvent, logger zerolog.Logger) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range sigs {
			switch sig {
			case syscall.SIGTERM:
				logger.Info().Msg("received SIGTERM, exiting immediately")
				os.Exit(0)
			case syscall.SIGHUP, syscall.SIGUSR1:
				logger.Info().Str("signal", sig.String()).Msg("resync requested, skipping current sleep on all accounts")
				for _, acct := range accounts {
					acct.RequestResync()
				}
			case syscall.SIGUSR2:
				logger.Info().Msg("received SIGUSR2, stopping after the current cycle")
				abort.Set()
			}
		}
	}()
}

func newLogger(debug bool, logfile string) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var out *os.File = os.Stderr
	if logfile != "" {
		f, err := os.OpenFile(logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err == nil {
			out = f
		}
	}

	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
