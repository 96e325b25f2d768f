package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesAccounts(t *testing.T) {
	path := writeConfig(t, `
metadatadir: /tmp/meta
maxsyncaccounts: 2
accounts:
  work:
    autorefresh: 2.5
    quick: 10
    localrepository:
      type: Maildir
      path: /tmp/mail/work
      fsync: true
    remoterepository:
      type: IMAP
      remotehost: imap.example.com
      remoteport: 993
      ssl: true
      maxconnections: 3
      socktimeout: 30
      folderincludes:
        - INBOX
        - Archive
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxSyncAccounts != 2 {
		t.Fatalf("MaxSyncAccounts = %d, want 2", cfg.MaxSyncAccounts)
	}
	acct, ok := cfg.Accounts["work"]
	if !ok {
		t.Fatalf("missing account 'work'")
	}
	if acct.LocalRepository.Path != "/tmp/mail/work" {
		t.Fatalf("local path = %q", acct.LocalRepository.Path)
	}
	if acct.RemoteRepository.Server != "imap.example.com" || acct.RemoteRepository.Port != 993 {
		t.Fatalf("remote repository = %+v", acct.RemoteRepository)
	}
	if len(acct.RemoteRepository.FolderIncludes) != 2 {
		t.Fatalf("folder includes = %v", acct.RemoteRepository.FolderIncludes)
	}
	if acct.RemoteRepository.SockTimeout != 30 {
		t.Fatalf("SockTimeout = %d, want 30", acct.RemoteRepository.SockTimeout)
	}
	if got := acct.AutoRefreshPeriod(); got.Minutes() != 2.5 {
		t.Fatalf("AutoRefreshPeriod = %v, want 2.5m", got)
	}
}

func TestAutoRefreshPeriodZeroMeansOneShot(t *testing.T) {
	acct := Account{}
	if got := acct.AutoRefreshPeriod(); got != 0 {
		t.Fatalf("expected 0 duration, got %v", got)
	}
}

func TestExpandPathHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	if got := ExpandPath("~/mail"); got != "/home/tester/mail" {
		t.Fatalf("ExpandPath(~/mail) = %q", got)
	}
	if got := ExpandPath("$HOME/mail"); got != "/home/tester/mail" {
		t.Fatalf("ExpandPath($HOME/mail) = %q", got)
	}
}

func TestExpandPathAbsoluteUnchanged(t *testing.T) {
	if got := ExpandPath("/already/abs"); got != "/already/abs" {
		t.Fatalf("ExpandPath(/already/abs) = %q", got)
	}
}
