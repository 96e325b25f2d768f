package syncengine

import (
	"context"
	"testing"

	"github.com/mailsync/mailsync/internal/message"
)

func TestSyncFolderBootstrapRecordsValidityOnStatus(t *testing.T) {
	ctx := context.Background()
	remote := newMemFolder("INBOX", true)
	remote.validity = 42
	local := newMemFolder("INBOX", true)
	status := newMemStatusFolder("INBOX")

	if err := SyncFolder(ctx, FolderTask{
		Account: "acct",
		Remote:  remote,
		Local:   local,
		Status:  status,
	}); err != nil {
		t.Fatalf("SyncFolder: %v", err)
	}

	if status.recordedCalls != 1 {
		t.Fatalf("expected SetUIDValidity called once on bootstrap, got %d", status.recordedCalls)
	}
	if status.recordedValidity != 42 {
		t.Fatalf("expected recorded validity 42, got %d", status.recordedValidity)
	}
	if !local.hasSaved || !remote.hasSaved {
		t.Fatalf("expected both sides to have saved their own uid-validity")
	}
}

func TestSyncFolderFreshLocalRecordsValidityOnStatus(t *testing.T) {
	ctx := context.Background()
	remote := newMemFolder("INBOX", true)
	remote.validity = 7
	remote.savedValidity = 7
	remote.hasSaved = true
	remote.messages[1] = memMessage{body: []byte("hi"), flags: message.NewFlags()}

	local := newMemFolder("INBOX", true)

	status := newMemStatusFolder("INBOX")
	status.messages[99] = memMessage{flags: message.NewFlags(message.FlagSeen)}

	if err := SyncFolder(ctx, FolderTask{
		Account: "acct",
		Remote:  remote,
		Local:   local,
		Status:  status,
	}); err != nil {
		t.Fatalf("SyncFolder: %v", err)
	}

	if status.recordedCalls != 1 {
		t.Fatalf("expected SetUIDValidity called once for the fresh-local wipe, got %d", status.recordedCalls)
	}
	if status.recordedValidity != 7 {
		t.Fatalf("expected recorded validity 7, got %d", status.recordedValidity)
	}
	if _, ok := status.messages[99]; ok {
		t.Fatalf("stale status record should have been wiped")
	}
}

func TestSyncFolderReportsLifecycleToSink(t *testing.T) {
	ctx := context.Background()
	remote := newMemFolder("INBOX", true)
	remote.savedValidity = 1
	remote.hasSaved = true
	local := newMemFolder("INBOX", true)
	local.savedValidity = 1
	local.hasSaved = true
	status := newMemFolder("INBOX", false)

	var started, finished bool
	sink := &recordingFolderSink{
		onStarted:  func(account, folder string) { started = true },
		onFinished: func(account, folder string, err error) { finished = true },
	}

	if err := SyncFolder(ctx, FolderTask{
		Account: "acct",
		Remote:  remote,
		Local:   local,
		Status:  status,
		Quick:   true,
		Sink:    sink,
	}); err != nil {
		t.Fatalf("SyncFolder: %v", err)
	}

	if !started || !finished {
		t.Fatalf("expected Sink.FolderStarted/FolderFinished to fire around the sync")
	}
}

// recordingFolderSink implements ui.Sink, recording only the folder
// lifecycle callbacks this test cares about.
type recordingFolderSink struct {
	onStarted  func(account, folder string)
	onFinished func(account, folder string, err error)
}

func (s *recordingFolderSink) AccountStarted(account string)             {}
func (s *recordingFolderSink) AccountFinished(account string, err error) {}
func (s *recordingFolderSink) FolderStarted(account, folder string) {
	if s.onStarted != nil {
		s.onStarted(account, folder)
	}
}
func (s *recordingFolderSink) FolderFinished(account, folder string, err error) {
	if s.onFinished != nil {
		s.onFinished(account, folder, err)
	}
}
func (s *recordingFolderSink) MessagesCopied(account, folder string, n int) {}
func (s *recordingFolderSink) Warn(account, folder, message string)        {}
func (s *recordingFolderSink) Sleep(account string, seconds int)           {}
