package syncengine

import (
	"context"
	"testing"

	"github.com/mailsync/mailsync/internal/folder"
	"github.com/mailsync/mailsync/internal/message"
)

var _ folder.Folder = (*memFolder)(nil)

func TestSyncMessagesToCopiesNewMessages(t *testing.T) {
	ctx := context.Background()
	self := newMemFolder("INBOX", true)
	self.messages[10] = memMessage{body: []byte("hi"), flags: message.NewFlags(message.FlagSeen)}
	self.messages[11] = memMessage{body: []byte("bye"), flags: message.NewFlags()}

	dst := newMemFolder("INBOX", true)
	status := newMemFolder("INBOX", false)

	if err := SyncMessagesTo(ctx, "acct", "INBOX", self, dst, status, nil); err != nil {
		t.Fatalf("SyncMessagesTo: %v", err)
	}

	if len(dst.messages) != 2 {
		t.Fatalf("expected 2 messages copied, got %d", len(dst.messages))
	}
	if !dst.messages[10].flags.Equal(message.NewFlags(message.FlagSeen)) {
		t.Fatalf("flags not copied: %q", dst.messages[10].flags)
	}
	statusList, _ := status.MessageList(ctx)
	if len(statusList) != 2 {
		t.Fatalf("expected status to gain 2 records, got %d", len(statusList))
	}
}

func TestSyncMessagesToShortCircuitsWhenUIDAlreadyExists(t *testing.T) {
	ctx := context.Background()
	self := newMemFolder("INBOX", true)
	self.messages[10] = memMessage{body: []byte("should not be read"), flags: message.NewFlags(message.FlagSeen)}

	dst := newMemFolder("INBOX", true)
	dst.messages[10] = memMessage{body: []byte("already there"), flags: message.NewFlags()}
	status := newMemFolder("INBOX", false)

	if err := SyncMessagesTo(ctx, "acct", "INBOX", self, dst, status, nil); err != nil {
		t.Fatalf("SyncMessagesTo: %v", err)
	}

	if string(dst.messages[10].body) != "already there" {
		t.Fatalf("dst body should not have been overwritten: %q", dst.messages[10].body)
	}
	statusList, _ := status.MessageList(ctx)
	if _, ok := statusList[10]; !ok {
		t.Fatalf("expected status to record uid 10 via short-circuit path")
	}
}

func TestSyncMessagesToMintsNewUID(t *testing.T) {
	ctx := context.Background()
	self := newMemFolder("INBOX", true)
	self.messages[-1] = memMessage{body: []byte("foreign"), flags: message.NewFlags()}

	dst := newMemFolder("INBOX", true)
	dst.nextMintedUID = 42
	status := newMemFolder("INBOX", false)

	if err := SyncMessagesTo(ctx, "acct", "INBOX", self, dst, status, nil); err != nil {
		t.Fatalf("SyncMessagesTo: %v", err)
	}

	if _, ok := self.messages[-1]; ok {
		t.Fatalf("expected old placeholder uid to be gone from self")
	}
	if _, ok := self.messages[42]; !ok {
		t.Fatalf("expected self to gain the minted uid 42")
	}
	statusList, _ := status.MessageList(ctx)
	if _, ok := statusList[42]; !ok {
		t.Fatalf("expected status to record minted uid 42")
	}
}

func TestSyncMessagesToDeletesVanishedFromStatusAndDst(t *testing.T) {
	ctx := context.Background()
	self := newMemFolder("INBOX", true) // nothing: remote deleted uid 10
	dst := newMemFolder("INBOX", true)
	dst.messages[10] = memMessage{flags: message.NewFlags(message.FlagSeen)}
	status := newMemFolder("INBOX", false)
	status.messages[10] = memMessage{flags: message.NewFlags(message.FlagSeen)}

	if err := SyncMessagesTo(ctx, "acct", "INBOX", self, dst, status, nil); err != nil {
		t.Fatalf("SyncMessagesTo: %v", err)
	}

	if _, ok := dst.messages[10]; ok {
		t.Fatalf("expected uid 10 deleted from dst")
	}
	if _, ok := status.messages[10]; ok {
		t.Fatalf("expected uid 10 deleted from status")
	}
}

func TestSyncMessagesToReconcilesFlags(t *testing.T) {
	ctx := context.Background()
	self := newMemFolder("INBOX", true)
	self.messages[11] = memMessage{flags: message.NewFlags(message.FlagSeen)}

	dst := newMemFolder("INBOX", true)
	dst.messages[11] = memMessage{flags: message.NewFlags()}

	status := newMemFolder("INBOX", false)
	status.messages[11] = memMessage{flags: message.NewFlags()}

	if err := SyncMessagesTo(ctx, "acct", "INBOX", self, dst, status, nil); err != nil {
		t.Fatalf("SyncMessagesTo: %v", err)
	}

	if !dst.messages[11].flags.Equal(message.NewFlags(message.FlagSeen)) {
		t.Fatalf("expected dst to gain Seen flag, got %q", dst.messages[11].flags)
	}
	if !status.messages[11].flags.Equal(message.NewFlags(message.FlagSeen)) {
		t.Fatalf("expected status to gain Seen flag, got %q", status.messages[11].flags)
	}
}

func TestSyncFolderSkipsOnUIDValidityMismatch(t *testing.T) {
	ctx := context.Background()
	remote := newMemFolder("INBOX", true)
	remote.messages[1] = memMessage{flags: message.NewFlags()}
	remote.validity = 555
	remote.hasSaved = true
	remote.savedValidity = 554

	local := newMemFolder("INBOX", true)
	local.hasSaved = true
	local.savedValidity = 1
	status := newMemFolder("INBOX", false)

	err := SyncFolder(ctx, FolderTask{Account: "acct", Remote: remote, Local: local, Status: status})
	if err == nil {
		t.Fatalf("expected uid-validity mismatch to be reported")
	}
	if len(local.messages) != 0 {
		t.Fatalf("expected no mutation on validity mismatch")
	}
}

func TestSyncFolderBootstrapsEmptyFolders(t *testing.T) {
	ctx := context.Background()
	remote := newMemFolder("INBOX", true)
	local := newMemFolder("INBOX", true)
	status := newMemFolder("INBOX", false)

	if err := SyncFolder(ctx, FolderTask{Account: "acct", Remote: remote, Local: local, Status: status}); err != nil {
		t.Fatalf("SyncFolder: %v", err)
	}
	if !local.hasSaved || !remote.hasSaved {
		t.Fatalf("expected both empty folders to bootstrap their uid-validity")
	}
}
