package maildirstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mailsync/mailsync/internal/message"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	root := t.TempDir()
	uiddir := filepath.Join(root, ".uidvalidity")
	repo := NewRepository(root, uiddir, "testaccount")
	if err := repo.CreateFolder("INBOX"); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	return repo
}

func TestSaveMessageThenList(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	f := repo.Folder("INBOX")

	uid, err := f.SaveMessage(ctx, message.UID(1), []byte("Subject: hi\r\n\r\nbody\r\n"), message.NewFlags(message.FlagSeen), 0)
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if uid != 1 {
		t.Fatalf("expected uid 1, got %d", uid)
	}

	list, err := f.MessageList(ctx)
	if err != nil {
		t.Fatalf("MessageList: %v", err)
	}
	flags, ok := list[1]
	if !ok {
		t.Fatalf("uid 1 missing from list: %v", list)
	}
	if !flags.Has(message.FlagSeen) {
		t.Fatalf("expected Seen flag, got %q", flags)
	}

	body, err := f.GetMessage(ctx, 1)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if string(body) != "Subject: hi\n\nbody\n" {
		t.Fatalf("CRLF not translated: %q", body)
	}
}

func TestSaveMessagePlaceholderUIDNotWritten(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	f := repo.Folder("INBOX")

	uid, err := f.SaveMessage(ctx, message.UID(-1), []byte("x"), message.NewFlags(), 0)
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if uid != -1 {
		t.Fatalf("expected placeholder uid echoed back, got %d", uid)
	}
}

func TestSaveMessageFlagsMovesToCurWhenSeen(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	f := repo.Folder("INBOX")

	if _, err := f.SaveMessage(ctx, message.UID(5), []byte("x"), message.NewFlags(), 0); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(repo.Root, "INBOX", "new"))
	if len(entries) != 1 {
		t.Fatalf("expected one file in new/, got %d", len(entries))
	}

	if err := f.SaveMessageFlags(ctx, 5, message.NewFlags(message.FlagSeen)); err != nil {
		t.Fatalf("SaveMessageFlags: %v", err)
	}

	newEntries, _ := os.ReadDir(filepath.Join(repo.Root, "INBOX", "new"))
	curEntries, _ := os.ReadDir(filepath.Join(repo.Root, "INBOX", "cur"))
	if len(newEntries) != 0 || len(curEntries) != 1 {
		t.Fatalf("expected message moved to cur/, new=%d cur=%d", len(newEntries), len(curEntries))
	}
}

func TestDeleteMessages(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	f := repo.Folder("INBOX")

	if _, err := f.SaveMessage(ctx, message.UID(9), []byte("x"), message.NewFlags(), 0); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if err := f.DeleteMessages(ctx, []message.UID{9}); err != nil {
		t.Fatalf("DeleteMessages: %v", err)
	}
	list, err := f.MessageList(ctx)
	if err != nil {
		t.Fatalf("MessageList: %v", err)
	}
	if _, ok := list[9]; ok {
		t.Fatalf("uid 9 should have been deleted")
	}
}

func TestForeignMessageGetsPlaceholderUID(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	f := repo.Folder("INBOX")

	path := filepath.Join(repo.Root, "INBOX", "cur", "1234.foreign.host:2,S")
	if err := os.WriteFile(path, []byte("hi"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	list, err := f.MessageList(ctx)
	if err != nil {
		t.Fatalf("MessageList: %v", err)
	}
	foundPlaceholder := false
	for uid := range list {
		if uid < 0 {
			foundPlaceholder = true
		}
	}
	if !foundPlaceholder {
		t.Fatalf("expected a negative placeholder UID for foreign message, got %v", list)
	}
}

func TestUIDValidityBootstraps(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	f := repo.Folder("INBOX")

	_, ok, err := f.SavedUIDValidity(ctx)
	if err != nil {
		t.Fatalf("SavedUIDValidity: %v", err)
	}
	if ok {
		t.Fatalf("expected no saved uidvalidity yet")
	}

	if err := f.SaveUIDValidity(ctx); err != nil {
		t.Fatalf("SaveUIDValidity: %v", err)
	}
	v, ok, err := f.SavedUIDValidity(ctx)
	if err != nil || !ok {
		t.Fatalf("expected saved uidvalidity after Save, got ok=%v err=%v", ok, err)
	}
	if v != message.MaildirUIDValidity {
		t.Fatalf("expected %d, got %d", message.MaildirUIDValidity, v)
	}
}
