package imapstore

import (
	"testing"

	eimap "github.com/emersion/go-imap"

	"github.com/mailsync/mailsync/internal/message"
)

func TestCanonicalFolderName(t *testing.T) {
	cases := map[string]string{
		"[Gmail]/Sent Mail": "Sent",
		"[Gmail]/Trash":     "Trash",
		"INBOX":             "INBOX",
		"Archive/2020":      "Archive/2020",
	}
	for in, want := range cases {
		if got := CanonicalFolderName(in); got != want {
			t.Errorf("CanonicalFolderName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranslateImapFlagsRoundTrip(t *testing.T) {
	flags := translateImapFlags([]string{eimap.SeenFlag, eimap.FlaggedFlag, "$SomeKeyword"})
	if !flags.Has(message.FlagSeen) || !flags.Has(message.FlagFlagged) {
		t.Fatalf("expected Seen+Flagged, got %q", flags.String())
	}
	if flags.Has(message.FlagReplied) {
		t.Fatalf("unexpected Replied flag in %q", flags.String())
	}

	letters := imapFlagLetters(flags)
	if len(letters) != 2 {
		t.Fatalf("expected 2 imap flag names, got %v", letters)
	}
}

func TestBytesLiteralLen(t *testing.T) {
	lit := newBytesLiteral([]byte("hello"))
	if lit.Len() != 5 {
		t.Fatalf("expected len 5, got %d", lit.Len())
	}
	buf := make([]byte, 10)
	n, err := lit.Read(buf)
	if err != nil || n != 5 {
		t.Fatalf("Read: n=%d err=%v", n, err)
	}
}
