package syncengine

import (
	"context"

	"github.com/mailsync/mailsync/internal/message"
)

// memFolder is a minimal in-memory folder.Folder used to exercise the
// three-pass reconciliation without touching Maildir or IMAP.
type memFolder struct {
	name          string
	validity      message.Validity
	savedValidity message.Validity
	hasSaved      bool

	messages map[message.UID]memMessage

	storesMessages  bool
	suggestsThreads bool
	nextMintedUID   message.UID // when > 0, SaveMessage mints this UID for uid<=0 input
}

type memMessage struct {
	body  []byte
	flags message.Flags
	rtime int64
}

func newMemFolder(name string, storesMessages bool) *memFolder {
	return &memFolder{name: name, messages: make(map[message.UID]memMessage), storesMessages: storesMessages, validity: 1}
}

func (f *memFolder) Name() string { return f.name }

func (f *memFolder) LiveUIDValidity(ctx context.Context) (message.Validity, error) {
	return f.validity, nil
}

func (f *memFolder) SavedUIDValidity(ctx context.Context) (message.Validity, bool, error) {
	return f.savedValidity, f.hasSaved, nil
}

func (f *memFolder) SaveUIDValidity(ctx context.Context) error {
	f.savedValidity = f.validity
	f.hasSaved = true
	return nil
}

func (f *memFolder) MessageList(ctx context.Context) (map[message.UID]message.Flags, error) {
	out := make(map[message.UID]message.Flags, len(f.messages))
	for uid, m := range f.messages {
		out[uid] = m.flags
	}
	return out, nil
}

func (f *memFolder) Forget() {}

func (f *memFolder) UIDExists(ctx context.Context, uid message.UID) (bool, error) {
	_, ok := f.messages[uid]
	return ok, nil
}

func (f *memFolder) MessageFlags(ctx context.Context, uid message.UID) (message.Flags, error) {
	return f.messages[uid].flags, nil
}

func (f *memFolder) MessageTime(ctx context.Context, uid message.UID) (int64, bool, error) {
	m, ok := f.messages[uid]
	return m.rtime, ok, nil
}

func (f *memFolder) GetMessage(ctx context.Context, uid message.UID) ([]byte, error) {
	return f.messages[uid].body, nil
}

func (f *memFolder) SaveMessage(ctx context.Context, uid message.UID, body []byte, flags message.Flags, rtime int64) (message.UID, error) {
	if uid <= 0 && f.nextMintedUID > 0 {
		uid = f.nextMintedUID
		f.nextMintedUID++
	}
	f.messages[uid] = memMessage{body: body, flags: flags.Clone(), rtime: rtime}
	return uid, nil
}

func (f *memFolder) SaveMessageFlags(ctx context.Context, uid message.UID, flags message.Flags) error {
	m := f.messages[uid]
	m.flags = flags.Clone()
	f.messages[uid] = m
	return nil
}

func (f *memFolder) AddMessagesFlags(ctx context.Context, uids []message.UID, flags message.Flags) error {
	for _, uid := range uids {
		m := f.messages[uid]
		m.flags = message.NewFlags(append(append([]byte{}, m.flags...), flags...)...)
		f.messages[uid] = m
	}
	return nil
}

func (f *memFolder) DeleteMessagesFlags(ctx context.Context, uids []message.UID, flags message.Flags) error {
	for _, uid := range uids {
		m := f.messages[uid]
		kept := make([]byte, 0, len(m.flags))
		for _, l := range m.flags {
			if !flags.Has(l) {
				kept = append(kept, l)
			}
		}
		m.flags = message.NewFlags(kept...)
		f.messages[uid] = m
	}
	return nil
}

func (f *memFolder) DeleteMessages(ctx context.Context, uids []message.UID) error {
	for _, uid := range uids {
		delete(f.messages, uid)
	}
	return nil
}

func (f *memFolder) StoresMessages() bool   { return f.storesMessages }
func (f *memFolder) SuggestsThreads() bool  { return f.suggestsThreads }
func (f *memFolder) CopyInstanceLimit() int { return 4 }

// memStatusFolder adds the ValidityRecorder capability on top of
// memFolder, mirroring statusstore.Folder's SetUIDValidity.
type memStatusFolder struct {
	*memFolder
	recordedValidity message.Validity
	recordedCalls    int
}

func newMemStatusFolder(name string) *memStatusFolder {
	return &memStatusFolder{memFolder: newMemFolder(name, false)}
}

func (f *memStatusFolder) SetUIDValidity(ctx context.Context, v message.Validity) error {
	f.recordedValidity = v
	f.recordedCalls++
	f.messages = make(map[message.UID]memMessage)
	return nil
}
