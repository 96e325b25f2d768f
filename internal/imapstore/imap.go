// Package imapstore implements the remote side of the sync: one IMAP
// connection per account shared by its folders, UID-based fetch/store, and UIDPLUS-backed
// APPEND for minting new UIDs. Grounded on the teacher's imap/imap.go,
// imap/fetch.go and imap/update.go, with folder discovery extended by
// eSlider-mail-archive's Gmail alias table (SPEC_FULL.md §6.5).
package imapstore

import (
	"context"
	"io/ioutil"
	"math"
	"sort"
	"sync"
	"time"

	eimap "github.com/emersion/go-imap"

	"github.com/mailsync/mailsync/internal/folder"
	"github.com/mailsync/mailsync/internal/message"
	"github.com/mailsync/mailsync/internal/syncerr"
)

// FolderFilter selects which server mailboxes participate in sync,
// mirroring the teacher's listFolders include/exclude maps.
type FolderFilter struct {
	Include []string
	Exclude []string
}

// Repository is the remote side of one account: a single IMAP
// connection, serialized by mu since go-imap's client.Client is not
// safe for concurrent use across folders.
type Repository struct {
	cfg    ServerConfig
	UIDDir string

	mu     sync.Mutex
	client *imapClient

	stopKeepalive chan struct{}
}

// Connect dials and authenticates, per ServerConfig.
func Connect(cfg ServerConfig, uidDir string) (*Repository, error) {
	c, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &Repository{cfg: cfg, UIDDir: uidDir, client: c}, nil
}

// Close logs out and disconnects, stopping the keepalive loop first.
func (r *Repository) Close() error {
	r.StopKeepalive()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		r.client.disconnect()
	}
	return nil
}

// StartKeepalive issues NOOP on an interval so the server doesn't drop
// an idle connection mid-sync (SPEC_FULL.md §6.5).
func (r *Repository) StartKeepalive(interval time.Duration) {
	if r.stopKeepalive != nil {
		return
	}
	stop := make(chan struct{})
	r.stopKeepalive = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.mu.Lock()
				_ = r.client.Noop()
				r.mu.Unlock()
			}
		}
	}()
}

func (r *Repository) StopKeepalive() {
	if r.stopKeepalive != nil {
		close(r.stopKeepalive)
		r.stopKeepalive = nil
	}
}

// ListFolders applies the include/exclude filter against the server's
// mailbox list, erroring if an explicitly included folder is absent.
func (r *Repository) ListFolders(filter FolderFilter) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	includeAll := len(filter.Include) == 0
	included := make(map[string]bool, len(filter.Include))
	for _, f := range filter.Include {
		included[f] = false
	}
	excluded := make(map[string]bool, len(filter.Exclude))
	for _, f := range filter.Exclude {
		excluded[f] = true
	}

	mboxChan := make(chan *eimap.MailboxInfo, 10)
	errChan := make(chan error, 1)
	go func() {
		errChan <- r.client.List("", "*", mboxChan)
	}()

	var names []string
	for mb := range mboxChan {
		if excluded[mb.Name] {
			continue
		}
		if !includeAll {
			if _, ok := included[mb.Name]; !ok {
				continue
			}
			included[mb.Name] = true
		}
		names = append(names, mb.Name)
	}
	if err := <-errChan; err != nil {
		return nil, syncerr.New(syncerr.Repo, r.cfg.Account, "", err)
	}
	for name, seen := range included {
		if !seen {
			return nil, syncerr.Wrapf(syncerr.Repo, r.cfg.Account, "", "folder %s not found on server", name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Folder returns a handle bound to the given server-side mailbox name.
func (r *Repository) Folder(serverName string) *Folder {
	return &Folder{
		repo:       r,
		serverName: serverName,
		visible:    CanonicalFolderName(serverName),
		uidv:       folder.UIDValidityFile{Dir: r.UIDDir, Name: folder.EscapeUIDDirName(CanonicalFolderName(serverName), '/')},
	}
}

// Folder is one IMAP mailbox, selected lazily on first use.
type Folder struct {
	repo       *Repository
	serverName string
	visible    string
	uidv       folder.UIDValidityFile

	mu       sync.Mutex
	selected bool
	status   *eimap.MailboxStatus
}

var _ folder.Folder = (*Folder)(nil)

func (f *Folder) Name() string { return f.visible }

func (f *Folder) ensureSelected() (*eimap.MailboxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selected {
		return f.status, nil
	}
	f.repo.mu.Lock()
	status, err := f.repo.client.Select(f.serverName, false)
	f.repo.mu.Unlock()
	if err != nil {
		return nil, syncerr.New(syncerr.Folder, f.repo.cfg.Account, f.visible, err)
	}
	f.status = status
	f.selected = true
	return status, nil
}

func (f *Folder) LiveUIDValidity(ctx context.Context) (message.Validity, error) {
	status, err := f.ensureSelected()
	if err != nil {
		return 0, err
	}
	return message.Validity(status.UidValidity), nil
}

func (f *Folder) SavedUIDValidity(ctx context.Context) (message.Validity, bool, error) {
	return f.uidv.Saved(ctx)
}

func (f *Folder) SaveUIDValidity(ctx context.Context) error {
	live, err := f.LiveUIDValidity(ctx)
	if err != nil {
		return err
	}
	return f.uidv.Save(ctx, live)
}

func (f *Folder) Forget() {
	f.mu.Lock()
	f.selected = false
	f.status = nil
	f.mu.Unlock()
}

// MessageList fetches flags for every UID in the mailbox with one UID
// FETCH. Nothing is cached: every call, including those made by
// UIDExists and MessageFlags, issues a fresh fetch.
func (f *Folder) MessageList(ctx context.Context) (map[message.UID]message.Flags, error) {
	status, err := f.ensureSelected()
	if err != nil {
		return nil, err
	}
	out := make(map[message.UID]message.Flags)
	if status.Messages == 0 {
		return out, nil
	}

	seqSet := new(eimap.SeqSet)
	seqSet.AddRange(1, math.MaxUint32)
	items := []eimap.FetchItem{eimap.FetchFlags, eimap.FetchUid}

	messages := make(chan *eimap.Message, 100)
	done := make(chan error, 1)

	f.repo.mu.Lock()
	go func() { done <- f.repo.client.UidFetch(seqSet, items, messages) }()
	for msg := range messages {
		out[message.UID(msg.Uid)] = translateImapFlags(msg.Flags)
	}
	err = <-done
	f.repo.mu.Unlock()
	if err != nil {
		return nil, syncerr.New(syncerr.Folder, f.repo.cfg.Account, f.visible, err)
	}
	return out, nil
}

func (f *Folder) UIDExists(ctx context.Context, uid message.UID) (bool, error) {
	list, err := f.MessageList(ctx)
	if err != nil {
		return false, err
	}
	_, ok := list[uid]
	return ok, nil
}

func (f *Folder) MessageFlags(ctx context.Context, uid message.UID) (message.Flags, error) {
	list, err := f.MessageList(ctx)
	if err != nil {
		return nil, err
	}
	flags, ok := list[uid]
	if !ok {
		return nil, syncerr.Wrapf(syncerr.Message, f.repo.cfg.Account, f.visible, "uid %d not found", uid)
	}
	return flags, nil
}

func (f *Folder) MessageTime(ctx context.Context, uid message.UID) (int64, bool, error) {
	if _, err := f.ensureSelected(); err != nil {
		return 0, false, err
	}
	seqSet := new(eimap.SeqSet)
	seqSet.AddNum(uint32(uid))
	items := []eimap.FetchItem{eimap.FetchInternalDate}

	messages := make(chan *eimap.Message, 1)
	done := make(chan error, 1)

	f.repo.mu.Lock()
	go func() { done <- f.repo.client.UidFetch(seqSet, items, messages) }()
	msg := <-messages
	err := <-done
	f.repo.mu.Unlock()
	if err != nil {
		return 0, false, syncerr.New(syncerr.Folder, f.repo.cfg.Account, f.visible, err)
	}
	if msg == nil {
		return 0, false, nil
	}
	return msg.InternalDate.Unix(), true, nil
}

// GetMessage downloads a message body without marking it seen
// (BODY.PEEK[]), the way the teacher's getMessage does.
func (f *Folder) GetMessage(ctx context.Context, uid message.UID) ([]byte, error) {
	if _, err := f.ensureSelected(); err != nil {
		return nil, err
	}

	section := &eimap.BodySectionName{Peek: true}
	items := []eimap.FetchItem{section.FetchItem()}
	seqSet := new(eimap.SeqSet)
	seqSet.AddNum(uint32(uid))

	messages := make(chan *eimap.Message, 1)
	done := make(chan error, 1)

	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	go func() { done <- f.repo.client.UidFetch(seqSet, items, messages) }()

	msg := <-messages
	if msg == nil {
		<-done
		return nil, syncerr.Wrapf(syncerr.Message, f.repo.cfg.Account, f.visible, "server returned no message for uid %d", uid)
	}
	r := msg.GetBody(section)
	if r == nil {
		<-done
		return nil, syncerr.Wrapf(syncerr.Message, f.repo.cfg.Account, f.visible, "server returned no body for uid %d", uid)
	}
	body, err := ioutil.ReadAll(r)
	if ferr := <-done; ferr != nil {
		return nil, syncerr.New(syncerr.Folder, f.repo.cfg.Account, f.visible, ferr)
	}
	if err != nil {
		return nil, syncerr.New(syncerr.Message, f.repo.cfg.Account, f.visible, err)
	}
	return body, nil
}

// SaveMessage mints a new UID via UIDPLUS APPEND. A uid <= 0 means
// "this folder is authoritative, assign whatever you like"; an
// existing positive uid that already exists is treated as a flag
// update instead of a duplicate append.
func (f *Folder) SaveMessage(ctx context.Context, uid message.UID, body []byte, flags message.Flags, rtime int64) (message.UID, error) {
	if uid > 0 {
		if exists, err := f.UIDExists(ctx, uid); err != nil {
			return 0, err
		} else if exists {
			if err := f.SaveMessageFlags(ctx, uid, flags); err != nil {
				return 0, err
			}
			return uid, nil
		}
	}

	has, err := f.supportsUIDPlus()
	if err != nil {
		return 0, err
	}
	if !has {
		return 0, syncerr.Wrapf(syncerr.Repo, f.repo.cfg.Account, f.visible, "server does not support UIDPLUS, cannot assign a UID on append")
	}

	at := time.Unix(rtime, 0)
	if rtime <= 0 {
		at = time.Now()
	}

	f.repo.mu.Lock()
	uidValidity, newUID, err := f.repo.client.uidplus.Append(f.serverName, imapFlagLetters(flags), at, newBytesLiteral(body))
	f.repo.mu.Unlock()
	if err != nil {
		return 0, syncerr.New(syncerr.Message, f.repo.cfg.Account, f.visible, err)
	}

	// Servers aren't required to report the assigned UID; if they
	// don't, the caller will pick the message up again on the next
	// full scan (spec.md §4.6 "untracked append").
	if uidValidity == 0 || newUID == 0 {
		return 0, nil
	}
	f.Forget()
	return message.UID(newUID), nil
}

func (f *Folder) supportsUIDPlus() (bool, error) {
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	ok, err := f.repo.client.uidplus.SupportUidPlus()
	if err != nil {
		return false, syncerr.New(syncerr.Repo, f.repo.cfg.Account, f.visible, err)
	}
	return ok, nil
}

func (f *Folder) SaveMessageFlags(ctx context.Context, uid message.UID, flags message.Flags) error {
	if _, err := f.ensureSelected(); err != nil {
		return err
	}
	seqSet := new(eimap.SeqSet)
	seqSet.AddNum(uint32(uid))
	item := eimap.FormatFlagsOp(eimap.SetFlags, true)
	letters := imapFlagLetters(flags)
	value := make([]interface{}, 0, len(letters))
	for _, l := range letters {
		value = append(value, l)
	}

	f.repo.mu.Lock()
	err := f.repo.client.UidStore(seqSet, item, value, nil)
	f.repo.mu.Unlock()
	if err != nil {
		return syncerr.New(syncerr.Message, f.repo.cfg.Account, f.visible, err)
	}
	return nil
}

func (f *Folder) applyFlagOp(ctx context.Context, uids []message.UID, flags message.Flags, op eimap.FlagsOp) error {
	if len(uids) == 0 || len(flags) == 0 {
		return nil
	}
	if _, err := f.ensureSelected(); err != nil {
		return err
	}
	seqSet := new(eimap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uint32(uid))
	}
	item := eimap.FormatFlagsOp(op, true)
	letters := imapFlagLetters(flags)
	value := make([]interface{}, 0, len(letters))
	for _, l := range letters {
		value = append(value, l)
	}

	f.repo.mu.Lock()
	err := f.repo.client.UidStore(seqSet, item, value, nil)
	f.repo.mu.Unlock()
	if err != nil {
		return syncerr.New(syncerr.Folder, f.repo.cfg.Account, f.visible, err)
	}
	return nil
}

func (f *Folder) AddMessagesFlags(ctx context.Context, uids []message.UID, flags message.Flags) error {
	return f.applyFlagOp(ctx, uids, flags, eimap.AddFlags)
}

func (f *Folder) DeleteMessagesFlags(ctx context.Context, uids []message.UID, flags message.Flags) error {
	return f.applyFlagOp(ctx, uids, flags, eimap.RemoveFlags)
}

// DeleteMessages marks messages \Deleted and expunges, the IMAP
// equivalent of unlink().
func (f *Folder) DeleteMessages(ctx context.Context, uids []message.UID) error {
	if len(uids) == 0 {
		return nil
	}
	if err := f.applyFlagOp(ctx, uids, message.NewFlags(message.FlagTrashed), eimap.AddFlags); err != nil {
		return err
	}
	f.repo.mu.Lock()
	err := f.repo.client.Expunge(nil)
	f.repo.mu.Unlock()
	if err != nil {
		return syncerr.New(syncerr.Folder, f.repo.cfg.Account, f.visible, err)
	}
	f.Forget()
	return nil
}

func (f *Folder) StoresMessages() bool   { return true }
func (f *Folder) SuggestsThreads() bool  { return true }
func (f *Folder) CopyInstanceLimit() int {
	if f.repo.cfg.CopyInstance > 0 {
		return f.repo.cfg.CopyInstance
	}
	return 1
}

// translateImapFlags maps IMAP system flags onto the canonical flag
// alphabet, ignoring anything else (keywords aren't part of this
// engine's flag model). Grounded on the teacher's translateFlags table,
// adapted from notmuch tags back to Maildir letters.
func translateImapFlags(imapFlags []string) message.Flags {
	var letters []byte
	for _, flag := range imapFlags {
		switch flag {
		case eimap.SeenFlag:
			letters = append(letters, message.FlagSeen)
		case eimap.AnsweredFlag:
			letters = append(letters, message.FlagReplied)
		case eimap.DeletedFlag:
			letters = append(letters, message.FlagTrashed)
		case eimap.DraftFlag:
			letters = append(letters, message.FlagDraft)
		case eimap.FlaggedFlag:
			letters = append(letters, message.FlagFlagged)
		}
	}
	return message.NewFlags(letters...)
}

var imapFlagNames = map[byte]string{
	message.FlagSeen:    eimap.SeenFlag,
	message.FlagReplied: eimap.AnsweredFlag,
	message.FlagTrashed: eimap.DeletedFlag,
	message.FlagDraft:   eimap.DraftFlag,
	message.FlagFlagged: eimap.FlaggedFlag,
}

func imapFlagLetters(flags message.Flags) []string {
	out := make([]string, 0, len(flags))
	for _, l := range flags {
		if name, ok := imapFlagNames[l]; ok {
			out = append(out, name)
		}
	}
	return out
}

// QuickChanged implements quickchanged() for IMAP: spec.md §4.8 allows
// an implementation-defined fast path (typically UIDNEXT/HIGHESTMODSEQ);
// this engine compares the fetched UID/flag set against the status
// snapshot, the same rule Maildir uses, since go-imap v1 does not expose
// CONDSTORE/HIGHESTMODSEQ.
func (f *Folder) QuickChanged(ctx context.Context, status map[message.UID]message.Flags) (bool, error) {
	list, err := f.MessageList(ctx)
	if err != nil {
		return false, err
	}
	if len(list) != len(status) {
		return true, nil
	}
	for uid, flags := range list {
		sflags, ok := status[uid]
		if !ok || !flags.Equal(sflags) {
			return true, nil
		}
	}
	return false, nil
}
