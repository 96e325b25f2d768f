// Package maildirstore implements the local Maildir repository: the
// on-disk UID+flag encoding, atomic tmp-to-cur/new writes, and folder
// scanning described in spec.md §3 and §4.1. Grounded on the teacher's
// imap/fetch.go createMailDir/getMessage tmp-then-rename pattern and on
// original_source/offlineimap/folder/Maildir.py for the exact grammar.
package maildirstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mailsync/mailsync/internal/folder"
	"github.com/mailsync/mailsync/internal/message"
	"github.com/mailsync/mailsync/internal/syncerr"
)

// Repository is the local Maildir store for one account: one
// subdirectory per folder, each holding cur/new/tmp.
type Repository struct {
	Root   string // base directory, one subdir per folder
	UIDDir string // <metadata>/Account-<name>/maildir-uidvalidity

	FSync         bool // fsync message bodies before rename (default true)
	TranslateCRLF bool // translate \r\n -> \n on read (default true, known-fragile — SPEC_FULL.md §6.3)
	MaxAgeDays    int  // -1 disables the filter
	MaxSizeBytes  int64

	Account string
}

// NewRepository builds a Repository with the spec's defaults.
func NewRepository(root, uidDir, account string) *Repository {
	return &Repository{
		Root:          root,
		UIDDir:        uidDir,
		FSync:         true,
		TranslateCRLF: true,
		MaxAgeDays:    -1,
		MaxSizeBytes:  -1,
		Account:       account,
	}
}

// Folder returns a handle for the named folder. It does not touch disk.
func (r *Repository) Folder(name string) *Folder {
	return &Folder{
		repo: r,
		name: name,
		uidv: folder.UIDValidityFile{Dir: r.UIDDir, Name: folder.EscapeUIDDirName(name, '/')},
	}
}

// CreateFolder creates the cur/new/tmp subdirectories for name if they
// don't already exist (spec.md §4.3 "create folder" surface).
func (r *Repository) CreateFolder(name string) error {
	base := filepath.Join(r.Root, filepath.FromSlash(name))
	for _, sub := range []string{"tmp", "cur", "new"} {
		if err := os.MkdirAll(filepath.Join(base, sub), 0o700); err != nil {
			return syncerr.New(syncerr.Folder, r.Account, name, err)
		}
	}
	return nil
}

// ListFolders walks Root and returns every subdirectory that looks like
// a Maildir folder (has cur/new/tmp).
func (r *Repository) ListFolders() ([]string, error) {
	var names []string
	err := filepath.WalkDir(r.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == r.Root {
			return nil
		}
		if isMaildir(path) {
			rel, _ := filepath.Rel(r.Root, path)
			names = append(names, filepath.ToSlash(rel))
			return fs.SkipDir
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

func isMaildir(path string) bool {
	for _, sub := range []string{"cur", "new", "tmp"} {
		if st, err := os.Stat(filepath.Join(path, sub)); err != nil || !st.IsDir() {
			return false
		}
	}
	return true
}

type maildirRecord struct {
	flags   message.Flags
	relPath string // e.g. "cur/<name>", "new/<name>", or "tmp/<name>"
}

// Folder is one Maildir-backed mailbox.
type Folder struct {
	repo *Repository
	name string
	uidv folder.UIDValidityFile

	mu     sync.Mutex
	loaded bool
	list   map[message.UID]*maildirRecord

	atimeMu sync.Mutex
	atimes  map[string]time.Time
}

var _ folder.Folder = (*Folder)(nil)
var _ folder.Renamer = (*Folder)(nil)

func (f *Folder) Name() string { return f.name }

func (f *Folder) fullDir() string { return filepath.Join(f.repo.Root, filepath.FromSlash(f.name)) }

func (f *Folder) LiveUIDValidity(ctx context.Context) (message.Validity, error) {
	return message.MaildirUIDValidity, nil
}

func (f *Folder) SavedUIDValidity(ctx context.Context) (message.Validity, bool, error) {
	return f.uidv.Saved(ctx)
}

func (f *Folder) SaveUIDValidity(ctx context.Context) error {
	return f.uidv.Save(ctx, message.MaildirUIDValidity)
}

// MessageList scans cur/ and new/ on first call and memoizes the
// result; call Forget to force a rescan.
func (f *Folder) MessageList(ctx context.Context) (map[message.UID]message.Flags, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.loaded {
		if err := f.scan(); err != nil {
			return nil, syncerr.New(syncerr.Folder, f.repo.Account, f.name, err)
		}
	}
	out := make(map[message.UID]message.Flags, len(f.list))
	for uid, rec := range f.list {
		out[uid] = rec.flags
	}
	return out, nil
}

func (f *Folder) Forget() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = false
	f.list = nil
}

// scan implements _scanfolder(): list cur/+new/, parse each filename,
// assign negative placeholders to foreign/unmatched entries, and apply
// the optional maxage/maxsize filters. Must be called with f.mu held.
func (f *Folder) scan() error {
	list := make(map[message.UID]*maildirRecord)
	nextPlaceholder := message.UID(-1)
	wantFMD5 := folderMD5(f.name)
	oldestAllowed := int64(0)
	if f.repo.MaxAgeDays >= 0 {
		oldestAllowed = maxAgeCutoff(f.repo.MaxAgeDays)
	}

	for _, sub := range []string{"new", "cur"} {
		dir := filepath.Join(f.fullDir(), sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, ent := range entries {
			if ent.IsDir() || strings.HasPrefix(ent.Name(), ".") {
				continue
			}
			relPath := filepath.Join(sub, ent.Name())
			fullPath := filepath.Join(f.fullDir(), relPath)

			if f.repo.MaxAgeDays >= 0 {
				p := parseName(ent.Name())
				if p.timestamp > 0 && p.timestamp < oldestAllowed {
					continue
				}
			}
			if f.repo.MaxSizeBytes >= 0 {
				if info, err := ent.Info(); err == nil && info.Size() > f.repo.MaxSizeBytes {
					continue
				}
			}

			p := parseName(ent.Name())
			var uid message.UID
			if !p.hasFMD5 || p.fmd5 != wantFMD5 || !p.hasUID {
				uid = nextPlaceholder
				nextPlaceholder--
			} else {
				uid = message.UID(p.uid)
			}

			flags := message.NewFlags([]byte(p.flags)...)
			list[uid] = &maildirRecord{flags: flags, relPath: relPath}
		}
	}
	f.list = list
	f.loaded = true
	return nil
}

// maxAgeCutoff mirrors _iswithinmaxage(): convert "maxage days ago" to
// a UTC midnight boundary so the filter matches IMAP SINCE semantics.
func maxAgeCutoff(maxAgeDays int) int64 {
	oldest := time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour).UTC()
	secondsToday := oldest.Hour()*3600 + oldest.Minute()*60 + oldest.Second()
	return oldest.Unix() - int64(secondsToday)
}

func (f *Folder) UIDExists(ctx context.Context, uid message.UID) (bool, error) {
	if _, err := f.MessageList(ctx); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.list[uid]
	return ok, nil
}

func (f *Folder) MessageFlags(ctx context.Context, uid message.UID) (message.Flags, error) {
	if _, err := f.MessageList(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.list[uid]
	if !ok {
		return nil, syncerr.Wrapf(syncerr.Message, f.repo.Account, f.name, "uid %d not found", uid)
	}
	return rec.flags.Clone(), nil
}

func (f *Folder) MessageTime(ctx context.Context, uid message.UID) (int64, bool, error) {
	if _, err := f.MessageList(ctx); err != nil {
		return 0, false, err
	}
	f.mu.Lock()
	rec, ok := f.list[uid]
	f.mu.Unlock()
	if !ok {
		return 0, false, nil
	}
	info, err := os.Stat(filepath.Join(f.fullDir(), rec.relPath))
	if err != nil {
		return 0, false, err
	}
	return info.ModTime().Unix(), true, nil
}

func (f *Folder) GetMessage(ctx context.Context, uid message.UID) ([]byte, error) {
	if _, err := f.MessageList(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	rec, ok := f.list[uid]
	f.mu.Unlock()
	if !ok {
		return nil, syncerr.Wrapf(syncerr.Message, f.repo.Account, f.name, "uid %d not found", uid)
	}
	raw, err := os.ReadFile(filepath.Join(f.fullDir(), rec.relPath))
	if err != nil {
		return nil, err
	}
	if f.repo.TranslateCRLF {
		raw = []byte(strings.ReplaceAll(string(raw), "\r\n", "\n"))
	}
	return raw, nil
}

// SaveMessage implements savemessage(): a negative uid cannot be minted
// here (Maildir has no authority to assign UIDs), an existing uid is
// just a flag update, and a brand new message is written to tmp/ with
// O_EXCL before being moved into cur/ or new/ by saveFlags.
func (f *Folder) SaveMessage(ctx context.Context, uid message.UID, body []byte, flags message.Flags, rtime int64) (message.UID, error) {
	if uid < 0 {
		return uid, nil
	}

	if _, err := f.MessageList(ctx); err != nil {
		return 0, err
	}

	f.mu.Lock()
	_, exists := f.list[uid]
	f.mu.Unlock()
	if exists {
		if err := f.SaveMessageFlags(ctx, uid, flags); err != nil {
			return 0, err
		}
		return uid, nil
	}

	name := composeName(int64(uid), f.name)
	tmpPath := filepath.Join(f.fullDir(), "tmp", name)

	fd, err := os.OpenFile(tmpPath, os.O_EXCL|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return 0, syncerr.Wrapf(syncerr.Message, f.repo.Account, f.name, "unique filename %s already exists", name)
		}
		return 0, syncerr.New(syncerr.Message, f.repo.Account, f.name, err)
	}
	if _, err := fd.Write(body); err != nil {
		fd.Close()
		os.Remove(tmpPath)
		return 0, syncerr.New(syncerr.Message, f.repo.Account, f.name, err)
	}
	if f.repo.FSync {
		if err := fd.Sync(); err != nil {
			fd.Close()
			os.Remove(tmpPath)
			return 0, syncerr.New(syncerr.Message, f.repo.Account, f.name, err)
		}
	}
	if err := fd.Close(); err != nil {
		return 0, syncerr.New(syncerr.Message, f.repo.Account, f.name, err)
	}
	if rtime > 0 {
		t := time.Unix(rtime, 0)
		_ = os.Chtimes(tmpPath, t, t)
	}

	f.mu.Lock()
	f.list[uid] = &maildirRecord{flags: nil, relPath: filepath.Join("tmp", name)}
	f.mu.Unlock()

	if err := f.SaveMessageFlags(ctx, uid, flags); err != nil {
		return 0, err
	}
	return uid, nil
}

// SaveMessageFlags implements savemessageflags(): rename from the
// record's current location into cur/ (if Seen) or new/, rewriting the
// trailing ":2,<FLAGS>" info section.
func (f *Folder) SaveMessageFlags(ctx context.Context, uid message.UID, flags message.Flags) error {
	f.mu.Lock()
	rec, ok := f.list[uid]
	f.mu.Unlock()
	if !ok {
		return syncerr.Wrapf(syncerr.Message, f.repo.Account, f.name, "uid %d not found", uid)
	}

	dir := "new"
	if flags.Has(message.FlagSeen) {
		dir = "cur"
	}
	base := filepath.Base(rec.relPath)
	newBase := withInfo(base, flags.String())
	newRel := filepath.Join(dir, newBase)

	if newRel != rec.relPath {
		oldPath := filepath.Join(f.fullDir(), rec.relPath)
		newPath := filepath.Join(f.fullDir(), newRel)
		if err := os.Rename(oldPath, newPath); err != nil {
			return syncerr.New(syncerr.Message, f.repo.Account, f.name, err)
		}
		f.mu.Lock()
		rec.relPath = newRel
		rec.flags = flags.Clone()
		f.mu.Unlock()
	} else {
		f.mu.Lock()
		rec.flags = flags.Clone()
		f.mu.Unlock()
	}

	if strings.HasPrefix(rec.relPath, "tmp"+string(filepath.Separator)) {
		return syncerr.Wrapf(syncerr.Message, f.repo.Account, f.name, "message %d still in tmp/ after save", uid)
	}
	return nil
}

func (f *Folder) AddMessagesFlags(ctx context.Context, uids []message.UID, flags message.Flags) error {
	for _, uid := range uids {
		cur, err := f.MessageFlags(ctx, uid)
		if err != nil {
			return err
		}
		merged := message.NewFlags(append(append([]byte{}, cur...), flags...)...)
		if err := f.SaveMessageFlags(ctx, uid, merged); err != nil {
			return err
		}
	}
	return nil
}

func (f *Folder) DeleteMessagesFlags(ctx context.Context, uids []message.UID, flags message.Flags) error {
	for _, uid := range uids {
		cur, err := f.MessageFlags(ctx, uid)
		if err != nil {
			return err
		}
		kept := make([]byte, 0, len(cur))
		for _, l := range cur {
			if !flags.Has(l) {
				kept = append(kept, l)
			}
		}
		if err := f.SaveMessageFlags(ctx, uid, message.NewFlags(kept...)); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMessages implements deletemessage(): unlink, and if the cached
// path is stale (ENOENT) rescan once to discover a rename before giving
// up.
func (f *Folder) DeleteMessages(ctx context.Context, uids []message.UID) error {
	for _, uid := range uids {
		if err := f.deleteOne(ctx, uid); err != nil {
			return err
		}
	}
	return nil
}

func (f *Folder) deleteOne(ctx context.Context, uid message.UID) error {
	f.mu.Lock()
	rec, ok := f.list[uid]
	f.mu.Unlock()
	if !ok {
		return nil
	}

	path := filepath.Join(f.fullDir(), rec.relPath)
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		f.Forget()
		if _, err := f.MessageList(ctx); err != nil {
			return err
		}
		f.mu.Lock()
		rec, ok = f.list[uid]
		f.mu.Unlock()
		if !ok {
			return nil
		}
		err = os.Remove(filepath.Join(f.fullDir(), rec.relPath))
	}
	if err != nil {
		return syncerr.New(syncerr.Message, f.repo.Account, f.name, err)
	}
	f.mu.Lock()
	delete(f.list, uid)
	f.mu.Unlock()
	return nil
}

// RenameMessage implements the §9 open-question fix: a single atomic
// rename that changes a message's embedded UID without a save+delete
// pair, closing the crash window the original's load/save/del dance
// left open.
func (f *Folder) RenameMessage(ctx context.Context, oldUID, newUID message.UID) error {
	f.mu.Lock()
	rec, ok := f.list[oldUID]
	f.mu.Unlock()
	if !ok {
		return syncerr.Wrapf(syncerr.Message, f.repo.Account, f.name, "uid %d not found", oldUID)
	}

	// Drop any existing U=/FMD5= tokens and the info section (a foreign
	// message may have neither, or another folder's FMD5), then stamp the
	// new UID and this folder's FMD5 before the ":2,<FLAGS>" info.
	stem := filepath.Base(rec.relPath)
	if i := strings.Index(stem, ":2,"); i >= 0 {
		stem = stem[:i]
	}
	stem = fmd5RE.ReplaceAllString(uidRE.ReplaceAllString(stem, ""), "")
	newBase := withInfo(fmt.Sprintf("%s,U=%d,FMD5=%s", stem, newUID, folderMD5(f.name)), rec.flags.String())
	newRel := filepath.Join(filepath.Dir(rec.relPath), newBase)

	if err := os.Rename(filepath.Join(f.fullDir(), rec.relPath), filepath.Join(f.fullDir(), newRel)); err != nil {
		return syncerr.New(syncerr.Message, f.repo.Account, f.name, err)
	}

	f.mu.Lock()
	delete(f.list, oldUID)
	f.list[newUID] = &maildirRecord{flags: rec.flags, relPath: newRel}
	f.mu.Unlock()
	return nil
}

func (f *Folder) StoresMessages() bool   { return true }
func (f *Folder) SuggestsThreads() bool  { return false }
func (f *Folder) CopyInstanceLimit() int { return 1 }

// QuickChanged implements quickchanged() for Maildir: changed if the
// UID set differs from status, or any shared UID's flags differ.
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

// SnapshotAtimes records the current access time of every on-disk
// message so a later RestoreAtimes call can undo the kernel's
// read-updates-atime behavior after a read-heavy pass (spec.md §4.1
// "Atime restoration").
func (f *Folder) SnapshotAtimes(ctx context.Context) error {
	if _, err := f.MessageList(ctx); err != nil {
		return err
	}
	f.atimeMu.Lock()
	defer f.atimeMu.Unlock()
	f.atimes = make(map[string]time.Time)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.list {
		path := filepath.Join(f.fullDir(), rec.relPath)
		if at, ok := atime(path); ok {
			f.atimes[path] = at
		}
	}
	return nil
}

// RestoreAtimes resets every snapshotted file's access time, leaving
// its modification time untouched.
func (f *Folder) RestoreAtimes(ctx context.Context) error {
	f.atimeMu.Lock()
	defer f.atimeMu.Unlock()
	for path, at := range f.atimes {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		_ = os.Chtimes(path, at, info.ModTime())
	}
	f.atimes = nil
	return nil
}
