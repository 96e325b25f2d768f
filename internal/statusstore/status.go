// Package statusstore implements the third side of the three-way sync:
// a local record of what the engine last observed on each side, used to
// distinguish "created remotely" from "deleted locally" (spec.md §3,
// §4.2). Grounded on the teacher's sync/syncdb.go and sync/migrate.go,
// adapted from a notmuch-tag cache into a per-folder UID+flag cache.
package statusstore

import (
	"context"
	"database/sql"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mailsync/mailsync/internal/folder"
	"github.com/mailsync/mailsync/internal/message"
	"github.com/mailsync/mailsync/internal/syncerr"
)

// Store is the sqlite-backed status database for one account, shared
// by every folder's Folder handle.
type Store struct {
	Account string
	path    string
	db      *sql.DB
}

// Open opens (creating if needed) the status database at
// <dir>/.mailsyncstatus and applies migrations.
func Open(ctx context.Context, dir, account string) (*Store, error) {
	path := filepath.Join(dir, ".mailsyncstatus")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, syncerr.New(syncerr.Repo, account, "", err)
	}
	s := &Store{Account: account, path: path, db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, syncerr.New(syncerr.Repo, account, "", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS folders (
			name        VARCHAR(512) PRIMARY KEY,
			uidvalidity INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			folder VARCHAR(512) NOT NULL,
			uid    INTEGER NOT NULL,
			flags  TEXT NOT NULL,
			PRIMARY KEY (folder, uid)
		);`,
		`CREATE INDEX IF NOT EXISTS messages_folder ON messages (folder);`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Folder returns the status handle for name, implementing folder.Folder
// so the engine can drive it through the same three-pass machinery as
// the live sides.
func (s *Store) Folder(name string) *Folder {
	return &Folder{store: s, name: name}
}

// Folder is the status store's view of one mailbox: UID/flags only, no
// bodies.
type Folder struct {
	store *Store
	name  string
}

var _ folder.Folder = (*Folder)(nil)

func (f *Folder) Name() string { return f.name }

// LiveUIDValidity for the status store is whatever was last recorded;
// there is no independent "live" source, so Live and Saved coincide.
func (f *Folder) LiveUIDValidity(ctx context.Context) (message.Validity, error) {
	v, ok, err := f.SavedUIDValidity(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return v, nil
}

func (f *Folder) SavedUIDValidity(ctx context.Context) (message.Validity, bool, error) {
	var v int64
	err := f.store.db.QueryRowContext(ctx, `SELECT uidvalidity FROM folders WHERE name = ?`, f.name).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, syncerr.New(syncerr.Repo, f.store.Account, f.name, err)
	}
	return message.Validity(v), true, nil
}

// SaveUIDValidity is a no-op for the status store on its own: callers
// use SetUIDValidity with the authoritative side's live value, since the
// status store has nothing of its own to report.
func (f *Folder) SaveUIDValidity(ctx context.Context) error {
	return nil
}

// SetUIDValidity records v as this folder's new baseline, invalidating
// every previously stored UID (spec.md §4.2 "uidvalidity change wipes
// the status folder").
func (f *Folder) SetUIDValidity(ctx context.Context, v message.Validity) error {
	tx, err := f.store.db.BeginTx(ctx, nil)
	if err != nil {
		return syncerr.New(syncerr.Repo, f.store.Account, f.name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE folder = ?`, f.name); err != nil {
		return syncerr.New(syncerr.Repo, f.store.Account, f.name, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO folders(name, uidvalidity) VALUES(?, ?)
		ON CONFLICT(name) DO UPDATE SET uidvalidity = excluded.uidvalidity`,
		f.name, int64(v))
	if err != nil {
		return syncerr.New(syncerr.Repo, f.store.Account, f.name, err)
	}
	return tx.Commit()
}

func (f *Folder) MessageList(ctx context.Context) (map[message.UID]message.Flags, error) {
	rows, err := f.store.db.QueryContext(ctx, `SELECT uid, flags FROM messages WHERE folder = ?`, f.name)
	if err != nil {
		return nil, syncerr.New(syncerr.Repo, f.store.Account, f.name, err)
	}
	defer rows.Close()

	out := make(map[message.UID]message.Flags)
	for rows.Next() {
		var uid int64
		var flags string
		if err := rows.Scan(&uid, &flags); err != nil {
			return nil, syncerr.New(syncerr.Repo, f.store.Account, f.name, err)
		}
		out[message.UID(uid)] = message.NewFlags([]byte(flags)...)
	}
	return out, rows.Err()
}

// Forget is a no-op: the status store has no in-process cache to drop.
func (f *Folder) Forget() {}

func (f *Folder) UIDExists(ctx context.Context, uid message.UID) (bool, error) {
	var one int
	err := f.store.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE folder = ? AND uid = ?`, f.name, int64(uid)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, syncerr.New(syncerr.Repo, f.store.Account, f.name, err)
	}
	return true, nil
}

func (f *Folder) MessageFlags(ctx context.Context, uid message.UID) (message.Flags, error) {
	var flags string
	err := f.store.db.QueryRowContext(ctx, `SELECT flags FROM messages WHERE folder = ? AND uid = ?`, f.name, int64(uid)).Scan(&flags)
	if err == sql.ErrNoRows {
		return nil, syncerr.Wrapf(syncerr.Message, f.store.Account, f.name, "uid %d not found", uid)
	}
	if err != nil {
		return nil, syncerr.New(syncerr.Repo, f.store.Account, f.name, err)
	}
	return message.NewFlags([]byte(flags)...), nil
}

// MessageTime is unsupported: the status store never records a
// timestamp for a message.
func (f *Folder) MessageTime(ctx context.Context, uid message.UID) (int64, bool, error) {
	return 0, false, nil
}

// GetMessage is never called: StoresMessages reports false so the
// engine never asks the status store for a body.
func (f *Folder) GetMessage(ctx context.Context, uid message.UID) ([]byte, error) {
	return nil, syncerr.Wrapf(syncerr.Repo, f.store.Account, f.name, "status store holds no message bodies")
}

// SaveMessage records a UID/flags pair without a body; rtime is ignored.
func (f *Folder) SaveMessage(ctx context.Context, uid message.UID, body []byte, flags message.Flags, rtime int64) (message.UID, error) {
	if err := f.SaveMessageFlags(ctx, uid, flags); err != nil {
		return 0, err
	}
	return uid, nil
}

func (f *Folder) SaveMessageFlags(ctx context.Context, uid message.UID, flags message.Flags) error {
	_, err := f.store.db.ExecContext(ctx, `
		INSERT INTO messages(folder, uid, flags) VALUES(?, ?, ?)
		ON CONFLICT(folder, uid) DO UPDATE SET flags = excluded.flags`,
		f.name, int64(uid), flags.String())
	if err != nil {
		return syncerr.New(syncerr.Repo, f.store.Account, f.name, err)
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

func (f *Folder) DeleteMessages(ctx context.Context, uids []message.UID) error {
	for _, uid := range uids {
		if _, err := f.store.db.ExecContext(ctx, `DELETE FROM messages WHERE folder = ? AND uid = ?`, f.name, int64(uid)); err != nil {
			return syncerr.New(syncerr.Repo, f.store.Account, f.name, err)
		}
	}
	return nil
}

func (f *Folder) StoresMessages() bool   { return false }
func (f *Folder) SuggestsThreads() bool  { return false }
func (f *Folder) CopyInstanceLimit() int { return 1 }
