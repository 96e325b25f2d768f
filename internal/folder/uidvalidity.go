package folder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mailsync/mailsync/internal/message"
)

// EscapeUIDDirName implements the §6 escape rule for the uid-validity
// directory: replace the repository's separator with ".", a component
// equal to "." becomes "dot", and a trailing "/." becomes "/dot".
func EscapeUIDDirName(folderName string, sep byte) string {
	parts := strings.Split(folderName, string(sep))
	for i, p := range parts {
		if p == "." {
			parts[i] = "dot"
		}
	}
	return strings.Join(parts, ".")
}

// UIDValidityFile persists a folder's last-known uidvalidity token to
// <repo>/uiddir/<escaped-folder-name>, atomically (write-to-.tmp then
// rename — invariant I6).
type UIDValidityFile struct {
	Dir  string // the repository's uiddir
	Name string // escaped folder name
}

func (u UIDValidityFile) path() string {
	return filepath.Join(u.Dir, u.Name)
}

// Saved reads the previously persisted value, if any.
func (u UIDValidityFile) Saved(ctx context.Context) (message.Validity, bool, error) {
	data, err := os.ReadFile(u.path())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("uidvalidity file %s: %w", u.path(), err)
	}
	return message.Validity(v), true, nil
}

// Save persists v atomically.
func (u UIDValidityFile) Save(ctx context.Context, v message.Validity) error {
	if err := os.MkdirAll(u.Dir, 0o700); err != nil {
		return err
	}
	tmp := u.path() + ".tmp"
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("%d\n", v)), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, u.path())
}

// IsUIDValidityOK compares f's live value against its saved one. If no
// saved value exists yet, it saves the current live value and reports
// ok (this is how a side with no saved value bootstraps once the folder
// pair holds messages; an empty pair is bootstrapped by
// syncengine.SyncFolder calling SaveUIDValidity directly).
func IsUIDValidityOK(ctx context.Context, f Folder) (bool, error) {
	live, err := f.LiveUIDValidity(ctx)
	if err != nil {
		return false, err
	}
	saved, ok, err := f.SavedUIDValidity(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, f.SaveUIDValidity(ctx)
	}
	return saved == live, nil
}
