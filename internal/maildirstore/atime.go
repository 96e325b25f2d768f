package maildirstore

import (
	"syscall"
	"time"
)

// atime reads a file's last-access time from the Linux Stat_t.Atim
// field. Returns ok=false if the file cannot be stat'ed (stays
// best-effort, matching spec.md's treatment of atime restoration as
// advisory).
func atime(path string) (time.Time, bool) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return time.Time{}, false
	}
	return time.Unix(st.Atim.Sec, st.Atim.Nsec), true
}
