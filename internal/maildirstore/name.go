package maildirstore

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// seqGuard serializes the (lastTime, seq) pair used to build unique
// Maildir filenames, matching the original's global mutex-guarded
// counter (SPEC_FULL.md §6.3 / spec.md §5 "shared mutable state").
type seqGuard struct {
	mu       sync.Mutex
	lastTime int64
	seq      int
}

func (g *seqGuard) next() (int64, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now().Unix()
	if now == g.lastTime {
		g.seq++
	} else {
		g.lastTime = now
		g.seq = 0
	}
	return now, g.seq
}

var defaultSeqGuard = &seqGuard{}

var (
	uidRE   = regexp.MustCompile(`,U=(\d+)`)
	fmd5RE  = regexp.MustCompile(`,FMD5=([0-9a-fA-F]+)`)
	flagsRE = regexp.MustCompile(`:2,([A-Z]*)`)
	tsRE    = regexp.MustCompile(`^(\d+)`)
)

// folderMD5 hashes a folder's visible name, used both to stamp new
// filenames and to recognize foreign messages during a scan.
func folderMD5(visibleName string) string {
	sum := md5.Sum([]byte(visibleName))
	return hex.EncodeToString(sum[:])
}

// composeName builds the tmp/ filename for a brand new message, before
// any flags are known (flags are applied by a subsequent rename).
func composeName(uid int64, visibleName string) string {
	hostname, _ := os.Hostname()
	ts, seq := defaultSeqGuard.next()
	return fmt.Sprintf("%d_%d.%d.%s,U=%d,FMD5=%s", ts, seq, os.Getpid(), hostname, uid, folderMD5(visibleName))
}

// parsedName holds the fields extracted from an on-disk Maildir filename.
type parsedName struct {
	uid       int64
	hasUID    bool
	fmd5      string
	hasFMD5   bool
	flags     string
	timestamp int64
}

func parseName(name string) parsedName {
	var p parsedName
	if m := uidRE.FindStringSubmatch(name); m != nil {
		if v, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			p.uid = v
			p.hasUID = true
		}
	}
	if m := fmd5RE.FindStringSubmatch(name); m != nil {
		p.fmd5 = m[1]
		p.hasFMD5 = true
	}
	if m := flagsRE.FindStringSubmatch(name); m != nil {
		p.flags = m[1]
	}
	if m := tsRE.FindStringSubmatch(name); m != nil {
		if v, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			p.timestamp = v
		}
	}
	return p
}

// withInfo rewrites a filename's trailing ":2,<FLAGS>" info section,
// stripping any prior one, matching savemessageflags()'s infostr logic.
func withInfo(name string, flags string) string {
	stripped := flagsRE.ReplaceAllString(name, "")
	// also drop a bare trailing ":" with no info section
	if len(stripped) > 0 && stripped[len(stripped)-1] == ':' {
		stripped = stripped[:len(stripped)-1]
	}
	return stripped + ":2," + flags
}
