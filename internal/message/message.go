// Package message defines the data types shared by every folder
// implementation: the UID, the canonical flag set, and the message
// record that ties them together.
package message

import "sort"

// UID identifies a message within a single folder.
//
//   - uid > 0 is a canonical UID assigned by the authoritative side.
//   - uid < 0 is a local placeholder for a message that has no server
//     UID yet. Placeholders are unique within one scanning pass and are
//     never written to the status store.
//   - uid == 0 is transient: returned by Save when the destination
//     accepted the body but could not report the assigned UID.
type UID int64

// MaildirUIDValidity is the constant UID-validity Maildir folders report,
// since Maildir has no native notion of the concept.
const MaildirUIDValidity = 42

// Validity is a per-folder token; a change invalidates all previously
// known UIDs for that folder.
type Validity int64

// Flags is a canonical (sorted, deduplicated) set of single-letter flags
// over the ASCII alphabet {R,S,T,D,F}.
type Flags []byte

const (
	FlagReplied = 'R'
	FlagSeen    = 'S'
	FlagTrashed = 'T'
	FlagDraft   = 'D'
	FlagFlagged = 'F'
)

// NewFlags builds a canonical Flags value from arbitrary input letters,
// sorting and deduplicating them.
func NewFlags(letters ...byte) Flags {
	seen := make(map[byte]bool, len(letters))
	out := make(Flags, 0, len(letters))
	for _, l := range letters {
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders the flags as the Maildir info-string suffix, e.g. "RS".
func (f Flags) String() string {
	return string(f)
}

// Has reports whether the set contains the given flag letter.
func (f Flags) Has(letter byte) bool {
	for _, l := range f {
		if l == letter {
			return true
		}
	}
	return false
}

// Equal reports whether two canonical flag sets are identical.
func (f Flags) Equal(other Flags) bool {
	if len(f) != len(other) {
		return false
	}
	for i := range f {
		if f[i] != other[i] {
			return false
		}
	}
	return true
}

// Diff returns the flags present in f but not in other ("add" when f is
// the desired state and other is the current one) in canonical order.
func (f Flags) Diff(other Flags) Flags {
	var out Flags
	for _, l := range f {
		if !other.Has(l) {
			out = append(out, l)
		}
	}
	return out
}

// Clone returns a copy safe for independent mutation.
func (f Flags) Clone() Flags {
	if f == nil {
		return nil
	}
	out := make(Flags, len(f))
	copy(out, f)
	return out
}

// Record is one message's identity and flag state as observed by a
// folder's message list.
type Record struct {
	UID   UID
	Flags Flags
}
