package imapstore

import "strings"

// gmailFolderAliases maps well-known Gmail special-use mailbox names to
// the canonical name this engine tracks them under, so the same account
// synced from different locales lands in one local folder. Grounded on
// eSlider-mail-archive's imapFolderMap.
var gmailFolderAliases = map[string]string{
	"[gmail]/sent mail":       "Sent",
	"[gmail]/sent":            "Sent",
	"[gmail]/gesendet":        "Sent",
	"[google mail]/sent mail": "Sent",
	"[gmail]/drafts":          "Drafts",
	"[gmail]/draft":           "Drafts",
	"[google mail]/drafts":    "Drafts",
	"[gmail]/trash":           "Trash",
	"[gmail]/papierkorb":      "Trash",
	"[google mail]/trash":     "Trash",
	"[gmail]/spam":            "Spam",
	"[google mail]/spam":      "Spam",
	"[gmail]/all mail":        "All Mail",
	"[google mail]/all mail":  "All Mail",
}

// CanonicalFolderName applies the Gmail alias table, falling back to
// the server's own name unchanged. Exported so callers building a local
// folder tree from the remote listing use the same mapping this package
// uses internally.
func CanonicalFolderName(serverName string) string {
	if mapped, ok := gmailFolderAliases[strings.ToLower(serverName)]; ok {
		return mapped
	}
	return serverName
}
