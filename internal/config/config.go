// Package config loads the YAML configuration file describing accounts
// and their repositories (spec.md §6). Grounded on
// yzzyx-nm-imap-sync/config/{config,mailbox}.go's plain-struct
// gopkg.in/yaml.v2 layout and main.go's $HOME/~-expanding path parser.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root of the YAML document.
type Config struct {
	MetadataDir string `yaml:"metadatadir"`

	MaxSyncAccounts int `yaml:"maxsyncaccounts"`

	Accounts map[string]Account `yaml:"accounts"`
}

// Account is one `accounts.<name>` block.
type Account struct {
	LocalRepository  Repository `yaml:"localrepository"`
	RemoteRepository Repository `yaml:"remoterepository"`

	AutoRefreshMinutes float64 `yaml:"autorefresh"`
	Quick              int     `yaml:"quick"`

	PreSyncHook  string `yaml:"presynchook"`
	PostSyncHook string `yaml:"postsynchook"`

	HoldConnectionsOnSuccess bool `yaml:"holdconnectiononsuccess"`
}

// Repository is one `localrepository`/`remoterepository` block. Type
// selects which fields are meaningful: "Maildir" uses Path/MaxAge/
// MaxSize; "IMAP" uses the connection fields.
type Repository struct {
	Type string `yaml:"type"`

	ReadOnly bool `yaml:"readonly"`

	// Maildir fields.
	Path         string `yaml:"path"`
	MaxAgeDays   int    `yaml:"maxage"`
	MaxSizeBytes int64  `yaml:"maxsize"`
	FSync        bool   `yaml:"fsync"`

	// IMAP fields.
	Server        string `yaml:"remotehost"`
	Port          int    `yaml:"remoteport"`
	User          string `yaml:"remoteuser"`
	Pass          string `yaml:"remotepass"`
	SSL           bool   `yaml:"ssl"`
	StartTLS      bool   `yaml:"starttls"`
	SockTimeout   int    `yaml:"socktimeout"`
	MaxConnection int64  `yaml:"maxconnections"`

	FolderIncludes []string `yaml:"folderincludes"`
	FolderExcludes []string `yaml:"folderexcludes"`
}

// AutoRefreshPeriod converts the fractional-minutes YAML value into a
// time.Duration, matching OfflineIMAP's "autorefresh = 2.5" idiom.
func (a Account) AutoRefreshPeriod() time.Duration {
	if a.AutoRefreshMinutes <= 0 {
		return 0
	}
	return time.Duration(a.AutoRefreshMinutes * float64(time.Minute))
}

// Load reads and parses the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	if cfg.MetadataDir == "" {
		cfg.MetadataDir = "~/.mailsync"
	}
	cfg.MetadataDir = ExpandPath(cfg.MetadataDir)

	for name, acct := range cfg.Accounts {
		acct.LocalRepository.Path = ExpandPath(acct.LocalRepository.Path)
		cfg.Accounts[name] = acct
	}

	return cfg, nil
}

// ExpandPath expands a leading "~/", "$HOME", or other "$VAR" segment
// and makes the result absolute, the way OfflineIMAP-family tools
// accept paths in their config files.
func ExpandPath(in string) string {
	if in == "" {
		return in
	}

	switch {
	case strings.HasPrefix(in, "$HOME"):
		in = userHomeDir() + in[len("$HOME"):]
	case strings.HasPrefix(in, "~/"):
		in = userHomeDir() + in[1:]
	}

	if strings.HasPrefix(in, "$") {
		end := strings.Index(in, string(os.PathSeparator))
		if end < 0 {
			end = len(in)
		}
		in = os.Getenv(in[1:end]) + in[end:]
	}

	if filepath.IsAbs(in) {
		return filepath.Clean(in)
	}

	abs, err := filepath.Abs(in)
	if err != nil {
		return in
	}
	return filepath.Clean(abs)
}

func userHomeDir() string {
	if runtime.GOOS == "windows" {
		home := os.Getenv("HOMEDRIVE") + os.Getenv("HOMEPATH")
		if home == "" {
			home = os.Getenv("USERPROFILE")
		}
		return home
	}
	return os.Getenv("HOME")
}
