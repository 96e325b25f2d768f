package imapstore

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	uidplus "github.com/emersion/go-imap-uidplus"
	"github.com/emersion/go-imap/client"

	"github.com/mailsync/mailsync/internal/syncerr"
)

// ServerConfig holds the connection parameters for one account's IMAP
// server, mirroring the teacher's config.Mailbox fields.
type ServerConfig struct {
	Account      string
	Server       string
	Port         int
	Username     string
	Password     string
	UseTLS       bool
	UseStartTLS  bool
	SockTimeout  time.Duration // 0 means use go-imap's own default dialer
	CopyInstance int           // MSGCOPY_<repo> concurrency cap; 0 means "use default"
}

// imapClient wraps the base IMAP client together with its UIDPLUS
// extension, the way the teacher's imap.Client does.
type imapClient struct {
	*client.Client
	uidplus *uidplus.UidPlusClient
}

// dial opens and authenticates a connection per cfg, defaulting the
// port the way the teacher's imap.New does (143 plain, 993 TLS).
func dial(cfg ServerConfig) (*imapClient, error) {
	if cfg.Server == "" {
		return nil, syncerr.Wrapf(syncerr.Repo, cfg.Account, "", "imap server address not configured")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, syncerr.Wrapf(syncerr.Repo, cfg.Account, "", "imap credentials not configured")
	}

	port := cfg.Port
	if port == 0 {
		port = 143
		if cfg.UseTLS {
			port = 993
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server, port)
	tlsConfig := &tls.Config{ServerName: cfg.Server}

	var c *client.Client
	var err error
	if cfg.SockTimeout > 0 {
		dialer := &net.Dialer{Timeout: cfg.SockTimeout}
		if cfg.UseTLS {
			c, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
		} else {
			c, err = client.DialWithDialer(dialer, addr)
		}
	} else if cfg.UseTLS {
		c, err = client.DialTLS(addr, tlsConfig)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, syncerr.New(syncerr.Repo, cfg.Account, "", err)
	}
	if cfg.SockTimeout > 0 {
		c.Timeout = cfg.SockTimeout
	}

	if cfg.UseStartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Close()
			return nil, syncerr.New(syncerr.Repo, cfg.Account, "", err)
		}
	}

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		c.Close()
		return nil, syncerr.New(syncerr.Repo, cfg.Account, "", err)
	}

	return &imapClient{Client: c, uidplus: uidplus.NewClient(c)}, nil
}

func (c *imapClient) disconnect() {
	_ = c.Logout()
	_ = c.Close()
}
