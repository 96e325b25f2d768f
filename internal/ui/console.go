package ui

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
)

// Console is the default Sink: structured zerolog events for the log
// file, plus one live progressbar.v3 bar per in-flight folder for
// interactive terminals. Grounded on the teacher's main.go bar usage
// (progressbar.NewOptions(-1, ...), bar.Add(1), bar.Finish()).
type Console struct {
	log zerolog.Logger

	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

// NewConsole builds a Console sink logging through logger.
func NewConsole(logger zerolog.Logger) *Console {
	return &Console{log: logger, bars: make(map[string]*progressbar.ProgressBar)}
}

func (c *Console) AccountStarted(account string) {
	c.log.Info().Str("account", account).Msg("sync started")
}

func (c *Console) AccountFinished(account string, err error) {
	ev := c.log.Info()
	if err != nil {
		ev = c.log.Warn().Err(err)
	}
	ev.Str("account", account).Msg("sync finished")
}

func (c *Console) FolderStarted(account, folder string) {
	c.log.Debug().Str("account", account).Str("folder", folder).Msg("folder sync started")

	key := barKey(account, folder)
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(fmt.Sprintf("%s/%s", account, folder)),
		progressbar.OptionClearOnFinish(),
	)

	c.mu.Lock()
	c.bars[key] = bar
	c.mu.Unlock()
}

func (c *Console) FolderFinished(account, folder string, err error) {
	key := barKey(account, folder)

	c.mu.Lock()
	bar := c.bars[key]
	delete(c.bars, key)
	c.mu.Unlock()

	if bar != nil {
		_ = bar.Finish()
	}

	ev := c.log.Debug()
	if err != nil {
		ev = c.log.Warn().Err(err)
	}
	ev.Str("account", account).Str("folder", folder).Msg("folder sync finished")
}

func (c *Console) MessagesCopied(account, folder string, n int) {
	key := barKey(account, folder)

	c.mu.Lock()
	bar := c.bars[key]
	c.mu.Unlock()

	if bar != nil {
		_ = bar.Add(n)
	}
}

func (c *Console) Warn(account, folder, message string) {
	c.log.Warn().Str("account", account).Str("folder", folder).Msg(message)
}

func (c *Console) Sleep(account string, seconds int) {
	c.log.Info().Str("account", account).Int("seconds", seconds).Msg("sleeping until next cycle")
}

func barKey(account, folder string) string {
	return account + "\x00" + folder
}

// Silent discards every event; used for tests and non-interactive runs
// (e.g. cron) that only want the log file, not a live progress bar.
type Silent struct{}

func (Silent) AccountStarted(string)               {}
func (Silent) AccountFinished(string, error)        {}
func (Silent) FolderStarted(string, string)         {}
func (Silent) FolderFinished(string, string, error) {}
func (Silent) MessagesCopied(string, string, int)   {}
func (Silent) Warn(string, string, string)          {}
func (Silent) Sleep(string, int)                    {}

var _ Sink = Silent{}
var _ Sink = (*Console)(nil)
