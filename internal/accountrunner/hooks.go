package accountrunner

import (
	"context"
	"os/exec"

	"github.com/rs/zerolog"
)

// runHook invokes command as a shell command, logging its combined
// output either way. A non-zero exit is non-fatal (spec.md §4.5 "pre/
// post-sync hook ... non-zero exit is non-fatal").
func (a *Account) runHook(ctx context.Context, logger zerolog.Logger, which, command string) {
	if command == "" {
		return
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		logger.Warn().Err(err).Str("hook", which).Bytes("output", out).Msg("hook exited non-zero")
		if a.cfg.Sink != nil {
			a.cfg.Sink.Warn(a.cfg.Name, "", which+" hook exited non-zero: "+err.Error())
		}
		return
	}
	logger.Debug().Str("hook", which).Bytes("output", out).Msg("hook ran")
}
