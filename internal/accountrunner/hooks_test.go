package accountrunner

import (
	"context"
	"testing"
)

type recordingSink struct {
	warnings []string
}

func (r *recordingSink) AccountStarted(string)        {}
func (r *recordingSink) AccountFinished(string, error) {}
func (r *recordingSink) FolderStarted(string, string)  {}
func (r *recordingSink) FolderFinished(string, string, error) {}
func (r *recordingSink) MessagesCopied(string, string, int)   {}
func (r *recordingSink) Warn(account, folder, message string) {
	r.warnings = append(r.warnings, message)
}
func (r *recordingSink) Sleep(string, int) {}

func TestRunHookSkipsEmptyCommand(t *testing.T) {
	a := testAccount(Config{})
	a.runHook(context.Background(), a.logger, "presync", "")
}

func TestRunHookReportsNonZeroExitToSink(t *testing.T) {
	sink := &recordingSink{}
	a := testAccount(Config{Name: "acct", Sink: sink})
	a.runHook(context.Background(), a.logger, "presync", "exit 1")
	if len(sink.warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", sink.warnings)
	}
}

func TestRunHookSilentOnSuccess(t *testing.T) {
	sink := &recordingSink{}
	a := testAccount(Config{Name: "acct", Sink: sink})
	a.runHook(context.Background(), a.logger, "presync", "true")
	if len(sink.warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", sink.warnings)
	}
}
