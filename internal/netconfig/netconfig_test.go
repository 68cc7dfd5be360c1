package netconfig

import "testing"

func TestRunReportsFailureForMissingCommand(t *testing.T) {
	if run("peerbridge-definitely-not-a-real-command") {
		t.Fatal("expected run() to report failure for a nonexistent command")
	}
}

func TestRunReportsSuccessForTrivialCommand(t *testing.T) {
	if !run("true") {
		t.Fatal("expected run() to report success for the `true` command")
	}
}
