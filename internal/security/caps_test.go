package security

import (
	"io"
	"log/slog"
	"testing"

	"kernel.org/pub/linux/libs/security/libcap/cap"
)

func TestLogAmbientCapabilities(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Must not panic regardless of the capability set of the test process.
	LogAmbientCapabilities(logger)
}

func TestHasCapability(t *testing.T) {
	// 9999 is past the last real capability; GetFlag should fail closed.
	if HasCapability(cap.Value(9999)) {
		t.Fatal("expected unknown capability to report false")
	}
}
