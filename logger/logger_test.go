package logger_test

import (
	"testing"

	"github.com/skulanet/timatalva/logger"
)

func TestSetLevel_GatesOutput(t *testing.T) {
	l := logger.New(logger.LevelError)
	// No assertions on the underlying writer here (zerolog writes to
	// stderr); this just exercises that level transitions don't panic and
	// that With returns an independently leveled child.
	l.Debug("should be suppressed")
	l.Info("should be suppressed")
	l.Error("should be emitted")

	l.SetLevel(logger.LevelDebug)
	l.Debug("now emitted")

	child := l.With("request_id", "abc123")
	child.Info("child inherits level")
}
