package common

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewSlogHandler(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := slog.New(NewSlogHandler(buf, 1, true))
	logger.Info("hidden")
	logger.Warn("shown", "tile", "3/2/3")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Info logged at verbosity 1: %s", out)
	}
	if !strings.Contains(out, `"tile":"3/2/3"`) {
		t.Errorf("Expected JSON attr, got %s", out)
	}
	if !NewSlogHandler(buf, 3, false).Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug enabled at verbosity 3")
	}
}
