package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "log", "homeprov.log")
	logger, closer := Setup(zerolog.InfoLevel, path, &console)
	logger.Info().Str("disk", "/dev/sdb").Msg("selected disk")
	logger.Debug().Msg("hidden")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(console.String(), "selected disk") {
		t.Fatalf("console missing message: %q", console.String())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 1 {
		t.Fatalf("want 1 line at info level, got %d: %s", len(lines), b)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("json line: %v", err)
	}
	if rec["disk"] != "/dev/sdb" || rec["run"] == "" || rec["run"] == nil {
		t.Fatalf("fields: %v", rec)
	}
}

func TestSetupWithoutFile(t *testing.T) {
	var console bytes.Buffer
	logger, closer := Setup(zerolog.WarnLevel, "", &console)
	logger.Warn().Msg("console only")
	_ = closer.Close()
	if !strings.Contains(console.String(), "console only") {
		t.Fatalf("console: %q", console.String())
	}
}
