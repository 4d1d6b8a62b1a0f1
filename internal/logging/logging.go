package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Setup builds the process logger: human-readable output on stderr and JSON
// lines appended to logPath. When logPath cannot be opened the file
// "homeprov.log" in the working directory is tried; failing that, only the
// console is used. The returned closer must be called on exit.
func Setup(level zerolog.Level, logPath string, console io.Writer) (zerolog.Logger, io.Closer) {
	zerolog.TimeFieldFormat = time.RFC3339
	if console == nil {
		console = os.Stderr
	}
	cw := zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05", NoColor: !isTerminal(console)}

	var writers []io.Writer
	writers = append(writers, cw)
	var closer io.Closer = nopCloser{}
	if f := openLog(logPath); f != nil {
		writers = append(writers, f)
		closer = f
	}
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("run", uuid.NewString()).
		Logger()
	return logger, closer
}

func openLog(path string) *os.File {
	if path == "" {
		return nil
	}
	for _, p := range []string{path, filepath.Base(path)} {
		_ = os.MkdirAll(filepath.Dir(p), 0o755)
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			return f
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
