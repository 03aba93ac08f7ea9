package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the default logger on stderr: WARN and above, or everything
// with debug set.
func Init(debug bool) {
	slog.SetDefault(New(os.Stderr, debug))
}

// New returns a text logger writing to w.
func New(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}
