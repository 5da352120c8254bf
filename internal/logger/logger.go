package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Attribute keys whose values are never written out in full.
var sensitiveKeys = map[string]bool{
	"key":         true,
	"license_key": true,
	"password":    true,
	"session_id":  true,
	"token":       true,
}

// New builds the process logger. format is "json" or anything else for
// tint's human readable output.
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       lvl,
			ReplaceAttr: redact,
		})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.DateTime,
			NoColor:    !isTerminal(w),
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == "error" && a.Value.Kind() == slog.KindAny {
					if err, ok := a.Value.Any().(error); ok {
						return tint.Err(err)
					}
				}
				return redact(groups, a)
			},
		})
	}

	return slog.New(handler)
}

// Init builds a logger writing to stdout and installs it as the slog default.
func Init(level, format string) *slog.Logger {
	l := New(os.Stdout, level, format)
	slog.SetDefault(l)
	return l
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Mask keeps the first four characters of a secret.
func Mask(s string) string {
	if len(s) <= 4 {
		return "[REDACTED]"
	}
	return s[:4] + "..."
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if !sensitiveKeys[strings.ToLower(a.Key)] {
		return a
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, Mask(a.Value.String()))
	}
	return slog.String(a.Key, "[REDACTED]")
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}
