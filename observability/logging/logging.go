package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the rotating file sink used by SetupWithFile.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Level      slog.Level
}

// Setup configures the standard library logger to emit structured JSON on
// stdout and returns the underlying slog.Logger. All log lines include the
// service name and environment when provided.
func Setup(service, env string) *slog.Logger {
	return setup(os.Stdout, slog.LevelInfo, service, env)
}

// SetupWithFile behaves like Setup but also writes every line to a rotating
// file. An empty path falls back to Setup. The returned closer flushes the
// file sink.
func SetupWithFile(service, env string, opts FileOptions) (*slog.Logger, io.Closer) {
	if strings.TrimSpace(opts.Path) == "" {
		return setup(os.Stdout, opts.Level, service, env), io.NopCloser(nil)
	}
	sink := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return setup(io.MultiWriter(os.Stdout, sink), opts.Level, service, env), sink
}

// New builds a logger writing to w without touching the process defaults.
// Tests use it to capture output.
func New(w io.Writer, service, env string) *slog.Logger {
	handler := newHandler(w, slog.LevelDebug)
	return slog.New(handler).With(argsFor(baseAttrs(service, env))...)
}

func newHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return redactIdentity(attr)
		},
	})
}

func baseAttrs(service, env string) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	return attrs
}

func argsFor(attrs []slog.Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

func setup(w io.Writer, level slog.Level, service, env string) *slog.Logger {
	handler := newHandler(w, level)
	attrs := baseAttrs(service, env)
	base := slog.New(handler).With(argsFor(attrs)...)
	slog.SetDefault(base)

	// Bridge the standard library logger so dependencies logging through it
	// end up in the same stream.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
