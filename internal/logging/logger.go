package logging

import (
	"log/slog"
	"os"
	"sync"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

var (
	once   sync.Once
	global *slog.Logger
)

// Options configures the process-wide logger (spec §4.B, §6).
type Options struct {
	Verbosity         schema.LogVerbosity
	RemoteLogEnabled  bool
	RemoteLogGroup    string
	RemoteLogEndpoint string
}

func levelFor(v schema.LogVerbosity) slog.Level {
	switch v {
	case schema.LogDebug:
		return slog.LevelDebug
	case schema.LogWarn:
		return slog.LevelWarn
	case schema.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Configure sets up the process-wide logger exactly once; subsequent calls
// are no-ops. Safe to call from multiple goroutines.
func Configure(opts Options) {
	once.Do(func() {
		global = build(opts)
	})
}

func build(opts Options) *slog.Logger {
	level := levelFor(opts.Verbosity)
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})

	var handler slog.Handler = base
	if opts.RemoteLogEnabled {
		handler = NewRemoteHandler(handler, RemoteSinkConfig{
			Endpoint: opts.RemoteLogEndpoint,
			Group:    opts.RemoteLogGroup,
			MinLevel: slog.LevelWarn,
		})
	}
	handler = NewCorrelationHandler(handler)

	return slog.New(handler)
}

// L returns the process-wide logger, configuring it with defaults if
// Configure was never called. Safe for concurrent use by all components.
func L() *slog.Logger {
	once.Do(func() {
		global = build(Options{Verbosity: schema.LogInfo})
	})
	return global
}
