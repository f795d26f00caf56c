package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/petrijr/relay/pkg/api"
)

// runLog wraps a RunLogHandle so the runner can record without caring
// whether the durable sink works. Logging is observational: a failed
// open or append falls back to slog and is then swallowed, never
// aborting the run it is describing.
type runLog struct {
	handle   api.RunLogHandle // nil when the sink failed to open
	workflow string
	runID    string
	step     string
	fallback *slog.Logger
}

func (r *runnerImpl) openRunLog(rc *api.RunContext) *runLog {
	l := &runLog{
		workflow: rc.Workflow,
		runID:    rc.RunID,
		fallback: r.logger,
	}

	handle, err := r.stores.RunLogs.Open(rc.Workflow, rc.RunID)
	if err != nil {
		l.fallback.Warn("run log sink unavailable",
			slog.String("workflow", rc.Workflow),
			slog.String("run_id", rc.RunID),
			slog.Any("error", err),
		)
		return l
	}
	l.handle = handle
	return l
}

func (l *runLog) record(level api.Level, message string, data map[string]any) {
	rec := api.LogRecord{
		Timestamp: time.Now(),
		Workflow:  l.workflow,
		RunID:     l.runID,
		Step:      l.step,
		Level:     level,
		Message:   message,
		Data:      data,
	}

	if l.handle != nil {
		err := l.handle.Append(rec)
		if err == nil {
			return
		}
		l.fallback.Warn("run log append failed",
			slog.String("workflow", l.workflow),
			slog.String("run_id", l.runID),
			slog.Any("error", err),
		)
	}

	// Best-effort secondary emission.
	l.fallback.Log(context.Background(), slogLevel(level), message,
		slog.String("workflow", l.workflow),
		slog.String("run_id", l.runID),
		slog.String("step", l.step),
	)
}

func (l *runLog) close() {
	if l.handle == nil {
		return
	}
	if err := l.handle.Close(); err != nil {
		l.fallback.Warn("run log close failed",
			slog.String("workflow", l.workflow),
			slog.String("run_id", l.runID),
			slog.Any("error", err),
		)
	}
}

func slogLevel(level api.Level) slog.Level {
	switch level {
	case api.LevelDebug:
		return slog.LevelDebug
	case api.LevelWarning:
		return slog.LevelWarn
	case api.LevelError, api.LevelCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
