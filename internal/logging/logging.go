package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"starstep/internal/config"
)

// New returns a stdout logger with the provided level string (info, debug,
// warn, error). format may be "json" or "text".
func New(level string, format string) *slog.Logger {
	return slog.New(newHandler(os.Stdout, parseLevel(level), format))
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return &TraditionalHandler{logger: log.New(w, "", log.LstdFlags), level: level}
}

// Setup configures the default logger writing to stdout and, when enabled,
// a dated file under the log directory with a starstep-current.log link.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	level := parseLevel(cfg.Logging.Level)

	writers := []io.Writer{os.Stdout}
	if cfg.Logging.FileOutput {
		file, err := openLogFile(cfg.Logging.LogDir, time.Now())
		if err != nil {
			return nil, err
		}
		writers = append(writers, file)
	}

	logger := slog.New(newHandler(io.MultiWriter(writers...), level, cfg.Logging.Format))
	slog.SetDefault(logger)

	logger.Info("starstep logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)
	return logger, nil
}

func openLogFile(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	name := fmt.Sprintf("starstep-%s.log", now.Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	current := filepath.Join(dir, "starstep-current.log")
	os.Remove(current)
	_ = os.Symlink(name, current) // not critical
	return file, nil
}

// TraditionalHandler writes "[LEVEL] message [k=v ...]" lines.
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
	attrs  []slog.Attr
	group  string
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	parts := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		parts = append(parts, fmt.Sprintf("%s=%v", a.Key, a.Value))
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, h.format(a))
		return true
	})

	msg := r.Message
	if len(parts) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(parts, " "))
	}
	h.logger.Printf("[%s] %s", strings.ToUpper(r.Level.String()), msg)
	return nil
}

func (h *TraditionalHandler) format(a slog.Attr) string {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	return fmt.Sprintf("%s=%v", key, a.Value)
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	next := *h
	if next.group != "" {
		name = next.group + "." + name
	}
	next.group = name
	return &next
}

func parseLevel(level string) slog.Level {
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

// LogOperationStart logs the beginning of a queued operation
func LogOperationStart(logger *slog.Logger, kind, id, name string, details map[string]any) {
	logger.Info("operation started",
		"kind", kind,
		"id", id,
		"name", name,
		"details", details,
	)
}

// LogOperationComplete logs an operation that reached DONE
func LogOperationComplete(logger *slog.Logger, kind, id, name string, duration time.Duration, message string, meta map[string]any) {
	logger.Info("operation completed",
		"kind", kind,
		"id", id,
		"name", name,
		"duration_ms", duration.Milliseconds(),
		"duration_human", duration.String(),
		"message", message,
		"result", meta,
	)
}

// LogOperationError logs an operation that reached FAILED
func LogOperationError(logger *slog.Logger, kind, id, name string, duration time.Duration, err error, context map[string]any) {
	logger.Error("operation failed",
		"kind", kind,
		"id", id,
		"name", name,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
		"context", context,
	)
}

// LogPhaseScheduled logs the outcome of scheduling one phase
func LogPhaseScheduled(logger *slog.Logger, phase string, groups, operations int, requiredBytes int64) {
	logger.Info("phase scheduled",
		"phase", phase,
		"groups", groups,
		"operations", operations,
		"required_bytes", requiredBytes,
	)
}

// LogFrameResult logs the processing result of a single frame
func LogFrameResult(logger *slog.Logger, operation, source, output string, err error) {
	if err != nil {
		logger.Warn("frame failed",
			"operation", operation,
			"source", source,
			"error", err,
		)
		return
	}
	logger.Debug("frame processed",
		"operation", operation,
		"source", source,
		"output", output,
	)
}
