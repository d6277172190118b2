// Package logger provides structured logging with context propagation for the OHLCV pipeline.
// It builds slog handlers from configuration, rotates file output through lumberjack,
// and carries request attributes (trace, symbol, interval, source) through context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// OperationKey is the context key for operation name
	OperationKey ContextKey = "operation"
	// SymbolKey is the context key for the instrument symbol
	SymbolKey ContextKey = "symbol"
	// IntervalKey is the context key for the sampling interval
	IntervalKey ContextKey = "interval"
	// SourceKey is the context key for the source adapter kind. Not "source",
	// which slog uses for caller information.
	SourceKey ContextKey = "source_kind"
)

var contextKeys = []ContextKey{TraceIDKey, OperationKey, SymbolKey, IntervalKey, SourceKey}

// LoggerManager manages structured logging for the application
type LoggerManager struct {
	baseLogger *slog.Logger
	config     config.LoggingConfig
	writer     io.WriteCloser

	mu             sync.Mutex
	componentCache map[string]*slog.Logger
}

// NewLoggerManager creates a new logger manager with the specified configuration
func NewLoggerManager(cfg config.LoggingConfig) (*LoggerManager, error) {
	writer, err := createWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create log writer: %w", err)
	}

	return newManager(cfg, writer), nil
}

// NewLoggerManagerWithWriter builds a manager that writes to w, ignoring the
// configured output. Used by tests and by callers that own the sink.
func NewLoggerManagerWithWriter(cfg config.LoggingConfig, w io.Writer) *LoggerManager {
	return newManager(cfg, nopWriteCloser{w})
}

func newManager(cfg config.LoggingConfig, writer io.WriteCloser) *LoggerManager {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.Level == "debug",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				if level, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToUpper(level.String()))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	if len(cfg.ContextFields) > 0 {
		attrs := make([]slog.Attr, 0, len(cfg.ContextFields))
		for key, value := range cfg.ContextFields {
			attrs = append(attrs, slog.String(key, value))
		}
		handler = handler.WithAttrs(attrs)
	}

	return &LoggerManager{
		baseLogger:     slog.New(handler),
		config:         cfg,
		writer:         writer,
		componentCache: make(map[string]*slog.Logger),
	}
}

// createWriter creates the appropriate writer based on configuration
func createWriter(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "stdout":
		return nopWriteCloser{os.Stdout}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file path is required when output is 'file'")
		}

		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		return &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}, nil
	default:
		// stdout carries command output, so logs default to stderr
		return nopWriteCloser{os.Stderr}, nil
	}
}

// nopWriteCloser wraps an io.Writer to provide a Close method
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// ParseLevel converts string log level to slog.Level
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

// GetLogger returns the base logger instance
func (lm *LoggerManager) GetLogger() *slog.Logger {
	return lm.baseLogger
}

// GetComponentLogger returns a logger tagged with the component name
func (lm *LoggerManager) GetComponentLogger(component string) *slog.Logger {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if cached, ok := lm.componentCache[component]; ok {
		return cached
	}
	l := lm.baseLogger.With(slog.String("component", component))
	lm.componentCache[component] = l
	return l
}

// WithContext creates a logger that includes context values
func (lm *LoggerManager) WithContext(ctx context.Context) *slog.Logger {
	return FromContext(ctx, lm.baseLogger)
}

// Close closes the logger and any associated resources
func (lm *LoggerManager) Close() error {
	if lm.writer != nil {
		return lm.writer.Close()
	}
	return nil
}

// FromContext decorates l with the request attributes stored in ctx
func FromContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	attrs := extractContextAttributes(ctx)
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

// extractContextAttributes extracts logging attributes from context
func extractContextAttributes(ctx context.Context) []interface{} {
	var attrs []interface{}
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithNewTrace adds a freshly generated trace ID to the context
func WithNewTrace(ctx context.Context) context.Context {
	return WithTraceID(ctx, uuid.NewString())
}

// WithOperation adds an operation name to the context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

// WithSymbol adds an instrument symbol to the context
func WithSymbol(ctx context.Context, symbol string) context.Context {
	return context.WithValue(ctx, SymbolKey, symbol)
}

// WithInterval adds a sampling interval to the context
func WithInterval(ctx context.Context, interval string) context.Context {
	return context.WithValue(ctx, IntervalKey, interval)
}

// WithSource adds a source adapter kind to the context
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, SourceKey, source)
}

// GetTraceID extracts the trace ID from context
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// GetSymbol extracts the symbol from context
func GetSymbol(ctx context.Context) string {
	symbol, _ := ctx.Value(SymbolKey).(string)
	return symbol
}

// TimedOperation logs an operation with automatic timing
func TimedOperation(ctx context.Context, logger *slog.Logger, operation string, fn func() error) error {
	start := time.Now()
	logger = FromContext(ctx, logger)

	err := fn()
	duration := time.Since(start)

	if err != nil {
		logger.Error("operation failed",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
			slog.Any("error", err))
		return err
	}

	logger.Debug("operation completed",
		slog.String("operation", operation),
		slog.Duration("duration", duration))

	return nil
}

// LogError logs an error with structured context
func LogError(logger *slog.Logger, err error, msg string, attrs ...interface{}) {
	allAttrs := append([]interface{}{slog.Any("error", err)}, attrs...)
	logger.Error(msg, allAttrs...)
}
