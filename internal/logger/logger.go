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
	"unicode/utf8"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/config"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var slogLevels = map[LogLevel]slog.Level{
	DEBUG: slog.LevelDebug,
	INFO:  slog.LevelInfo,
	WARN:  slog.LevelWarn,
	ERROR: slog.LevelError,
}

// Name is attached to every record, the way the server identifies itself.
const Name = "mcp-clickhouse"

type Logger struct {
	slogger  *slog.Logger
	logLevel LogLevel
	logFile  *os.File
}

func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func LogLevelString(level LogLevel) string {
	if name, exists := levelNames[level]; exists {
		return name
	}
	return "INFO"
}

func ConfigFromLoggingConfig(logCfg config.LoggingConfig) Config {
	return Config{
		Level:      ParseLogLevel(logCfg.Level),
		OutputFile: logCfg.OutputFile,
		MaxSize:    logCfg.MaxSizeMB,
		Console:    logCfg.Console,
	}
}

type Config struct {
	Level      LogLevel
	OutputFile string
	MaxSize    int64
	Console    bool
	// Writer replaces stderr as the console destination.
	Writer io.Writer
}

var (
	globalLogger *Logger
	mu           sync.RWMutex
)

func Initialize(cfg Config) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	mu.Lock()
	prev := globalLogger
	globalLogger = logger
	mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return nil
}

func NewLogger(cfg Config) (*Logger, error) {
	logger := &Logger{
		logLevel: cfg.Level,
	}

	var writers []io.Writer

	// stdout carries the stdio transport, so the console is stderr.
	if cfg.Console {
		if cfg.Writer != nil {
			writers = append(writers, cfg.Writer)
		} else {
			writers = append(writers, os.Stderr)
		}
	}

	if cfg.OutputFile != "" {
		dir := filepath.Dir(cfg.OutputFile)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}

		if cfg.MaxSize > 0 {
			if err := rotateLogIfNeeded(cfg.OutputFile, cfg.MaxSize*1024*1024); err != nil {
				return nil, fmt.Errorf("failed to rotate log: %w", err)
			}
		}

		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.logFile = file
		writers = append(writers, file)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{
		Level: slogLevels[cfg.Level],
	}
	handler := slog.NewTextHandler(writer, opts)
	logger.slogger = slog.New(handler).With("logger", Name)

	return logger, nil
}

func rotateLogIfNeeded(filename string, maxSize int64) error {
	info, err := os.Stat(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if info.Size() >= maxSize {
		timestamp := time.Now().Format("20060102-150405")
		backupName := fmt.Sprintf("%s.%s", filename, timestamp)
		if err := os.Rename(filename, backupName); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	return nil
}

func (l *Logger) Close() error {
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

// Slog exposes the underlying structured logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}

func (l *Logger) shouldLog(level LogLevel) bool {
	return level >= l.logLevel
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if !l.shouldLog(level) {
		return
	}
	l.slogger.Log(context.Background(), slogLevels[level], msg, args...)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(DEBUG, msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(INFO, msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(WARN, msg, args...)
}

func (l *Logger) Error(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.log(ERROR, msg, args...)
}

func current() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

func Debug(msg string, args ...any) {
	if l := current(); l != nil {
		l.Debug(msg, args...)
	}
}

func Info(msg string, args ...any) {
	if l := current(); l != nil {
		l.Info(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if l := current(); l != nil {
		l.Warn(msg, args...)
	}
}

func Error(msg string, err error, args ...any) {
	if l := current(); l != nil {
		l.Error(msg, err, args...)
	}
}

func LogToolCall(toolName, callID string, elapsed time.Duration, err error) {
	if err != nil {
		Error(fmt.Sprintf("Tool call failed: %s", toolName), err, "call_id", callID, "elapsed", elapsed)
	} else {
		Info(fmt.Sprintf("Tool call completed: %s", toolName), "call_id", callID, "elapsed", elapsed)
	}
}

const maxLoggedQueryRunes = 100

// TruncateQuery shortens query text for log lines.
func TruncateQuery(query string) string {
	sanitized := strings.Join(strings.Fields(query), " ")
	if utf8.RuneCountInString(sanitized) > maxLoggedQueryRunes {
		sanitized = string([]rune(sanitized)[:maxLoggedQueryRunes]) + "..."
	}
	return sanitized
}

func LogDatabaseOperation(operation, query string, rowsAffected int64, err error) {
	sanitizedQuery := TruncateQuery(query)

	if err != nil {
		Error(fmt.Sprintf("%s operation failed: %s", operation, sanitizedQuery), err)
	} else {
		if rowsAffected > 0 {
			Info(fmt.Sprintf("%s operation completed: %s (%d rows)", operation, sanitizedQuery, rowsAffected))
		} else {
			Info(fmt.Sprintf("%s operation completed: %s", operation, sanitizedQuery))
		}
	}
}

func LogConnectionEvent(event, connectionName, dbType string, err error) {
	if err != nil {
		Error(fmt.Sprintf("Connection event failed: %s to %s (%s)", event, connectionName, dbType), err)
	} else {
		Info(fmt.Sprintf("Connection event completed: %s to %s (%s)", event, connectionName, dbType))
	}
}

func GetGlobalLogger() *Logger {
	return current()
}

func Shutdown() error {
	mu.Lock()
	l := globalLogger
	globalLogger = nil
	mu.Unlock()
	if l != nil {
		return l.Close()
	}
	return nil
}
