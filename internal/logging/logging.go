package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"system-toolbox/internal/config"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	}
	return "ERROR"
}

// ParseLevel maps a config level name to a Level. Unknown names are info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// Logger wraps the standard logger with a level gate and an optional
// rotating file.
type Logger struct {
	*log.Logger
	level Level
	file  io.Closer
}

// New writes to stdout and, when cfg.File is set, to a size-rotated file.
func New(cfg config.LoggingCfg) *Logger {
	return newLogger(os.Stdout, cfg)
}

// NewTo is New with console output sent to w instead of stdout.
func NewTo(w io.Writer, cfg config.LoggingCfg) *Logger {
	return newLogger(w, cfg)
}

func newLogger(console io.Writer, cfg config.LoggingCfg) *Logger {
	l := &Logger{level: ParseLevel(cfg.Level)}

	out := console
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			log.Printf("failed to ensure log directory for %s: %v", cfg.File, err)
		} else {
			rotating := &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   cfg.Compress,
			}
			l.file = rotating
			out = io.MultiWriter(console, rotating)
		}
	}

	l.Logger = log.New(out, "", log.LstdFlags|log.Lmicroseconds)
	return l
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: log.New(io.Discard, "", 0), level: LevelError + 1}
}

// NewWriter logs to w at the given level. Used by tests and the CLI.
func NewWriter(w io.Writer, level Level) *Logger {
	return &Logger{Logger: log.New(w, "", 0), level: level}
}

// Close releases the rotating file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.logWithLevel(LevelDebug, msg, args...)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.logWithLevel(LevelInfo, msg, args...)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.logWithLevel(LevelWarn, msg, args...)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.logWithLevel(LevelError, msg, args...)
}

// logWithLevel prints `[LEVEL] msg key=value ...`. A trailing key without
// a value is printed as is.
func (l *Logger) logWithLevel(level Level, msg string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level, msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	l.Logger.Println(b.String())
}
