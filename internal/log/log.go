package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options controls where log lines go. Console output on stderr is always
// enabled; Dir additionally enables a rotated JSON file sink.
type Options struct {
	Level Level
	Dir   string
	// FileName defaults to postcal.log.
	FileName string
}

var (
	logger     atomic.Pointer[zap.SugaredLogger]
	loggerOnce sync.Once
	atom       = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// initLogger installs the default stderr logger on first use.
func initLogger() {
	loggerOnce.Do(func() {
		if logger.Load() == nil {
			logger.Store(zap.New(consoleCore(os.Stderr)).Sugar())
		}
	})
}

// Init replaces the global logger according to opts.
func Init(opts Options) error {
	if opts.Level != "" {
		SetLevel(opts.Level)
	}

	cores := []zapcore.Core{consoleCore(os.Stderr)}
	if opts.Dir != "" {
		fc, err := fileCore(opts.Dir, opts.FileName)
		if err != nil {
			return err
		}
		cores = append(cores, fc)
	}

	loggerOnce.Do(func() {})
	prev := logger.Swap(zap.New(zapcore.NewTee(cores...)).Sugar())
	if prev != nil {
		_ = prev.Sync()
	}
	return nil
}

// SetOutput routes all log lines to w as plain console text. Mostly useful
// in tests.
func SetOutput(w io.Writer) {
	loggerOnce.Do(func() {})
	logger.Store(zap.New(consoleCore(zapcore.AddSync(w))).Sugar())
}

// Sync flushes any buffered file output.
func Sync() error {
	if l := logger.Load(); l != nil {
		return l.Sync()
	}
	return nil
}

func SetLevel(l Level) {
	atom.SetLevel(toZap(l))
}

// ParseLevel accepts case-insensitive level names ("debug", "info", ...).
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func Debug(msg string, kv ...any) {
	current().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	current().Warnw(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{zap.Error(err)}, kv...)
	current().Errorw(msg, extended...)
}

func current() *zap.SugaredLogger {
	initLogger()
	return logger.Load()
}

func consoleCore(w zapcore.WriteSyncer) zapcore.Core {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(w), atom)
}

func fileCore(dir, name string) (zapcore.Core, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if name == "" {
		name = "postcal.log"
	}
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	return zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, atom), nil
}

func toZap(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
