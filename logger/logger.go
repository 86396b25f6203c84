// Package logger wraps a process-wide zap logger.
package logger

import (
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the global logger.
type Options struct {
	Level string // debug, info, warn, error
	File  string // rotate into this file in addition to stdout when set
}

var (
	mu  sync.RWMutex
	lg  = zap.NewNop()
	lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// Init replaces the global logger. Safe to call more than once.
func Init(opts Options) error {
	if err := lvl.UnmarshalText([]byte(defaultString(opts.Level, "info"))); err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), lvl),
	}
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), lvl))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))

	mu.Lock()
	lg = l
	mu.Unlock()
	return nil
}

// Use installs an already-built logger, mainly for tests.
func Use(l *zap.Logger) {
	mu.Lock()
	lg = l
	mu.Unlock()
}

// L returns the global logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return lg
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// Sync flushes buffered entries.
func Sync() {
	_ = L().Sync()
}

// Sampler lets every Nth event through. It is not safe for concurrent use;
// each session event loop owns its own.
type Sampler struct {
	every uint64
	n     uint64
}

// NewSampler returns a sampler that allows one event in every n.
func NewSampler(every int) *Sampler {
	if every < 1 {
		every = 1
	}
	return &Sampler{every: uint64(every)}
}

// Allow counts one event and reports whether it should be logged.
// The first event is always allowed.
func (s *Sampler) Allow() bool {
	s.n++
	return (s.n-1)%s.every == 0
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
