// Package rpclog provides the explicit, constructor-injected logger used
// across streamrpc. There is no package-level logger: every endpoint
// (ClientConn, Server, Dispatcher) is handed a *Logger built from a Config.
package rpclog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the minimum-severity knob from the design notes.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	Critical
	Off
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Info:
		return zapcore.InfoLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	case Critical:
		return zapcore.DPanicLevel
	default:
		return zapcore.FatalLevel + 1 // above Fatal: nothing is emitted
	}
}

// Record is the shape delivered to a Sink, decoupled from zap so callers
// don't need to import it just to observe log output.
type Record struct {
	Level   Level
	Message string
	Fields  map[string]any
}

// Config configures one Logger instance. There is no global registry:
// every endpoint constructs its own Logger from a Config.
type Config struct {
	MinLevel       Level
	Colored        bool
	ConsoleEnabled bool
	Sink           func(Record)
}

// DefaultConfig disables console output and has no sink, matching the
// "no process-wide state inside the core" rule: a caller must opt in.
func DefaultConfig() Config {
	return Config{MinLevel: Info, ConsoleEnabled: false}
}

// Logger wraps a *zap.Logger built from a Config.
type Logger struct {
	z *zap.Logger
}

// New builds a Logger from cfg. A nil Sink and ConsoleEnabled=false yields
// a no-op logger (zap.NewNop wrapped), which is the default for tests.
func New(cfg Config) *Logger {
	var cores []zapcore.Core

	if cfg.ConsoleEnabled {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		if cfg.Colored {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		enc := zapcore.NewConsoleEncoder(encCfg)
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(consoleWriter{})), cfg.MinLevel.zapLevel()))
	}

	if cfg.Sink != nil {
		cores = append(cores, newSinkCore(cfg.MinLevel.zapLevel(), cfg.Sink))
	}

	if len(cores) == 0 {
		return &Logger{z: zap.NewNop()}
	}

	return &Logger{z: zap.New(zapcore.NewTee(cores...))}
}

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field)    { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)     { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)     { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field)    { l.z.Error(msg, fields...) }
func (l *Logger) Critical(msg string, fields ...zap.Field) { l.z.DPanic(msg, fields...) }

// Nop returns a Logger that discards everything, for components that were
// not handed an explicit Logger (e.g. in unit tests).
func Nop() *Logger { return &Logger{z: zap.NewNop()} }
