package rpclog

import (
	"go.uber.org/zap/zapcore"
)

// sinkCore adapts a Config.Sink callback into a zapcore.Core so it composes
// with the console core through zapcore.NewTee.
type sinkCore struct {
	zapcore.LevelEnabler
	fn     func(Record)
	fields []zapcore.Field
}

func newSinkCore(min zapcore.Level, fn func(Record)) zapcore.Core {
	return &sinkCore{LevelEnabler: min, fn: fn}
}

func (c *sinkCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &sinkCore{LevelEnabler: c.LevelEnabler, fn: c.fn, fields: merged}
}

func (c *sinkCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *sinkCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range append(append([]zapcore.Field{}, c.fields...), fields...) {
		f.AddTo(enc)
	}

	c.fn(Record{
		Level:   fromZapLevel(ent.Level),
		Message: ent.Message,
		Fields:  enc.Fields,
	})

	return nil
}

func (c *sinkCore) Sync() error { return nil }

func fromZapLevel(l zapcore.Level) Level {
	switch {
	case l < zapcore.InfoLevel:
		return Debug
	case l < zapcore.WarnLevel:
		return Info
	case l < zapcore.ErrorLevel:
		return Warn
	case l < zapcore.DPanicLevel:
		return Error
	default:
		return Critical
	}
}

// consoleWriter adapts os.Stdout lazily so importing rpclog never opens a
// file descriptor until console output is actually requested.
type consoleWriter struct{}

func (consoleWriter) Write(p []byte) (int, error) {
	return stdout.Write(p)
}
