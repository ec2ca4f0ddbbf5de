// Package logging builds the *zap.Logger the server logs through from the
// reactor's own openLog/logLevel/logQueueSize options. Call sites still
// use zap's logger and field types directly.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the original logLevel option (0 debug .. 3 error).
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zapLevel() zapcore.Level {
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

// Options mirrors the original's openLog/logLevel/logQueueSize triple.
type Options struct {
	Enabled      bool
	Level        Level
	LogQueueSize int // size of the async write buffer; 0 disables async buffering
}

// New builds a *zap.Logger per opts. When Enabled is false it returns a
// no-op logger, so callers never need to branch on whether logging is on.
func New(opts Options) *zap.Logger {
	if !opts.Enabled {
		return zap.NewNop()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var sink zapcore.WriteSyncer = zapcore.Lock(zapcore.AddSync(newStdoutSyncer()))
	if opts.LogQueueSize > 0 {
		sink = &bufferedSyncer{ch: make(chan []byte, opts.LogQueueSize), done: make(chan struct{})}
		go sink.(*bufferedSyncer).run(zapcore.AddSync(newStdoutSyncer()))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, opts.Level.zapLevel())
	return zap.New(core, zap.AddCaller())
}

// bufferedSyncer is the Go-idiomatic analogue of the original's
// logQueueSize-bounded async log writer: a bounded channel absorbs bursts
// from the reactor and worker goroutines without blocking them on I/O, and
// a single goroutine drains it to the real sink in order.
type bufferedSyncer struct {
	ch   chan []byte
	done chan struct{}
}

func (b *bufferedSyncer) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	select {
	case b.ch <- cp:
	default:
		// queue full: drop rather than block the caller, matching the
		// original's willingness to lose log lines under sustained overload.
	}
	return len(p), nil
}

func (b *bufferedSyncer) Sync() error { return nil }

func (b *bufferedSyncer) run(out zapcore.WriteSyncer) {
	for p := range b.ch {
		out.Write(p)
	}
	close(b.done)
}
