// Package logging builds the zap logger shared by the CLI and the library
// packages. Diagnostics go to stderr so stdout stays free for results.
package logging

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls logger construction.
type Options struct {
	// Verbose enables debug-level output. Otherwise only warnings and
	// errors are logged.
	Verbose bool

	// JSON selects the JSON encoder instead of the console encoder.
	JSON bool

	// Writer receives log output. Nil means os.Stderr.
	Writer io.Writer
}

// New returns a logger configured by opts.
func New(opts Options) *zap.Logger {
	level := zapcore.WarnLevel
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var encoder zapcore.Encoder
	if opts.JSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	return zap.New(core).Named("ngmesh")
}

// timeEncoder formats time in RFC3339 format with milliseconds.
func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02T15:04:05.000Z07:00"))
}
