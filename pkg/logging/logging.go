package logging

import (
	"context"
	"maps"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"

	defaultLevel = zapcore.InfoLevel
)

type Option func(*zap.Config)

func WithLogLevel(level string) Option {
	return func(c *zap.Config) {
		ll, err := zapcore.ParseLevel(level)
		if err != nil {
			ll = defaultLevel
		}
		c.Level.SetLevel(ll)
	}
}

func WithLogFormat(format string) Option {
	return func(c *zap.Config) {
		switch format {
		case LogFormatConsole:
			c.Encoding = LogFormatConsole
			c.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		default:
			c.Encoding = LogFormatJSON
		}
	}
}

// WithOutputPaths sets where logs are written. Besides stdout and stderr any
// path zap understands is accepted, including plain file paths.
func WithOutputPaths(paths []string) Option {
	return func(c *zap.Config) {
		if len(paths) == 0 {
			return
		}
		c.OutputPaths = append([]string(nil), paths...)
	}
}

// WithInitialFields adds fields to every entry, e.g. the tracker version.
func WithInitialFields(fields map[string]interface{}) Option {
	return func(c *zap.Config) {
		if c.InitialFields == nil {
			c.InitialFields = make(map[string]interface{}, len(fields))
		}
		maps.Copy(c.InitialFields, fields)
	}
}

// Init builds the process logger, installs it as the zap global and returns
// ctx carrying it. Sampling is off so that every presence change is logged.
func Init(ctx context.Context, opts ...Option) (context.Context, error) {
	zc := zap.NewProductionConfig()
	zc.Sampling = nil
	zc.DisableStacktrace = true
	zc.Level = zap.NewAtomicLevelAt(defaultLevel)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	for _, opt := range opts {
		opt(&zc)
	}

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(l)

	l.Debug("logger initialized",
		zap.String("log_level", zc.Level.String()),
		zap.String("log_format", zc.Encoding),
		zap.Strings("output_paths", zc.OutputPaths),
	)

	return ctxzap.ToContext(ctx, l), nil
}
