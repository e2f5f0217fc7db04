package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/conductorone/baton-presence/pkg/client"
	"github.com/conductorone/baton-presence/pkg/healthcheck"
	"github.com/conductorone/baton-presence/pkg/logging"
	"github.com/conductorone/baton-presence/pkg/metrics"
	"github.com/conductorone/baton-presence/pkg/sink/kafkasink"
	"github.com/conductorone/baton-presence/pkg/sink/redissink"
	"github.com/conductorone/baton-presence/pkg/tracker"
	"github.com/conductorone/baton-presence/pkg/types/presence"
	"github.com/conductorone/baton-presence/pkg/uotel"
)

// ClientFactory builds the presence client. Tests swap it for one pointed at a
// local server.
type ClientFactory func(ctx context.Context, cfg client.Config) (*client.Client, error)

func initLogger(ctx context.Context, name string, cfg *TrackConfig) (context.Context, error) {
	return logging.Init(ctx,
		logging.WithLogFormat(cfg.LogFormat),
		logging.WithLogLevel(cfg.LogLevel),
		logging.WithOutputPaths(cfg.LogOutput),
		logging.WithInitialFields(map[string]interface{}{"app": name}),
	)
}

func initOtel(ctx context.Context, name string, version string, cfg *TrackConfig) (context.Context, func(context.Context) error, error) {
	opts := []uotel.Option{uotel.WithServiceName(name, version)}
	if cfg.OtelEndpoint != "" {
		if cfg.OtelTLSInsecure {
			opts = append(opts, uotel.WithInsecureOtelEndpoint(cfg.OtelEndpoint))
		} else {
			opts = append(opts, uotel.WithOtelEndpoint(cfg.OtelEndpoint, cfg.OtelTLSCertPath))
		}
	}
	if cfg.OtelTracingDisabled {
		opts = append(opts, uotel.WithTracingDisabled())
	}
	if cfg.OtelLoggingDisabled {
		opts = append(opts, uotel.WithLoggingDisabled())
	}
	return uotel.InitOtel(ctx, opts...)
}

func newClient(ctx context.Context, cfg *TrackConfig, factory ClientFactory) (*client.Client, error) {
	l := ctxzap.Extract(ctx)

	c, err := factory(ctx, cfg.clientConfig())
	if err != nil {
		return nil, err
	}

	if cfg.SkipValidate {
		return c, nil
	}

	id, err := c.Validate(ctx)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("presence: credential check failed: %w", err)
	}
	l.Info("authenticated against presence api", zap.Stringer("user_id", id))

	return c, nil
}

func newMetricsHandler(ctx context.Context, name string, cfg *TrackConfig, w io.Writer) (metrics.Handler, func(context.Context) error, error) {
	if !cfg.MetricsStdout {
		return metrics.NewNoOpHandler(ctx), func(context.Context) error { return nil }, nil
	}

	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, nil, err
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.MetricsInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.MetricsInterval))
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)))

	return metrics.NewOtelHandler(ctx, provider, name), provider.Shutdown, nil
}

// attachSinks registers the configured event sinks and returns a function
// that releases them.
func attachSinks(ctx context.Context, cfg *TrackConfig, t *tracker.Tracker) (func() error, error) {
	l := ctxzap.Extract(ctx)
	var closers []func() error

	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("presence: redis unreachable: %w", err)
		}
		s := redissink.New(rdb, redissink.WithChannel(cfg.RedisChannel), redissink.WithStatusTTL(cfg.RedisTTL))
		t.OnChange(s.Observer(ctx))
		closers = append(closers, rdb.Close)
		l.Info("publishing presence changes to redis", zap.String("addr", cfg.RedisAddr))
	}

	if len(cfg.KafkaBrokers) > 0 {
		s := kafkasink.New(kafkasink.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		t.OnChange(s.Observer(ctx))
		closers = append(closers, s.Close)
		l.Info("writing presence changes to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	return func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}, nil
}

// printChanges writes each change event as one JSON line.
func printChanges(ctx context.Context, w io.Writer) tracker.ChangeHandler {
	l := ctxzap.Extract(ctx)
	enc := json.NewEncoder(w)
	return func(ev presence.ChangeEvent) {
		if err := enc.Encode(ev); err != nil {
			l.Error("failed to print presence change", zap.Error(err))
		}
	}
}

func logErrors(ctx context.Context) tracker.ErrorHandler {
	l := ctxzap.Extract(ctx)
	return func(ev presence.ErrorEvent) {
		fields := []zap.Field{
			zap.Error(ev.Err),
			zap.String("session_id", ev.SessionID),
			zap.Int("attempt", ev.Attempt),
		}
		if ev.Fatal {
			l.Error("presence poll failed, tracking stopped", fields...)
			return
		}
		l.Warn("presence poll failed, retrying", fields...)
	}
}

func MakeTrackCommand(ctx context.Context, name string, v *viper.Viper, factory ClientFactory) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(v)
		if err != nil {
			return err
		}

		runCtx, err := initLogger(ctx, name, cfg)
		if err != nil {
			return err
		}

		runCtx, shutdownOtel, err := initOtel(runCtx, name, cmd.Root().Version, cfg)
		if err != nil {
			return err
		}
		l := ctxzap.Extract(runCtx)
		defer func() {
			if err := shutdownOtel(context.WithoutCancel(runCtx)); err != nil {
				l.Error("error shutting down otel", zap.Error(err))
			}
		}()

		c, err := newClient(runCtx, cfg, factory)
		if err != nil {
			return err
		}

		mh, shutdownMetrics, err := newMetricsHandler(runCtx, name, cfg, cmd.ErrOrStderr())
		if err != nil {
			_ = c.Close()
			return err
		}
		defer func() {
			if err := shutdownMetrics(context.WithoutCancel(runCtx)); err != nil {
				l.Error("error shutting down metrics", zap.Error(err))
			}
		}()

		t := tracker.New(c,
			tracker.WithMinInterval(cfg.MinInterval),
			tracker.WithMetrics(mh),
			tracker.WithEnrichConcurrency(cfg.EnrichLimit),
		)
		defer func() {
			if err := t.Dispose(); err != nil {
				l.Error("error closing presence client", zap.Error(err))
			}
		}()

		closeSinks, err := attachSinks(runCtx, cfg, t)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeSinks(); err != nil {
				l.Error("error closing event sinks", zap.Error(err))
			}
		}()

		t.OnChange(printChanges(runCtx, cmd.OutOrStdout()))
		t.OnError(logErrors(runCtx))

		var fatal error
		t.OnError(func(ev presence.ErrorEvent) {
			if ev.Fatal {
				fatal = ev
			}
		})

		if err := t.Start(runCtx, cfg.sessionConfig()); err != nil {
			return err
		}

		if cfg.HealthPort > 0 {
			hs := healthcheck.NewServer(healthcheck.Config{
				Port:        cfg.HealthPort,
				BindAddress: cfg.HealthBindAddress,
			}, t)
			if err := hs.Start(runCtx); err != nil {
				t.Stop()
				return err
			}
			defer func() {
				if err := hs.Stop(context.WithoutCancel(runCtx)); err != nil {
					l.Error("error stopping health check server", zap.Error(err))
				}
			}()
		}

		t.Wait()

		if fatal != nil {
			return fmt.Errorf("presence tracking stopped: %w", fatal)
		}
		return nil
	}
}

func MakeFetchCommand(ctx context.Context, name string, v *viper.Viper, factory ClientFactory) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(v)
		if err != nil {
			return err
		}

		runCtx, err := initLogger(ctx, name, cfg)
		if err != nil {
			return err
		}

		if len(cfg.UserIDs) == 0 {
			return tracker.ErrNoUserIDs
		}

		c, err := newClient(runCtx, cfg, factory)
		if err != nil {
			return err
		}
		t := tracker.New(c)
		defer t.Dispose()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		if cfg.Enrich {
			out, err := t.FetchUserPresences(runCtx, cfg.UserIDs)
			if err != nil {
				return err
			}
			return enc.Encode(out)
		}

		out, err := t.FetchOnce(runCtx, cfg.UserIDs)
		if err != nil {
			return err
		}
		return enc.Encode(out)
	}
}
