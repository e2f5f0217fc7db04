package uotel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const logExportInterval = 5 * time.Second

type otelConfig struct {
	serviceName    string
	serviceVersion string

	endpoint    string
	tlsCertPath string
	tlsInsecure bool

	tracingDisabled bool
	loggingDisabled bool

	mtx      sync.Mutex
	conn     *grpc.ClientConn
	shutdown []func(context.Context) error
}

type Option func(*otelConfig)

func WithServiceName(serviceName string, version string) Option {
	return func(c *otelConfig) {
		c.serviceName = serviceName
		c.serviceVersion = version
	}
}

// WithOtelEndpoint exports to endpoint over TLS. An empty tlsCertPath uses the
// system roots.
func WithOtelEndpoint(endpoint string, tlsCertPath string) Option {
	return func(c *otelConfig) {
		c.endpoint = endpoint
		c.tlsCertPath = tlsCertPath
		c.tlsInsecure = false
	}
}

func WithInsecureOtelEndpoint(endpoint string) Option {
	return func(c *otelConfig) {
		c.endpoint = endpoint
		c.tlsCertPath = ""
		c.tlsInsecure = true
	}
}

func WithTracingDisabled() Option {
	return func(c *otelConfig) {
		c.tracingDisabled = true
	}
}

func WithLoggingDisabled() Option {
	return func(c *otelConfig) {
		c.loggingDisabled = true
	}
}

func newConfig(opts ...Option) *otelConfig {
	cfg := &otelConfig{serviceName: "baton-presence"}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *otelConfig) enabled() bool {
	return c.endpoint != "" && !(c.loggingDisabled && c.tracingDisabled)
}

func (c *otelConfig) init(ctx context.Context) (context.Context, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if !c.enabled() {
		ctxzap.Extract(ctx).Debug("otel: no collector configured, export disabled")
		return ctx, nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(c.serviceName),
		semconv.ServiceVersionKey.String(c.serviceVersion),
	))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("otel: failed to create resource: %w", err), c.closeLocked(ctx))
	}

	if !c.loggingDisabled {
		if ctx, err = c.exportLogs(ctx, res); err != nil {
			return nil, errors.Join(fmt.Errorf("otel: failed to initialize logging: %w", err), c.closeLocked(ctx))
		}
	}

	if !c.tracingDisabled {
		if err := c.exportTraces(ctx, res); err != nil {
			return nil, errors.Join(fmt.Errorf("otel: failed to initialize tracing: %w", err), c.closeLocked(ctx))
		}
	}

	return ctx, nil
}

func (c *otelConfig) credentials() (credentials.TransportCredentials, error) {
	if c.tlsInsecure {
		return insecure.NewCredentials(), nil
	}
	tlsConfig, err := getTLSConfig(c.tlsCertPath)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(tlsConfig), nil
}

// dial creates the collector connection shared by both exporters. grpc
// connects lazily, so an unreachable collector does not fail startup.
func (c *otelConfig) dial(ctx context.Context) (*grpc.ClientConn, error) {
	l := ctxzap.Extract(ctx).With(zap.String("endpoint", c.endpoint))
	if c.tlsInsecure {
		l.Warn("otel: using INSECURE connection to collector")
	} else {
		l.Debug("otel: using collector")
	}

	creds, err := c.credentials()
	if err != nil {
		return nil, fmt.Errorf("otel: failed to create TLS config: %w", err)
	}

	conn, err := grpc.NewClient(c.endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("otel: failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}

// exportTraces installs a global tracer provider, so spans started by the
// client and tracker are sent to the collector.
func (c *otelConfig) exportTraces(ctx context.Context, res *resource.Resource) error {
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(c.conn))
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	c.shutdown = append(c.shutdown, tp.Shutdown)

	ctxzap.Extract(ctx).Debug("otel: exporting traces")
	return nil
}

// exportLogs tees the logger carried by ctx into an OTLP log exporter, so
// logging.Init must run first.
func (c *otelConfig) exportLogs(ctx context.Context, res *resource.Resource) (context.Context, error) {
	exp, err := otlploggrpc.New(ctx, otlploggrpc.WithGRPCConn(c.conn))
	if err != nil {
		return ctx, fmt.Errorf("failed to create log exporter: %w", err)
	}

	lp := log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(exp, log.WithExportInterval(logExportInterval))),
	)
	c.shutdown = append(c.shutdown, lp.Shutdown)

	core := otelzap.NewCore(c.serviceName, otelzap.WithVersion(c.serviceVersion), otelzap.WithLoggerProvider(lp))
	l := ctxzap.Extract(ctx).WithOptions(zap.WrapCore(func(existing zapcore.Core) zapcore.Core {
		return zapcore.NewTee(existing, core)
	}))
	zap.ReplaceGlobals(l)

	l.Debug("otel: exporting logs")
	return ctxzap.ToContext(ctx, l), nil
}

// Close flushes the providers and closes the collector connection.
func (c *otelConfig) Close(ctx context.Context) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.closeLocked(ctx)
}

func (c *otelConfig) closeLocked(ctx context.Context) error {
	var errs []error
	for _, shutdown := range c.shutdown {
		errs = append(errs, shutdown(ctx))
	}
	c.shutdown = nil

	if c.conn != nil {
		errs = append(errs, c.conn.Close())
		c.conn = nil
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("otel: failed to close exporters: %w", err)
	}
	return nil
}

// getTLSConfig trusts the PEM certificates at tlsCertPath, or the system pool
// when no path is given.
func getTLSConfig(tlsCertPath string) (*tls.Config, error) {
	var pool *x509.CertPool
	if tlsCertPath == "" {
		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("failed to load system certificate pool: %w", err)
		}
		pool = systemPool
	} else {
		pem, err := os.ReadFile(tlsCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read TLS certificate file: %w", err)
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse TLS certificate %s", tlsCertPath)
		}
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    pool,
	}, nil
}
