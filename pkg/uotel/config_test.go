package uotel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestInitOtel_NoEndpoint(t *testing.T) {
	ctx := ctxzap.ToContext(context.Background(), zaptest.NewLogger(t))

	out, shutdown, err := InitOtel(ctx, WithServiceName("baton-presence", "test"))
	require.NoError(t, err)
	require.Equal(t, ctx, out)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitOtel_AllDisabled(t *testing.T) {
	out, shutdown, err := InitOtel(context.Background(),
		WithInsecureOtelEndpoint("localhost:4317"),
		WithTracingDisabled(),
		WithLoggingDisabled(),
	)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.NoError(t, shutdown(context.Background()))
}

func TestGetTLSConfig(t *testing.T) {
	cfg, err := getTLSConfig("")
	require.NoError(t, err)
	require.NotNil(t, cfg.RootCAs)

	_, err = getTLSConfig(filepath.Join(t.TempDir(), "missing.pem"))
	require.ErrorContains(t, err, "failed to read TLS certificate file")

	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0o600))
	_, err = getTLSConfig(garbage)
	require.ErrorContains(t, err, "failed to parse TLS certificate")
}

func TestDial(t *testing.T) {
	ctx := context.Background()

	cfg := newConfig(WithInsecureOtelEndpoint("localhost:4317"))
	conn, err := cfg.dial(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	cfg = newConfig(WithOtelEndpoint("localhost:4317", filepath.Join(t.TempDir(), "missing.pem")))
	_, err = cfg.dial(ctx)
	require.ErrorContains(t, err, "failed to create TLS config")
}

func TestClose_NothingInitialized(t *testing.T) {
	cfg := newConfig()
	require.False(t, cfg.enabled())
	require.NoError(t, cfg.Close(context.Background()))
}
