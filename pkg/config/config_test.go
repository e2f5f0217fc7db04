package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/conductorone/baton-presence/pkg/client"
	"github.com/conductorone/baton-presence/pkg/types/presence"
)

type lockedBuffer struct {
	mtx sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.buf.String()
}

// newPresenceServer answers presence requests with presenceBody(call) where
// call counts from 1.
func newPresenceServer(t *testing.T, presenceBody func(call int32) (int, string)) *httptest.Server {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users/authenticated", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1,"name":"tracker"}`))
	})
	mux.HandleFunc("/v1/presence/users", func(w http.ResponseWriter, r *http.Request) {
		status, body := presenceBody(calls.Add(1))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func baseArgs(srv *httptest.Server) []string {
	return []string{
		"--cookie=test-cookie",
		"--presence-url=" + srv.URL,
		"--users-url=" + srv.URL,
		"--log-level=error",
		"--log-output=" + os.DevNull,
	}
}

func TestDefineConfiguration_Flags(t *testing.T) {
	t.Setenv("BATON_PRESENCE_CONFIG_PATH", "")
	_, cmd, err := DefineConfiguration(context.Background(), "baton-presence", nil)
	require.NoError(t, err)

	f := cmd.PersistentFlags().Lookup("user-ids")
	require.NotNil(t, f)
	require.Equal(t, "Comma separated user ids to track. ($BATON_PRESENCE_USER_IDS)", f.Usage)

	f = cmd.PersistentFlags().Lookup("interval")
	require.NotNil(t, f)
	require.Equal(t, "5s", f.DefValue)

	f = cmd.PersistentFlags().Lookup("min-interval")
	require.NotNil(t, f)
	require.True(t, f.Hidden)

	fetch, _, err := cmd.Find([]string{"fetch"})
	require.NoError(t, err)
	require.Equal(t, "fetch", fetch.Name())
}

func TestFetchCommand(t *testing.T) {
	t.Setenv("BATON_PRESENCE_CONFIG_PATH", "")
	srv := newPresenceServer(t, func(int32) (int, string) {
		return http.StatusOK, `{"userPresences":[{"userPresenceType":2,"lastLocation":"Jailbreak","placeId":606849621,"gameId":"abc","userId":1},{"userPresenceType":0,"userId":2}]}`
	})

	_, cmd, err := DefineConfiguration(context.Background(), "baton-presence", nil)
	require.NoError(t, err)

	out := &lockedBuffer{}
	cmd.SetOut(out)
	cmd.SetArgs(append([]string{"fetch", "--user-ids=1,2"}, baseArgs(srv)...))
	require.NoError(t, cmd.Execute())

	var readings []presence.Presence
	require.NoError(t, json.Unmarshal([]byte(out.String()), &readings))
	require.Len(t, readings, 2)
	require.Equal(t, presence.InGame, readings[0].Status)
	require.Equal(t, "Jailbreak", readings[0].LocationName)
	require.Equal(t, presence.Offline, readings[1].Status)
}

func TestFetchCommand_ConfigFile(t *testing.T) {
	srv := newPresenceServer(t, func(int32) (int, string) {
		return http.StatusOK, `{"userPresences":[{"userPresenceType":1,"userId":7}]}`
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "presence.yaml")
	cfg := strings.Join([]string{
		"user-ids: [7]",
		"cookie: from-file",
		"presence-url: " + srv.URL,
		"users-url: " + srv.URL,
		"log-output: [" + os.DevNull + "]",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	t.Setenv("BATON_PRESENCE_CONFIG_PATH", path)

	v, cmd, err := DefineConfiguration(context.Background(), "baton-presence", nil)
	require.NoError(t, err)
	require.Equal(t, "from-file", v.GetString("cookie"))

	out := &lockedBuffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"fetch"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), `"user_id": 7`)
}

func TestTrackCommand_PrintsChangesUntilCancelled(t *testing.T) {
	t.Setenv("BATON_PRESENCE_CONFIG_PATH", "")
	srv := newPresenceServer(t, func(call int32) (int, string) {
		if call == 1 {
			return http.StatusOK, `{"userPresences":[{"userPresenceType":1,"userId":5}]}`
		}
		return http.StatusOK, `{"userPresences":[{"userPresenceType":2,"lastLocation":"Adopt Me!","userId":5}]}`
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, cmd, err := DefineConfiguration(ctx, "baton-presence", nil)
	require.NoError(t, err)

	out := &lockedBuffer{}
	cmd.SetOut(out)
	cmd.SetArgs(append([]string{"--user-ids=5", "--min-interval=1ms", "--interval=5ms"}, baseArgs(srv)...))

	done := make(chan error, 1)
	go func() { done <- cmd.Execute() }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Adopt Me!") }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("track command did not return")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)

	var ev presence.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	require.Equal(t, presence.Online, ev.Previous)
	require.Equal(t, presence.InGame, ev.Current.Status)
}

func TestTrackCommand_FatalError(t *testing.T) {
	t.Setenv("BATON_PRESENCE_CONFIG_PATH", "")
	srv := newPresenceServer(t, func(int32) (int, string) {
		return http.StatusUnauthorized, `{"errors":[{"code":0,"message":"Authorization has been denied for this request."}]}`
	})

	_, cmd, err := DefineConfiguration(context.Background(), "baton-presence", nil)
	require.NoError(t, err)
	cmd.SetOut(&lockedBuffer{})
	cmd.SetArgs(append([]string{"--user-ids=5", "--min-interval=1ms", "--interval=1ms", "--max-retries=5"}, baseArgs(srv)...))

	err = cmd.Execute()
	require.Error(t, err)
	require.True(t, errors.Is(err, client.ErrUnauthorized))
}

func TestTrackCommand_Validation(t *testing.T) {
	t.Setenv("BATON_PRESENCE_CONFIG_PATH", "")
	_, cmd, err := DefineConfiguration(context.Background(), "baton-presence", nil)
	require.NoError(t, err)
	cmd.SetArgs([]string{"--log-format=xml", "--kafka-brokers=localhost:9092"})

	err = cmd.Execute()
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Unwrap(), 3)
}

func TestValidateConfiguration(t *testing.T) {
	v := viper.New()
	v.Set("user-ids", "1,2")
	v.Set("log-format", "console")
	require.NoError(t, ValidateConfiguration(v))

	v.Set("redis-db", -1)
	err := ValidateConfiguration(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "redis-db")
}
