package uhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type example struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func TestWrapper_WithJSONBody(t *testing.T) {
	exampleBody := example{
		Name: "John",
		Age:  30,
	}
	exampleBodyBuffer := new(bytes.Buffer)
	err := json.NewEncoder(exampleBodyBuffer).Encode(exampleBody)
	if err != nil {
		t.Fatal(err)
	}

	option := WithJSONBody(exampleBody)
	buffer, headers, err := option()

	require.Nil(t, err)
	require.Equal(t, exampleBodyBuffer, buffer)
	require.Equal(t, "application/json", headers["Content-Type"])
}

func TestWrapper_WithAcceptJSONHeader(t *testing.T) {
	option := WithAcceptJSONHeader()
	buffer, headers, err := option()

	require.Nil(t, err)
	require.Nil(t, buffer)
	require.Contains(t, headers, "Accept")
	require.Equal(t, "application/json", headers["Accept"])
}

func TestWrapper_WithJSONResponse(t *testing.T) {
	exampleResponse := example{
		Name: "John",
		Age:  30,
	}
	exampleResponseBuffer := new(bytes.Buffer)
	err := json.NewEncoder(exampleResponseBuffer).Encode(exampleResponse)
	if err != nil {
		t.Fatal(err)
	}

	resp := http.Response{
		Body: io.NopCloser(exampleResponseBuffer),
	}

	responseBody := example{}
	option := WithJSONResponse(&responseBody)
	err = option(&resp)

	require.NoError(t, err)
	require.Equal(t, exampleResponse, responseBody)
}

func TestWrapper_NewRequest(t *testing.T) {
	test := []struct {
		name            string
		method          string
		url             string
		options         []RequestOption
		expectedHeaders http.Header
		expectBody      bool
	}{
		{
			name:            "GET request with no options",
			method:          http.MethodGet,
			url:             "http://example.com",
			expectedHeaders: http.Header{},
		},
		{
			name:    "POST request with JSON body",
			method:  http.MethodPost,
			url:     "http://example.com/v1/presence/users",
			options: []RequestOption{WithJSONBody(example{Name: "John", Age: 30}), WithAcceptJSONHeader()},
			expectedHeaders: http.Header{
				"Accept":       []string{"application/json"},
				"Content-Type": []string{"application/json"},
			},
			expectBody: true,
		},
	}

	for _, tc := range test {
		t.Run(tc.name, func(t *testing.T) {
			u, err := url.Parse(tc.url)
			require.NoError(t, err)

			client := NewBaseHttpClient(http.DefaultClient)

			req, err := client.NewRequest(context.Background(), tc.method, u, tc.options...)
			require.NoError(t, err)
			require.Equal(t, tc.method, req.Method)
			require.Equal(t, tc.url, req.URL.String())
			require.Equal(t, tc.expectedHeaders, req.Header)
			if tc.expectBody {
				require.NotNil(t, req.GetBody)
			} else {
				require.Nil(t, req.Body)
			}
		})
	}
}

func TestWrapper_Do_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"code":0,"message":"Authorization has been denied for this request."}]}`))
	}))
	defer srv.Close()

	client := NewBaseHttpClient(srv.Client(), WithUserAgent("baton-presence-test"))
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	req, err := client.NewRequest(context.Background(), http.MethodGet, u)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.Error(t, err)
	require.NotNil(t, resp)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusUnauthorized, se.StatusCode)
	require.True(t, se.Unauthorized())
	require.Contains(t, se.Body, "Authorization has been denied")
}

func TestWrapper_Do_CSRFReplay(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("X-Csrf-Token") != "token-1" {
			w.Header().Set("X-Csrf-Token", "token-1")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	client := NewBaseHttpClient(srv.Client())
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	req, err := client.NewRequest(context.Background(), http.MethodPost, u, WithJSONBody(example{Name: "Jane", Age: 41}))
	require.NoError(t, err)

	var out example
	resp, err := client.Do(req, WithJSONResponse(&out))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, example{Name: "Jane", Age: 41}, out)
	require.Equal(t, int32(2), calls.Load())

	// The token is remembered for later requests.
	req, err = client.NewRequest(context.Background(), http.MethodPost, u, WithJSONBody(example{Name: "Jo"}))
	require.NoError(t, err)
	_, err = client.Do(req)
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestWrapper_Do_ForbiddenWithoutChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewBaseHttpClient(srv.Client())
	u, _ := url.Parse(srv.URL)
	req, err := client.NewRequest(context.Background(), http.MethodGet, u)
	require.NoError(t, err)

	_, err = client.Do(req)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusForbidden, se.StatusCode)
}

func TestWrapper_UserAgent(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client := NewBaseHttpClient(srv.Client(), WithUserAgent("baton-presence/1.0"), WithRateLimit(100))
	u, _ := url.Parse(srv.URL)
	req, err := client.NewRequest(context.Background(), http.MethodGet, u)
	require.NoError(t, err)
	_, err = client.Do(req)
	require.NoError(t, err)
	require.Equal(t, "baton-presence/1.0", seen)
}

func TestWrapper_Close(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := NewBaseHttpClient(srv.Client())
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	u, _ := url.Parse(srv.URL)
	req, err := client.NewRequest(context.Background(), http.MethodGet, u)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.ErrorIs(t, err, ErrClientClosed)
}

func TestWrapper_CloseAbortsInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewBaseHttpClient(srv.Client())
	u, _ := url.Parse(srv.URL)
	req, err := client.NewRequest(context.Background(), http.MethodGet, u)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		resp, err := client.Do(req)
		if resp != nil {
			_ = resp.Body.Close()
		}
		errs <- err
	}()

	<-entered
	require.NoError(t, client.Close())

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrClientClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("request was not aborted by Close")
	}
}

func TestWrapper_BodyReadableAfterDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Jane","age":41}`))
	}))
	defer srv.Close()

	client := NewBaseHttpClient(srv.Client())
	u, _ := url.Parse(srv.URL)
	req, err := client.NewRequest(context.Background(), http.MethodGet, u)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.JSONEq(t, `{"name":"Jane","age":41}`, string(body))
}
