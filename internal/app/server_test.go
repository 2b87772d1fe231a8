package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xff16/relay"
)

func testConfig(upstream string) relay.Config {
	cfg := relay.Config{
		Name: "edge",
		Server: relay.ServerConfig{
			Metrics: relay.MetricsConfig{Enabled: true, Provider: "prometheus"},
		},
		Middlewares: relay.MiddlewaresConfig{
			Recoverer: relay.RecovererMiddlewareConfig{Enabled: true},
			Logger:    relay.LoggerMiddlewareConfig{Enabled: true},
		},
		Proxies: []relay.ProxyConfig{{
			Name:   "api",
			Path:   "/api",
			Remote: relay.RemoteConfig{Endpoints: []relay.EndpointConfig{{URL: upstream}}},
		}},
	}
	cfg.ApplyDefaults()

	return cfg
}

func TestServer_HandlerServesProxyAndMetrics(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "upstream "+r.URL.Path)
	}))
	t.Cleanup(upstream.Close)

	s, err := NewServer(testConfig(upstream.URL), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	front := httptest.NewServer(s.Handler())
	t.Cleanup(front.Close)

	resp, err := http.Get(front.URL + "/api/ping")
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "upstream /api/ping", string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(front.URL + "/metrics")
	require.NoError(t, err)

	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Contains(t, string(body), "relay_requests_total 1")
	assert.Contains(t, string(body), `relay_responses_total{proxy="api",status="200"} 1`)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig("http://a.example")
	cfg.Server.Port = 0

	s, err := NewServer(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	s.http.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(t.Context())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err = <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMiddlewares_Order(t *testing.T) {
	mws := middlewares(relay.MiddlewaresConfig{
		Logger:     relay.LoggerMiddlewareConfig{Enabled: true},
		Recoverer:  relay.RecovererMiddlewareConfig{Enabled: true},
		Compressor: relay.CompressorMiddlewareConfig{Enabled: true, Alg: "gzip"},
	}, zaptest.NewLogger(t))

	require.Len(t, mws, 3)
	assert.Equal(t, "recoverer", mws[0].Name())
	assert.Equal(t, "logger", mws[1].Name())
	assert.Equal(t, "compressor", mws[2].Name())
}
