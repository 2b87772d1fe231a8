package relay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBuild_ProxiesThroughRouter(t *testing.T) {
	users := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "users:"+r.URL.Path)
	}))
	t.Cleanup(users.Close)

	orders := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "orders:"+r.URL.Path)
	}))
	t.Cleanup(orders.Close)

	cfg := Config{
		Name:    "edge",
		Version: "1.2.3",
		Proxies: []ProxyConfig{
			{
				Name:        "users",
				Path:        "/users",
				StripPrefix: true,
				Remote:      RemoteConfig{Endpoints: []EndpointConfig{{URL: users.URL}}},
			},
			{
				Name:   "orders",
				Path:   "/",
				Remote: RemoteConfig{Endpoints: []EndpointConfig{{URL: orders.URL}}},
			},
		},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	gw, err := Build(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(gw.Close)

	require.NoError(t, gw.Start(t.Context()))

	srv := httptest.NewServer(gw.Router)
	t.Cleanup(srv.Close)

	get := func(path string) string {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		return string(body)
	}

	assert.Equal(t, "users:/42", get("/users/42"))
	assert.Equal(t, "orders:/orders/7", get("/orders/7"))

	assert.Len(t, gw.Remotes(), 2)

	remote, ok := gw.Remote("users")
	require.True(t, ok)
	assert.Equal(t, StatusUp, remote.Endpoints()[0].Status())

	_, ok = gw.Remote("missing")
	assert.False(t, ok)

	history := gw.History.Recent(0)
	require.Len(t, history, 2)
	assert.Equal(t, "users", history[0].Proxy)
	assert.Equal(t, "2xx", history[1].StatusClass)
}

func TestBuild_InvalidRemote(t *testing.T) {
	cfg := Config{
		Name: "edge",
		Proxies: []ProxyConfig{
			{Name: "ok", Path: "/ok", Remote: RemoteConfig{Endpoints: endpointConfigs(urlA)}},
			{Name: "bad", Path: "/bad", Remote: RemoteConfig{Endpoints: endpointConfigs(urlA, urlA)}},
		},
	}

	_, err := Build(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestGateway_StartsRateLimiter(t *testing.T) {
	cfg := Config{
		Name: "edge",
		Features: FeaturesConfig{
			RateLimit: RateLimitConfig{Enabled: true, Rate: 1, Burst: 1},
		},
		Proxies: []ProxyConfig{
			{Name: "api", Path: "/", Remote: RemoteConfig{Endpoints: endpointConfigs(urlA)}},
		},
	}
	cfg.ApplyDefaults()

	gw, err := Build(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, gw.Start(t.Context()))
	require.Error(t, gw.Start(t.Context()), "the rate limiter refuses a second start")

	gw.Close()
	gw.Close()
}

func TestNewTransport_Defaults(t *testing.T) {
	tr := newTransport(TransportConfig{})
	assert.Equal(t, defaultMaxIdleConns, tr.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, defaultIdleConnTimeout, tr.IdleConnTimeout)

	tr = newTransport(TransportConfig{MaxIdleConns: 5, MaxIdleConnsPerHost: 2})
	assert.Equal(t, 5, tr.MaxIdleConns)
	assert.Equal(t, 2, tr.MaxIdleConnsPerHost)
}
