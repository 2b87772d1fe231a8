package relay

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

const yamlConfig = `
name: edge
version: "1.0"
log:
  level: info
  format: json
admin:
  enabled: true
  port: 9090
proxies:
  - name: users
    path: /users
    strip_prefix: true
    remote:
      min_pool_size: 2
      break_on: [http_5xx, network_error]
      check_after: 2.5
      probe:
        path: /healthz
        interval: 1s
      liveness:
        type: naive
        failure_threshold: 3
      endpoints:
        - url: http://users-1.internal:8080
        - url: http://users-2.internal:8080
          liveness:
            type: ignore
        - url: http://users-backup.internal:8080
          pools: [fallback]
`

func TestLoadConfig_YAML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "relay.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "edge", cfg.Name)
	assert.Equal(t, 8080, cfg.Server.Port, "server port defaults")
	assert.Equal(t, 60*time.Second, cfg.Server.Timeout.Std())
	require.Len(t, cfg.Proxies, 1)

	p := cfg.Proxies[0]
	assert.True(t, p.StripPrefix)

	rc := p.Remote
	assert.Equal(t, 2, rc.MinPoolSize)
	assert.Equal(t, []FailureClass{ClassHTTP5xx, ClassNetworkError}, rc.BreakOn)
	assert.Equal(t, 2500*time.Millisecond, rc.CheckAfter.Std())

	require.NotNil(t, rc.Probe)
	assert.Equal(t, DefaultProbeMethod, rc.Probe.Method)
	assert.Equal(t, "/healthz", rc.Probe.Path)
	assert.Equal(t, time.Second, rc.Probe.Interval.Std())
	assert.Equal(t, DefaultProbeTimeout, rc.Probe.Timeout.Std())

	assert.Equal(t, LivenessNaive, rc.Liveness.Type)
	assert.Equal(t, 3, rc.Liveness.FailureThreshold)

	require.Len(t, rc.Endpoints, 3)
	assert.Equal(t, []PoolName{PoolDefault}, rc.Endpoints[0].Pools)
	assert.Equal(t, LivenessIgnore, rc.Endpoints[1].Liveness.Type)
	assert.Equal(t, []PoolName{PoolFallback}, rc.Endpoints[2].Pools)
}

func TestLoadConfig_JSON(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "relay.json", `{
		"name": "edge",
		"proxies": [{
			"name": "api",
			"path": "/",
			"remote": {
				"check_after": "1m",
				"endpoints": [{"url": "https://api.example.com"}]
			}
		}]
	}`))
	require.NoError(t, err)

	rc := cfg.Proxies[0].Remote
	assert.Equal(t, time.Minute, rc.CheckAfter.Std())
	assert.Equal(t, DefaultBreakOn(), rc.BreakOn, "missing break_on uses the defaults")
	assert.Equal(t, DefaultMinPoolSize, rc.MinPoolSize)
	assert.Nil(t, rc.Probe)
}

func TestLoadConfig_TOML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "relay.toml", `
name = "edge"

[server]
port = 8000
timeout = 30

[[proxies]]
name = "api"
path = "/api"

[proxies.remote]
break_on = []
check_after = 5

[[proxies.remote.endpoints]]
url = "http://a.example"
pools = ["default", "fallback"]
`))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout.Std())

	rc := cfg.Proxies[0].Remote
	assert.NotNil(t, rc.BreakOn)
	assert.Empty(t, rc.BreakOn, "an explicit empty break_on disables breaking")
	assert.Equal(t, 5*time.Second, rc.CheckAfter.Std())
}

func TestLoadConfig_UnknownExtension(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "relay.ini", "name = edge"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config file extension")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := Config{
			Name: "edge",
			Proxies: []ProxyConfig{{
				Name: "api",
				Path: "/api",
				Remote: RemoteConfig{
					Endpoints: []EndpointConfig{{URL: "http://a.example"}},
				},
			}},
		}
		cfg.ApplyDefaults()

		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "no proxies",
			mutate:  func(c *Config) { c.Proxies = nil },
			wantErr: []string{"proxies failed on 'required' rule"},
		},
		{
			name: "no endpoints",
			mutate: func(c *Config) {
				c.Proxies[0].Remote.Endpoints = nil
			},
			wantErr: []string{"proxies[0].remote.endpoints failed on 'required' rule"},
		},
		{
			name: "bad break_on class",
			mutate: func(c *Config) {
				c.Proxies[0].Remote.BreakOn = []FailureClass{ClassCanceled}
			},
			wantErr: []string{"proxies[0].remote.break_on[0] failed on 'oneof' rule"},
		},
		{
			name: "bad endpoint scheme",
			mutate: func(c *Config) {
				c.Proxies[0].Remote.Endpoints[0].URL = "ftp://a.example"
			},
			wantErr: []string{"proxies[0].remote.endpoints[0].url"},
		},
		{
			name: "endpoint url with query",
			mutate: func(c *Config) {
				c.Proxies[0].Remote.Endpoints[0].URL = "http://a.example/api?key=1"
			},
			wantErr: []string{"proxies[0].remote.endpoints[0].url", "must not contain a query"},
		},
		{
			name: "duplicate endpoints after normalization",
			mutate: func(c *Config) {
				c.Proxies[0].Remote.Endpoints = append(c.Proxies[0].Remote.Endpoints,
					EndpointConfig{URL: "HTTP://A.example/", Pools: []PoolName{PoolDefault}})
			},
			wantErr: []string{"is duplicated"},
		},
		{
			name: "duplicate proxy path and admin port clash",
			mutate: func(c *Config) {
				c.Proxies = append(c.Proxies, c.Proxies[0])
				c.Proxies[1].Name = "other"
				c.Admin = AdminConfig{Enabled: true, Port: c.Server.Port}
			},
			wantErr: []string{
				`proxies[1].path "/api" is duplicated`,
				"admin.port must differ from server.port",
			},
		},
		{
			name: "ratelimit without budget",
			mutate: func(c *Config) {
				c.Features.RateLimit.Enabled = true
			},
			wantErr: []string{"features.ratelimit.rate and burst must be > 0"},
		},
		{
			name: "invalid probe interval",
			mutate: func(c *Config) {
				c.Proxies[0].Remote.Probe = &ProbeConfig{Interval: -1, Timeout: Duration(time.Second)}
			},
			wantErr: []string{"proxies[0].remote.probe.interval must be > 0"},
		},
		{
			name: "invalid endpoint liveness",
			mutate: func(c *Config) {
				c.Proxies[0].Remote.Endpoints[0].Liveness = LivenessConfig{Type: LivenessLeaky}
			},
			wantErr: []string{"proxies[0].remote.endpoints[0].liveness"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)

			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestRemoteConfig_WithDefaultsDoesNotAlias(t *testing.T) {
	rc := RemoteConfig{
		Probe:     &ProbeConfig{},
		Endpoints: []EndpointConfig{{URL: urlA}},
	}

	out := rc.WithDefaults()

	assert.Empty(t, rc.Probe.Method, "the original probe is untouched")
	assert.Nil(t, rc.Endpoints[0].Pools, "the original endpoints are untouched")
	assert.Equal(t, DefaultProbeMethod, out.Probe.Method)
	assert.Equal(t, []PoolName{PoolDefault}, out.Endpoints[0].Pools)
}
