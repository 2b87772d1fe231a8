package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://a.example", want: "http://a.example/"},
		{in: "HTTP://A.Example:8080/api", want: "http://a.example:8080/api/"},
		{in: "https://a.example/v1/", want: "https://a.example/v1/"},
		{in: "  http://a.example/x#frag ", want: "http://a.example/x/"},
		{in: "http://a.example/api?key=1", wantErr: true},
		{in: "http://a.example/?", wantErr: true},
		{in: "ftp://a.example", wantErr: true},
		{in: "http://", wantErr: true},
		{in: "a.example", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "http://a.example/api/users", joinURL("http://a.example/api/", "/users"))
	assert.Equal(t, "http://a.example/", joinURL("http://a.example/", "/"))
}

func TestNewEndpoint_Pools(t *testing.T) {
	e, err := newEndpoint(urlA, nil, defaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, []PoolName{PoolDefault}, e.Pools())

	e, err = newEndpoint(urlA, []PoolName{PoolFallback, PoolDefault, PoolFallback}, defaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, []PoolName{PoolDefault, PoolFallback}, e.Pools())
	assert.True(t, e.InPool(PoolFallback))
	assert.Equal(t, StatusChecking, e.Status(), "endpoints start in checking")
}

func TestEndpoint_Transition(t *testing.T) {
	e, err := newEndpoint(urlA, nil, defaultPolicy())
	require.NoError(t, err)

	assert.False(t, e.transition(StatusDown, StatusChecking), "not down yet")
	assert.Equal(t, StatusChecking, e.Status())

	require.True(t, e.setStatus(StatusDown))
	assert.True(t, e.transition(StatusDown, StatusChecking))
	assert.Equal(t, StatusChecking, e.Status())
}

func TestEndpoint_Snapshot(t *testing.T) {
	e, err := newEndpoint(urlA, nil, Ignore{})
	require.NoError(t, err)

	snap := e.Snapshot()
	assert.Equal(t, urlA, snap.URL)
	assert.Equal(t, StatusChecking, snap.Status)
	assert.Equal(t, LivenessIgnore, snap.Liveness)
}
