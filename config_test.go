package lavago

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNodeConfigDefaults(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	cfg, err := NewNodeConfig("n1", "localhost", 2333, "secret", "default")
	require.NoError(t, err)
	assert.Equal(RegionUnknown, cfg.Region)
	assert.Equal(10*time.Second, cfg.RequestTimeout)
	assert.Equal("ws://localhost:2333/v4/websocket", cfg.wsURL())
	assert.Equal("http://localhost:2333", cfg.httpURL())
}

func TestNewNodeConfigAppliesOptions(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	cfg, err := NewNodeConfig("n1", "localhost", 443, "secret", "default",
		WithTLS(true), WithRegion(RegionEurope), WithRequestTimeout(5*time.Second))
	require.NoError(t, err)
	assert.Equal(RegionEurope, cfg.Region)
	assert.Equal(5*time.Second, cfg.RequestTimeout)
	assert.Equal("wss://localhost:443/v4/websocket", cfg.wsURL())
	assert.Equal("https://localhost:443", cfg.httpURL())
}

func TestNewNodeConfigRejectsEmptyNameOrPool(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	_, err := NewNodeConfig("", "localhost", 2333, "secret", "default")
	assert.Error(err)

	_, err = NewNodeConfig("n1", "localhost", 2333, "secret", "")
	assert.Error(err)
}
