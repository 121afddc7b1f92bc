package cache

import (
	"os"
	"testing"

	"binder-oauth/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umakantv/go-utils/logger"
)

func TestMain(m *testing.M) {
	logger.Init(logger.LoggerConfig{CallerKey: "file", TimeKey: "timestamp", CallerSkip: 1})
	os.Exit(m.Run())
}

func TestInitializeCacheDisabled(t *testing.T) {
	for _, typ := range []string{"", "none"} {
		c, err := InitializeCache(config.CacheConfig{Type: typ})
		require.NoError(t, err)
		assert.Nil(t, c)
	}
}

func TestInitializeCacheRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := InitializeCache(config.CacheConfig{Type: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Close()
}
