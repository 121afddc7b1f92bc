package cache

import (
	"fmt"

	"binder-oauth/config"

	"github.com/umakantv/go-utils/cache"
	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// InitializeCache connects the repository token cache. It returns a nil
// cache when caching is disabled.
func InitializeCache(cfg config.CacheConfig) (cache.Cache, error) {
	if cfg.Type == "" || cfg.Type == "none" {
		logger.Info("Repository token cache disabled")
		return nil, nil
	}

	c, err := cache.New(cache.Config{
		Type:          cfg.Type,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Error("Failed to initialize cache:", zap.Error(err))
		return nil, fmt.Errorf("initialize %s cache: %w", cfg.Type, err)
	}
	logger.Info("Cache initialized", zap.String("type", cfg.Type), zap.String("addr", cfg.RedisAddr))
	return c, nil
}
