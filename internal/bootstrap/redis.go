package bootstrap

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	infraredis "github.com/jonesrussell/north-cloud/export-service/infrastructure/redis"
	"github.com/jonesrussell/north-cloud/export-service/internal/config"
)

// SetupRedis connects the client shared by the queue, tracker and cache.
func SetupRedis(cfg *config.Config, log infralogger.Logger) (*redis.Client, error) {
	client, err := infraredis.NewClient(infraredis.Config{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	log.Info("Redis connected", infralogger.String("address", cfg.Redis.Address))
	return client, nil
}
