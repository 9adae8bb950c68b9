package bootstrap

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	infragin "github.com/jonesrussell/north-cloud/export-service/infrastructure/gin"
	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/api"
	"github.com/jonesrussell/north-cloud/export-service/internal/config"
)

const (
	readTimeout        = 30 * time.Second
	idleTimeout        = 120 * time.Second
	healthCheckTimeout = 2 * time.Second
)

// SetupHTTPServer creates and configures the HTTP server. Writes may take as
// long as a job, since direct exports run on the request goroutine.
func SetupHTTPServer(
	cfg *config.Config,
	comp *Components,
	redisClient *redis.Client,
	stores *Stores,
	log infralogger.Logger,
) *infragin.Server {
	handler := api.NewHandler(comp.Service, log)

	return infragin.NewServerBuilder(cfg.Service.Name, cfg.Service.Port).
		WithLogger(log).
		WithDebug(cfg.Service.Debug).
		WithVersion(cfg.Service.Version).
		WithTimeouts(readTimeout, cfg.Queue.JobTimeout, idleTimeout).
		WithRedisHealthCheck(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			defer cancel()
			return redisClient.Ping(ctx).Err()
		}).
		WithDatabaseHealthCheck(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			defer cancel()
			return stores.Ping(ctx)
		}).
		WithRoutes(func(router *gin.Engine) {
			router.Use(comp.HTTP.Middleware())
			api.RegisterRoutes(router, handler, comp.Gatherer)
		}).
		Build()
}
