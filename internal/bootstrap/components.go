package bootstrap

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	inframetrics "github.com/jonesrussell/north-cloud/export-service/infrastructure/metrics"
	"github.com/jonesrussell/north-cloud/export-service/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/export-service/internal/cache"
	"github.com/jonesrussell/north-cloud/export-service/internal/circuitbreaker"
	"github.com/jonesrussell/north-cloud/export-service/internal/config"
	"github.com/jonesrussell/north-cloud/export-service/internal/datasource"
	"github.com/jonesrussell/north-cloud/export-service/internal/definitions"
	"github.com/jonesrussell/north-cloud/export-service/internal/dispatcher"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
	"github.com/jonesrussell/north-cloud/export-service/internal/metrics"
	"github.com/jonesrussell/north-cloud/export-service/internal/pipeline"
	"github.com/jonesrussell/north-cloud/export-service/internal/queue"
	"github.com/jonesrussell/north-cloud/export-service/internal/registry"
	"github.com/jonesrussell/north-cloud/export-service/internal/remoteworker"
	"github.com/jonesrussell/north-cloud/export-service/internal/render"
	"github.com/jonesrussell/north-cloud/export-service/internal/service"
	"github.com/jonesrussell/north-cloud/export-service/internal/tracker"
)

// Breaker names used in logs and metrics.
const (
	breakerDataSource = "datasource"
	breakerRender     = "render"
	breakerRemote     = "remoteworker"
)

// Components holds the wired export service.
type Components struct {
	Gatherer   prometheus.Gatherer
	Metrics    *metrics.Metrics
	HTTP       *inframetrics.HTTP
	Registry   *registry.Registry
	Queue      *queue.Queue
	Dispatcher *dispatcher.Dispatcher
	Service    *service.Service
}

// SetupComponents builds every export component from configuration.
func SetupComponents(cfg *config.Config, redisClient *redis.Client, stores *Stores, log infralogger.Logger) *Components {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	httpMetrics := inframetrics.NewHTTP(reg, metrics.Namespace)

	sources := setupSources(stores, log)

	exports := registry.New(log)
	loaded := exports.Load(withDefaultTTL(cfg.Cache.DefaultTTL, definitions.Loaders(definitions.Options{
		PaymentBillsDBType: cfg.Exports.PaymentBillsDBType,
	}))...)
	log.Info("Export definitions loaded",
		infralogger.Int("count", loaded),
		infralogger.Strings("types", exports.ListTypes()),
		infralogger.Strings("sources", sources.Names()),
	)

	renderRetry := retry.DefaultConfig()
	renderRetry.MaxAttempts = cfg.Storage.MaxAttempts
	renderer := render.NewClient(render.Config{
		URL:     cfg.Storage.URL,
		Timeout: cfg.Storage.Timeout,
		Retry:   renderRetry,
	}, log.With(infralogger.String("component", "render")))

	extraction := pipeline.NewExtraction(pipeline.Config{
		BatchSize:   cfg.Pipeline.BatchSize,
		RenderEmpty: cfg.Pipeline.RenderEmpty,
	}, pipeline.Deps{
		Sources:       sources,
		Renderer:      renderer,
		Runner:        pipeline.NewBatchRunner(cfg.Pipeline.MaxWorkers, log),
		SourceBreaker: newBreaker(breakerDataSource, cfg.CircuitBreaker, m, log),
		RenderBreaker: newBreaker(breakerRender, cfg.CircuitBreaker, m, log),
		SourceLimiter: rate.NewLimiter(rate.Limit(cfg.Pipeline.SourceRateLimit), cfg.Pipeline.SourceBurst),
		Logger:        log.With(infralogger.String("component", "pipeline")),
	})

	store := cache.New(redisClient, log.With(infralogger.String("component", "cache")), cache.Options{
		LocalTTL: cfg.Cache.LocalTTL,
	})
	jobs := tracker.New(redisClient, log)
	q := queue.New(redisClient, queue.Config{PopTimeout: cfg.Queue.PopTimeout}, log.With(infralogger.String("component", "queue")))

	remote := remoteworker.NewClient(remoteworker.Config{URL: cfg.Worker.URL, Timeout: cfg.Worker.Timeout})
	if remote.Enabled() {
		log.Info("Remote worker configured", infralogger.String("url", cfg.Worker.URL))
	}

	d := dispatcher.New(dispatcher.Deps{
		Registry:      exports,
		Cache:         store,
		Tracker:       jobs,
		Default:       extraction,
		Remote:        remote,
		RemoteBreaker: newBreaker(breakerRemote, cfg.CircuitBreaker, m, log),
		Metrics:       m,
		Logger:        log.With(infralogger.String("component", "dispatcher")),
	})

	svc := service.New(service.Config{
		JobTimeout:      cfg.Queue.JobTimeout,
		BulkConcurrency: cfg.Pipeline.BulkConcurrency,
	}, service.Deps{
		Dispatcher: d,
		Registry:   exports,
		Queue:      q,
		Tracker:    jobs,
		Cache:      store,
		Metrics:    m,
		DB:         stores,
		Storage:    renderer,
		Logger:     log,
	})

	return &Components{
		Gatherer:   reg,
		Metrics:    m,
		HTTP:       httpMetrics,
		Registry:   exports,
		Queue:      q,
		Dispatcher: d,
		Service:    svc,
	}
}

func setupSources(stores *Stores, log infralogger.Logger) *datasource.Registry {
	sources := datasource.NewRegistry()
	sourceLog := log.With(infralogger.String("component", "datasource"))

	if stores.SQL != nil {
		sources.Register(definitions.SourcePaymentBillsSQL,
			datasource.NewSQLTable(stores.SQL, definitions.PaymentBillsSQL(), sourceLog))
		sources.Register(definitions.SourceWalletTransactions,
			datasource.NewSQLTable(stores.SQL, definitions.WalletTransactionsSQL(), sourceLog))
	}

	if stores.MongoDB != nil {
		sources.Register(definitions.SourcePaymentBillsMongo,
			datasource.NewMongoCollection(
				stores.MongoDB.Collection(definitions.PaymentBillsCollection),
				definitions.PaymentBillsMongo(),
				sourceLog,
			))
	}

	return sources
}

func newBreaker(name string, cfg config.CircuitBreakerConfig, m *metrics.Metrics, log infralogger.Logger) *circuitbreaker.Breaker {
	return circuitbreaker.New(circuitbreaker.Config{
		Name:             name,
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			m.SetBreakerState(name, int(to), to == circuitbreaker.StateOpen)
			log.Warn("Circuit breaker state changed",
				infralogger.String("breaker", name),
				infralogger.String("from", from.String()),
				infralogger.String("to", to.String()),
			)
		},
	})
}

// withDefaultTTL gives definitions without their own cache TTL the configured default.
func withDefaultTTL(ttl time.Duration, loaders []registry.Loader) []registry.Loader {
	out := make([]registry.Loader, len(loaders))
	for i, load := range loaders {
		out[i] = func() (*domain.Definition, error) {
			def, err := load()
			if err != nil || def == nil {
				return def, err
			}
			if def.CacheTTL <= 0 {
				def.CacheTTL = ttl
			}
			return def, nil
		}
	}
	return out
}
