package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/north-cloud/export-service/internal/definitions"
)

// RegisterRoutes mounts the export actions under /api/v1 and the Prometheus
// endpoint at /metrics. A nil gatherer uses the default registry.
func RegisterRoutes(router *gin.Engine, h *Handler, gatherer prometheus.Gatherer) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")

	exports := v1.Group("/exports")
	exports.GET("", h.ListExports)
	exports.POST("", h.ExportData)
	exports.POST("/bulk", h.ExportBulk)
	exports.POST("/payment-bills", h.ExportFixed(definitions.PaymentBillsType))
	exports.POST("/wallet-transactions", h.ExportFixed(definitions.WalletTransactionsType))

	v1.GET("/jobs/:jobId", h.GetJobStatus)
	v1.GET("/metrics", h.GetMetrics)
	v1.GET("/health", h.HealthCheck)
	v1.DELETE("/cache", h.InvalidateCache)
	v1.POST("/worker/run", h.RunWorker)
}
