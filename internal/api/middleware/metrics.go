// metrics.go — Prometheus HTTP метрики агента edusync.
// Регистрирует метрики: edusync_http_requests_total,
// edusync_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edusync_http_requests_total",
			Help: "Общее количество HTTP-запросов к агенту edusync",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edusync_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к агенту edusync в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// normalizePath заменяет ID-сегменты пути на {id} для предотвращения
// взрывного роста кардинальности метрик.
// /api/v1/accounts/a1b2.../activate → /api/v1/accounts/{id}/activate
// /api/v1/homeworks/hw-42/done → /api/v1/homeworks/{id}/done
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/accounts", "/api/v1/sync",
		"/api/v1/grades", "/api/v1/periods", "/api/v1/homeworks", "/api/v1/news",
		"/api/v1/timetable", "/api/v1/canteen/menu", "/api/v1/balances", "/api/v1/qrcode":
		return path
	}

	// Динамические пути: ID — предпоследний или последний сегмент
	for prefix, suffixes := range map[string][]string{
		"/api/v1/accounts/":  {"/activate"},
		"/api/v1/homeworks/": {"/done"},
		"/api/v1/news/":      {"/ack"},
	} {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := path[len(prefix):]
		for _, suffix := range suffixes {
			if strings.HasSuffix(rest, suffix) {
				return prefix + "{id}" + suffix
			}
		}
		return prefix + "{id}"
	}

	return path
}
