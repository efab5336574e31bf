// health.go — обработчики health endpoints EHR Gateway.
// /api/health — публичная проверка ({"status":"healthy"})
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (IPFS и Record Service по данным topologymetrics)
// /metrics — Prometheus метрики
package handlers

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediblock/ehr-gateway/internal/config"
)

// serviceName — имя сервиса в ответах health.
const serviceName = "ehr-gateway"

// Константы статусов health check.
const (
	statusOK   = "ok"
	statusFail = "fail"
)

// DependencyHealth — источник состояния зависимостей (service.DephealthService).
type DependencyHealth interface {
	// Health возвращает карту "имя:host:port" → true, если зависимость доступна.
	Health() map[string]bool
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	deps        DependencyHealth
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// deps может быть nil (мониторинг выключен) — readiness вернёт ok без проверок.
func NewHealthHandler(deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		deps:        deps,
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status string `json:"status"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// APIHealth — GET /api/health, всегда 200 {"status":"healthy"}.
func (h *HealthHandler) APIHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: statusHealthy})
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe. Возвращает 503, если хотя бы одна
// зависимость в состоянии fail.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
		Checks:    map[string]healthCheckResult{},
	}

	if h.deps != nil {
		health := h.deps.Health()
		keys := make([]string, 0, len(health))
		for k := range health {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			// Ключ SDK: "имя:host:port", в ответ отдаём имя зависимости
			name, _, _ := strings.Cut(key, ":")
			status := statusOK
			if !health[key] {
				status = statusFail
				resp.Status = statusFail
			}
			if prev, ok := resp.Checks[name]; ok && prev.Status == statusFail {
				continue
			}
			resp.Checks[name] = healthCheckResult{Status: status}
		}
	}

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}
