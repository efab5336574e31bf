// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Gateway мониторит:
//   - IPFS RPC API — HTTP checker (critical)
//   - Record Service — HTTP checker или TCP checker, если health path не задан (critical)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/tcpcheck"  // регистрация TCP checker factory
	"github.com/prometheus/client_golang/prometheus"
)

// Имена зависимостей в метриках и в Health().
const (
	DepIPFS          = "ipfs"
	DepRecordService = "record-service"
)

// DephealthTarget — одна зависимость gateway.
type DephealthTarget struct {
	// URL — базовый URL зависимости (host и порт берутся из него)
	URL string
	// HealthPath — путь GET health-проверки; пустая строка — TCP-проверка
	HealthPath string
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - serviceID — имя вершины графа текущего приложения ("ehr-gateway")
//   - group — имя группы в метриках (GW_DEPHEALTH_GROUP)
//   - ipfs, recordService — проверяемые зависимости
//   - checkInterval — интервал проверки (GW_DEPHEALTH_CHECK_INTERVAL)
func NewDephealthService(
	serviceID string,
	group string,
	ipfs DephealthTarget,
	recordService DephealthTarget,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, ipfs, recordService, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	ipfs DephealthTarget,
	recordService DephealthTarget,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, ipfs, recordService, checkInterval,
		logger, dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	serviceID string,
	group string,
	ipfs DephealthTarget,
	recordService DephealthTarget,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	opts := make([]dephealth.Option, 0, 3+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		depOption(DepIPFS, ipfs, checkInterval),
		depOption(DepRecordService, recordService, checkInterval),
	)
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// depOption регистрирует зависимость: HTTP при заданном HealthPath, иначе TCP.
func depOption(name string, target DephealthTarget, checkInterval time.Duration) dephealth.Option {
	opts := []dephealth.DependencyOption{
		dephealth.FromURL(target.URL),
		dephealth.CheckInterval(checkInterval),
		dephealth.Critical(true),
	}
	if target.HealthPath == "" {
		return dephealth.TCP(name, opts...)
	}

	opts = append(opts, dephealth.WithHTTPHealthPath(target.HealthPath))
	// TLS определяем по схеме URL
	if parsed, err := url.Parse(target.URL); err == nil && parsed.Scheme == "https" {
		opts = append(opts, dephealth.WithHTTPTLSSkipVerify(false))
	}
	return dephealth.HTTP(name, opts...)
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (IPFS + Record Service)")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — "имя:host:port", значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
