// Точка входа EHR Gateway — шлюза медицинских записей.
// Загружает конфигурацию, создаёт клиенты IPFS и Record Service,
// сервисный слой (шифрование, загрузка, получение, пользователи, согласия),
// запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/mediblock/ehr-gateway/internal/api/handlers"
	"github.com/mediblock/ehr-gateway/internal/api/middleware"
	"github.com/mediblock/ehr-gateway/internal/config"
	"github.com/mediblock/ehr-gateway/internal/envelope"
	"github.com/mediblock/ehr-gateway/internal/ipfsclient"
	"github.com/mediblock/ehr-gateway/internal/recordclient"
	"github.com/mediblock/ehr-gateway/internal/server"
	"github.com/mediblock/ehr-gateway/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("EHR Gateway запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("key_wrap_mode", cfg.KeyWrapMode),
	)

	// 3. Обёртка симметричного ключа
	wrapper, err := envelope.NewKeyWrapper(cfg.KeyWrapMode)
	if err != nil {
		logger.Error("Ошибка режима обёртки ключа", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if !wrapper.RequiresRecipientKey() {
		logger.Warn("GW_KEY_WRAP_MODE=plaintext: симметричный ключ хранится в Record Service в открытом виде")
	}

	// 4. Клиенты внешних сервисов
	ipfsClient, err := ipfsclient.New(cfg.IPFSAPIURL, cfg.IPFSCACertPath, cfg.IPFSTimeout, logger)
	if err != nil {
		logger.Error("Ошибка создания IPFS-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}
	rsClient, err := recordclient.New(cfg.RecordServiceURL, cfg.RecordServiceCACertPath, cfg.RecordServiceTimeout, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента Record Service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Клиенты созданы",
		slog.String("ipfs_url", cfg.IPFSAPIURL),
		slog.String("record_service_url", cfg.RecordServiceURL),
	)

	// 5. Services
	cache := service.NewCacheService(cfg.RecordCacheSize, cfg.RecordCacheTTL)
	if cache == nil {
		logger.Info("Кэш метаданных записей отключён (GW_RECORD_CACHE_SIZE=0)")
	}
	orphans := service.NewOrphanReporter(ipfsClient, cfg.OrphanUnpin, cfg.IPFSTimeout, logger)
	recordsSvc := service.NewRecordService(ipfsClient, rsClient, wrapper, cache, orphans, cfg.MaxUploadSize, logger)
	usersSvc := service.NewUserService(rsClient, wrapper, logger)
	consentSvc := service.NewConsentService(rsClient, logger)

	// 6. topologymetrics — мониторинг зависимостей (IPFS + Record Service)
	ctx := context.Background()
	var deps handlers.DependencyHealth
	var dephealthSvc *service.DephealthService
	if cfg.DephealthEnabled {
		if os.Getenv("GW_DEPHEALTH_GROUP") == "" {
			logger.Warn("GW_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
				slog.String("default", cfg.DephealthGroup),
			)
		}

		svc, dephealthErr := service.NewDephealthService(
			"ehr-gateway",
			cfg.DephealthGroup,
			service.DephealthTarget{URL: cfg.IPFSAPIURL, HealthPath: cfg.IPFSHealthPath},
			service.DephealthTarget{URL: cfg.RecordServiceURL, HealthPath: cfg.RecordServiceHealthPath},
			cfg.DephealthCheckInterval,
			logger,
		)
		if dephealthErr != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", dephealthErr.Error()),
			)
		} else if startErr := svc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			dephealthSvc = svc
			deps = svc
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	} else {
		logger.Info("topologymetrics отключён (GW_DEPHEALTH_ENABLED=false)")
	}

	// 7. Handlers
	healthHandler := handlers.NewHealthHandler(deps)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		recordsSvc,
		usersSvc,
		consentSvc,
		cfg.MaxUploadSize,
		logger,
	)

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler.Routes,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	orphans.Wait()

	logger.Info("EHR Gateway остановлен")
}
