// Пакет config — загрузка и валидация конфигурации EHR Gateway
// из переменных окружения. Конфигурация создаётся один раз при старте
// и передаётся компонентам явно.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mediblock/ehr-gateway/internal/envelope"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации EHR Gateway.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- IPFS ---

	// Базовый URL IPFS API (например, http://ipfs:5001/api/v0)
	IPFSAPIURL string
	// Таймаут одного запроса к IPFS
	IPFSTimeout time.Duration
	// Путь к CA-сертификату для TLS к IPFS (опционально)
	IPFSCACertPath string

	// --- Record Service ---

	// Базовый URL Record Service (например, http://go-service:8081/api)
	RecordServiceURL string
	// Таймаут одного запроса к Record Service
	RecordServiceTimeout time.Duration
	// Путь к CA-сертификату для TLS к Record Service (опционально)
	RecordServiceCACertPath string

	// --- Загрузка и шифрование ---

	// Максимальный размер тела POST /api/upload в байтах
	MaxUploadSize int64
	// Режим обёртки ключа: plaintext (симуляция) или sealed (X25519)
	KeyWrapMode string
	// Снимать pin с осиротевших объектов IPFS при ошибке Record Service
	OrphanUnpin bool

	// --- Кэш записей ---

	// Максимум записей в кэше (0 — кэш выключен)
	RecordCacheSize int
	// TTL записи в кэше
	RecordCacheTTL time.Duration

	// --- CORS ---

	// Разрешённые Origin (через запятую в GW_CORS_ALLOWED_ORIGINS)
	CORSAllowedOrigins []string

	// --- topologymetrics ---

	DephealthEnabled       bool
	DephealthGroup         string
	DephealthCheckInterval time.Duration
	// Путь health-проверки IPFS (GET относительно хоста IPFS API).
	// Пустая строка — TCP-проверка.
	IPFSHealthPath string
	// Путь health-проверки Record Service; пустая строка — TCP-проверка
	RecordServiceHealthPath string
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// GW_PORT — порт HTTP-сервера (по умолчанию 5000)
	cfg.Port, err = getEnvInt("GW_PORT", 5000)
	if err != nil {
		return nil, fmt.Errorf("GW_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("GW_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	logLevel := getEnvDefault("GW_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("GW_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("GW_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("GW_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("GW_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("GW_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("GW_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("GW_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("GW_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("GW_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("GW_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("GW_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- IPFS ---

	cfg.IPFSAPIURL, err = getEnvURL("GW_IPFS_API_URL", "http://ipfs:5001/api/v0")
	if err != nil {
		return nil, fmt.Errorf("GW_IPFS_API_URL: %w", err)
	}
	cfg.IPFSTimeout, err = getEnvPositiveDuration("GW_IPFS_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("GW_IPFS_TIMEOUT: %w", err)
	}
	cfg.IPFSCACertPath = os.Getenv("GW_IPFS_CA_CERT_PATH")

	// --- Record Service ---

	cfg.RecordServiceURL, err = getEnvURL("GW_RECORD_SERVICE_URL", "http://go-service:8081/api")
	if err != nil {
		return nil, fmt.Errorf("GW_RECORD_SERVICE_URL: %w", err)
	}
	cfg.RecordServiceTimeout, err = getEnvPositiveDuration("GW_RECORD_SERVICE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("GW_RECORD_SERVICE_TIMEOUT: %w", err)
	}
	cfg.RecordServiceCACertPath = os.Getenv("GW_RECORD_SERVICE_CA_CERT_PATH")

	// --- Загрузка и шифрование ---

	// GW_MAX_UPLOAD_SIZE — лимит тела загрузки (по умолчанию 32 MiB)
	maxUpload, err := getEnvInt("GW_MAX_UPLOAD_SIZE", 32<<20)
	if err != nil {
		return nil, fmt.Errorf("GW_MAX_UPLOAD_SIZE: %w", err)
	}
	if maxUpload <= 0 {
		return nil, fmt.Errorf("GW_MAX_UPLOAD_SIZE: значение должно быть > 0")
	}
	cfg.MaxUploadSize = int64(maxUpload)

	cfg.KeyWrapMode = strings.ToLower(getEnvDefault("GW_KEY_WRAP_MODE", envelope.ModePlaintext))
	if cfg.KeyWrapMode != envelope.ModePlaintext && cfg.KeyWrapMode != envelope.ModeSealed {
		return nil, fmt.Errorf("GW_KEY_WRAP_MODE: недопустимый режим %q, допустимые: %s, %s",
			cfg.KeyWrapMode, envelope.ModePlaintext, envelope.ModeSealed)
	}

	cfg.OrphanUnpin, err = getEnvBool("GW_ORPHAN_UNPIN", false)
	if err != nil {
		return nil, fmt.Errorf("GW_ORPHAN_UNPIN: %w", err)
	}

	// --- Кэш записей ---

	cfg.RecordCacheSize, err = getEnvInt("GW_RECORD_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("GW_RECORD_CACHE_SIZE: %w", err)
	}
	if cfg.RecordCacheSize < 0 {
		return nil, fmt.Errorf("GW_RECORD_CACHE_SIZE: значение должно быть >= 0")
	}
	cfg.RecordCacheTTL, err = getEnvPositiveDuration("GW_RECORD_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("GW_RECORD_CACHE_TTL: %w", err)
	}

	// --- CORS ---

	cfg.CORSAllowedOrigins = splitList(getEnvDefault("GW_CORS_ALLOWED_ORIGINS", "*"))

	// --- topologymetrics ---

	cfg.DephealthEnabled, err = getEnvBool("GW_DEPHEALTH_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("GW_DEPHEALTH_ENABLED: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("GW_DEPHEALTH_GROUP", "ehr")
	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("GW_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("GW_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	// Kubo RPC принимает только POST на /api/v0/*, метрики отдаются по GET
	cfg.IPFSHealthPath = getEnvDefault("GW_IPFS_HEALTH_PATH", "/debug/metrics/prometheus")
	// У Record Service нет health endpoint: по умолчанию TCP-проверка
	cfg.RecordServiceHealthPath = os.Getenv("GW_RECORD_SERVICE_HEALTH_PATH")

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — как getEnvDuration, но значение должно быть > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// getEnvURL возвращает абсолютный http(s) URL без завершающего слэша.
func getEnvURL(key, defaultVal string) (string, error) {
	val := getEnvDefault(key, defaultVal)
	u, err := url.Parse(val)
	if err != nil {
		return "", fmt.Errorf("некорректный URL: %q", val)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("URL должен начинаться с http:// или https://: %q", val)
	}
	if u.Host == "" {
		return "", fmt.Errorf("в URL не указан хост: %q", val)
	}
	return strings.TrimRight(val, "/"), nil
}

// splitList разбивает строку по запятым, отбрасывая пустые элементы.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
