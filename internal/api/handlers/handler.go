// handler.go — основной обработчик API EHR Gateway.
// Регистрирует маршруты на chi.Router и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mediblock/ehr-gateway/internal/service"
)

// maxJSONBodySize — лимит тела JSON-запросов (users, consent).
const maxJSONBodySize = 1 << 20

// APIHandler — основной обработчик API EHR Gateway.
type APIHandler struct {
	health        *HealthHandler
	records       *service.RecordService
	users         *service.UserService
	consent       *service.ConsentService
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadSize — лимит тела POST /api/upload (GW_MAX_UPLOAD_SIZE).
func NewAPIHandler(
	health *HealthHandler,
	records *service.RecordService,
	users *service.UserService,
	consent *service.ConsentService,
	maxUploadSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		records:       records,
		users:         users,
		consent:       consent,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует все маршруты gateway.
func (h *APIHandler) Routes(r chi.Router) {
	// Служебные endpoints
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health.APIHealth)
		r.Post("/upload", h.UploadRecord)
		r.Get("/retrieve/{recordId}", h.RetrieveRecord)
		r.Post("/users", h.RegisterUser)
		r.Post("/consent", h.GrantConsent)
		r.Delete("/consent", h.RevokeConsent)
	})
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errInvalidJSON — тело запроса не является JSON-объектом.
var errInvalidJSON = errors.New("некорректное JSON-тело")

// decodeJSON читает JSON-тело запроса (не больше maxJSONBodySize).
// Пустое тело эквивалентно пустому объекту: обязательные поля проверяет вызывающий.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %w", errInvalidJSON, err)
	}
	// Хвост после объекта недопустим
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: лишние данные после объекта", errInvalidJSON)
	}
	return nil
}
