// records.go — загрузка и получение медицинских записей.
//
// Upload: [sealed: GetUser] → Seal → Wrap(key) → IPFS Put → CreateRecord.
// Retrieve: GetRecord (кэш) → IPFS Get → Unwrap(key) → Open.
// Порядок шагов фиксирован: запись в IPFS всегда предшествует созданию записи.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mediblock/ehr-gateway/internal/envelope"
	"github.com/mediblock/ehr-gateway/internal/recordclient"
)

// Prometheus-метрики загрузки и получения записей.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_uploads_total",
		Help: "Общее количество загрузок (по результату).",
	}, []string{"status"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_upload_bytes_total",
		Help: "Общий объём принятых открытых данных в байтах.",
	})

	retrievalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_retrievals_total",
		Help: "Общее количество получений записей (по результату).",
	}, []string{"status"})

	pipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gw_pipeline_duration_seconds",
		Help:    "Длительность pipeline загрузки и получения записи.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation"})
)

// UploadResult — результат успешной загрузки.
type UploadResult struct {
	RecordID string
	HashCID  string
}

// RetrieveResult — результат успешного получения и расшифровки.
type RetrieveResult struct {
	RecordID  string
	PatientID string
	// Plaintext — расшифрованное содержимое файла.
	Plaintext []byte
}

// RecordService — сервис загрузки и получения зашифрованных записей.
type RecordService struct {
	blobs   BlobStore
	records RecordStore
	wrapper envelope.KeyWrapper
	cache   *CacheService
	orphans *OrphanReporter
	maxSize int64
	logger  *slog.Logger
}

// NewRecordService создаёт сервис записей.
// cache может быть nil (кэш выключен). maxSize — лимит открытых данных
// одной загрузки в байтах (0 — без лимита).
func NewRecordService(
	blobs BlobStore,
	records RecordStore,
	wrapper envelope.KeyWrapper,
	cache *CacheService,
	orphans *OrphanReporter,
	maxSize int64,
	logger *slog.Logger,
) *RecordService {
	return &RecordService{
		blobs:   blobs,
		records: records,
		wrapper: wrapper,
		cache:   cache,
		orphans: orphans,
		maxSize: maxSize,
		logger:  logger.With(slog.String("component", "record_service")),
	}
}

// Upload шифрует файл, сохраняет шифртекст в IPFS и регистрирует запись.
//
// Pipeline:
//  1. [sealed] получить публичный ключ пациента (GetUser)
//  2. Seal — одноразовый ключ + шифртекст
//  3. Wrap — упаковка ключа для пациента
//  4. IPFS Put → CID
//  5. CreateRecord → recordId
//
// Ошибка на шаге 5 не откатывает шаг 4: объект передаётся в OrphanReporter.
func (s *RecordService) Upload(ctx context.Context, patientID string, data []byte) (*UploadResult, error) {
	start := time.Now()
	defer func() { pipelineDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds()) }()

	if patientID == "" {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: не указан patientId", ErrValidation)
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		uploadsTotal.WithLabelValues("too_large").Inc()
		return nil, fmt.Errorf("%w: %d байт при лимите %d", ErrTooLarge, len(data), s.maxSize)
	}

	// 1. Публичный ключ пациента (только sealed)
	var recipientKey string
	if s.wrapper.RequiresRecipientKey() {
		user, err := s.records.GetUser(ctx, patientID)
		if err != nil {
			if errors.Is(err, recordclient.ErrNotFound) {
				uploadsTotal.WithLabelValues("invalid").Inc()
				return nil, fmt.Errorf("пациент %s: %w", patientID, ErrPatientNotRegistered)
			}
			uploadsTotal.WithLabelValues("record_service_error").Inc()
			return nil, recordServiceError("получение пациента", err)
		}
		recipientKey = user.PublicKey
	}

	// 2. Шифрование
	key, ciphertext, err := envelope.Seal(data)
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("шифрование файла: %w", err)
	}

	// 3. Упаковка ключа
	wrapped, err := s.wrapper.Wrap(key, recipientKey)
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("упаковка ключа (%s): %w", s.wrapper.Mode(), err)
	}

	// 4. IPFS
	cid, err := s.blobs.Put(ctx, ciphertext)
	if err != nil {
		uploadsTotal.WithLabelValues("storage_error").Inc()
		return nil, storageError("загрузка в IPFS", err)
	}

	s.logger.Debug("Шифртекст сохранён в IPFS",
		slog.String("patient_id", patientID),
		slog.String("cid", cid),
		slog.Int("bytes", len(ciphertext)),
	)

	// 5. Запись в Record Service
	recordID, err := s.records.CreateRecord(ctx, recordclient.CreateRecordRequest{
		PatientID:       patientID,
		HashCID:         cid,
		EncryptedSymKey: wrapped,
	})
	if err != nil {
		uploadsTotal.WithLabelValues("record_service_error").Inc()
		s.orphans.Report(ctx, cid, patientID, err)
		return nil, fmt.Errorf("создание записи: %w: %w", ErrRecordService, err)
	}

	uploadsTotal.WithLabelValues("success").Inc()
	uploadBytesTotal.Add(float64(len(data)))

	s.logger.Info("Запись загружена",
		slog.String("record_id", recordID),
		slog.String("patient_id", patientID),
		slog.String("cid", cid),
		slog.String("key_wrap_mode", s.wrapper.Mode()),
	)

	return &UploadResult{RecordID: recordID, HashCID: cid}, nil
}

// Retrieve получает запись, скачивает шифртекст и расшифровывает его.
// privateKey обязателен только в режиме sealed.
func (s *RecordService) Retrieve(ctx context.Context, recordID, privateKey string) (*RetrieveResult, error) {
	start := time.Now()
	defer func() { pipelineDuration.WithLabelValues("retrieve").Observe(time.Since(start).Seconds()) }()

	if recordID == "" {
		retrievalsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: не указан recordId", ErrValidation)
	}
	if s.wrapper.RequiresRecipientKey() && privateKey == "" {
		retrievalsTotal.WithLabelValues("invalid").Inc()
		return nil, ErrPrivateKeyRequired
	}

	// 1. Метаданные (кэш или Record Service)
	record, ok := s.cache.Get(recordID)
	if !ok {
		var err error
		record, err = s.records.GetRecord(ctx, recordID)
		if err != nil {
			err = recordServiceError("получение записи "+recordID, err)
			retrievalsTotal.WithLabelValues(statusLabel(err)).Inc()
			return nil, err
		}
		s.cache.Set(recordID, record)
	}

	// 2. Шифртекст из IPFS
	ciphertext, err := s.blobs.Get(ctx, record.HashCID)
	if err != nil {
		err = storageError("скачивание из IPFS", err)
		if errors.Is(err, ErrNotFound) {
			s.cache.Delete(recordID)
		}
		retrievalsTotal.WithLabelValues(statusLabel(err)).Inc()
		return nil, err
	}

	// 3-4. Ключ и расшифровка
	key, err := s.wrapper.Unwrap(record.EncryptedSymKey, privateKey)
	if err != nil {
		retrievalsTotal.WithLabelValues("decryption_error").Inc()
		return nil, fmt.Errorf("распаковка ключа записи %s: %w", recordID, err)
	}
	plaintext, err := envelope.Open(key, ciphertext)
	if err != nil {
		retrievalsTotal.WithLabelValues("decryption_error").Inc()
		return nil, fmt.Errorf("расшифровка записи %s: %w", recordID, err)
	}

	retrievalsTotal.WithLabelValues("success").Inc()
	s.logger.Debug("Запись расшифрована",
		slog.String("record_id", recordID),
		slog.Int("bytes", len(plaintext)),
	)

	return &RetrieveResult{
		RecordID:  recordID,
		PatientID: record.PatientID,
		Plaintext: plaintext,
	}, nil
}

// statusLabel — значение лейбла status для метрик по ошибке.
func statusLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_error"
	default:
		return "record_service_error"
	}
}
