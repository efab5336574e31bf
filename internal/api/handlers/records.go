// records.go — обработчики POST /api/upload и GET /api/retrieve/{recordId}.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/mediblock/ehr-gateway/internal/api/errors"
	"github.com/mediblock/ehr-gateway/internal/service"
)

// PrivateKeyHeader — заголовок с приватным ключом пациента (режим sealed).
const PrivateKeyHeader = "X-Private-Key"

// multipartMemory — часть multipart-формы, хранимая в памяти; остальное — во временных файлах.
const multipartMemory = 8 << 20

// UploadRecord — POST /api/upload (multipart: file, patientId).
func (h *APIHandler) UploadRecord(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			apierrors.FileTooLarge(w, "File exceeds maximum upload size")
			return
		}
		apierrors.ValidationError(w, "No file provided")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "No file provided")
		return
	}
	defer file.Close()

	patientID := r.FormValue("patientId")
	if patientID == "" {
		apierrors.ValidationError(w, "Patient ID required")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		if isTooLarge(err) {
			apierrors.FileTooLarge(w, "File exceeds maximum upload size")
			return
		}
		h.logger.Error("Ошибка чтения загружаемого файла",
			slog.String("patient_id", patientID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Failed to read uploaded file")
		return
	}

	result, err := h.records.Upload(r.Context(), patientID, data)
	if err != nil {
		h.writeUploadError(w, patientID, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		RecordID: result.RecordID,
		HashCID:  result.HashCID,
		Status:   statusUploaded,
	})
}

// writeUploadError маппит ошибку загрузки в HTTP-ответ.
func (h *APIHandler) writeUploadError(w http.ResponseWriter, patientID string, err error) {
	switch {
	case errors.Is(err, service.ErrTooLarge):
		apierrors.FileTooLarge(w, "File exceeds maximum upload size")
		return
	case errors.Is(err, service.ErrPatientNotRegistered):
		apierrors.ValidationError(w, "Patient not registered")
		return
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, "Patient ID required")
		return
	}

	h.logger.Error("Ошибка загрузки записи",
		slog.String("patient_id", patientID),
		slog.String("error", err.Error()),
	)
	switch {
	case errors.Is(err, service.ErrStorageUnavailable):
		apierrors.InternalError(w, "Failed to upload to IPFS")
	case errors.Is(err, service.ErrRecordService):
		apierrors.InternalError(w, "Failed to record on blockchain")
	default:
		apierrors.InternalError(w, "Failed to process upload")
	}
}

// RetrieveRecord — GET /api/retrieve/{recordId}.
// В режиме sealed приватный ключ передаётся в заголовке X-Private-Key.
func (h *APIHandler) RetrieveRecord(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "recordId")

	result, err := h.records.Retrieve(r.Context(), recordID, r.Header.Get(PrivateKeyHeader))
	if err != nil {
		h.writeRetrieveError(w, recordID, err)
		return
	}

	writeJSON(w, http.StatusOK, retrieveResponse{
		RecordID:  result.RecordID,
		PatientID: result.PatientID,
		FileSize:  len(result.Plaintext),
		Status:    statusRetrieved,
	})
}

// writeRetrieveError маппит ошибку получения записи в HTTP-ответ.
func (h *APIHandler) writeRetrieveError(w http.ResponseWriter, recordID string, err error) {
	switch {
	case errors.Is(err, service.ErrPrivateKeyRequired):
		apierrors.ValidationError(w, "Private key required")
		return
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, "Record ID required")
		return
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Record not found")
		return
	}

	h.logger.Error("Ошибка получения записи",
		slog.String("record_id", recordID),
		slog.String("error", err.Error()),
	)
	switch {
	case errors.Is(err, service.ErrRecordService):
		apierrors.InternalError(w, "Failed to retrieve record from blockchain")
	case errors.Is(err, service.ErrStorageUnavailable):
		apierrors.InternalError(w, "Failed to retrieve file from IPFS")
	case errors.Is(err, service.ErrDecryption):
		apierrors.InternalError(w, "Failed to decrypt record")
	default:
		apierrors.InternalError(w, "Failed to retrieve record")
	}
}

// isTooLarge — тело запроса превысило лимит http.MaxBytesReader.
func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge)
}
