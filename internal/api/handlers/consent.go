// consent.go — обработчики POST и DELETE /api/consent.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/mediblock/ehr-gateway/internal/api/errors"
	"github.com/mediblock/ehr-gateway/internal/service"
)

// GrantConsent — POST /api/consent. expiryInDays по умолчанию 30.
func (h *APIHandler) GrantConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, "Invalid JSON body")
		return
	}

	err := h.consent.Grant(r.Context(), service.ConsentRequest{
		PatientID:    req.PatientID,
		RecordID:     req.RecordID,
		ProviderID:   req.ProviderID,
		ExpiryInDays: req.ExpiryInDays,
	})
	if err != nil {
		h.writeConsentError(w, req, err, "Failed to grant consent")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: statusConsentGranted})
}

// RevokeConsent — DELETE /api/consent (JSON-тело).
func (h *APIHandler) RevokeConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, "Invalid JSON body")
		return
	}

	err := h.consent.Revoke(r.Context(), service.ConsentRequest{
		PatientID:  req.PatientID,
		RecordID:   req.RecordID,
		ProviderID: req.ProviderID,
	})
	if err != nil {
		h.writeConsentError(w, req, err, "Failed to revoke consent")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: statusConsentRevoked})
}

// writeConsentError маппит ошибку согласия в HTTP-ответ.
func (h *APIHandler) writeConsentError(w http.ResponseWriter, req consentRequest, err error, failMsg string) {
	switch {
	case errors.Is(err, service.ErrInvalidExpiry):
		apierrors.ValidationError(w, "expiryInDays must not be negative")
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, "Patient ID, Record ID, and Provider ID are required")
	default:
		h.logger.Error("Ошибка операции с согласием",
			slog.String("patient_id", req.PatientID),
			slog.String("record_id", req.RecordID),
			slog.String("provider_id", req.ProviderID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, failMsg)
	}
}
