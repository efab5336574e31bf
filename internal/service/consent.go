// consent.go — выдача и отзыв согласий на доступ к записи.
// Срок действия и права проверяет Record Service, gateway только передаёт запрос.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mediblock/ehr-gateway/internal/domain/model"
	"github.com/mediblock/ehr-gateway/internal/recordclient"
)

// ConsentRequest — параметры согласия.
// ExpiryInDays == nil — используется model.DefaultConsentExpiryDays.
type ConsentRequest struct {
	PatientID    string
	RecordID     string
	ProviderID   string
	ExpiryInDays *int
}

func (r ConsentRequest) validate() error {
	if r.PatientID == "" || r.RecordID == "" || r.ProviderID == "" {
		return fmt.Errorf("%w: требуются patientId, recordId и providerId", ErrValidation)
	}
	return nil
}

// ConsentService — сервис согласий.
type ConsentService struct {
	records RecordStore
	logger  *slog.Logger
}

// NewConsentService создаёт сервис согласий.
func NewConsentService(records RecordStore, logger *slog.Logger) *ConsentService {
	return &ConsentService{
		records: records,
		logger:  logger.With(slog.String("component", "consent_service")),
	}
}

// Grant выдаёт врачу доступ к записи пациента.
func (s *ConsentService) Grant(ctx context.Context, req ConsentRequest) error {
	if err := req.validate(); err != nil {
		return err
	}

	expiry := model.DefaultConsentExpiryDays
	if req.ExpiryInDays != nil {
		if *req.ExpiryInDays < 0 {
			return ErrInvalidExpiry
		}
		expiry = *req.ExpiryInDays
	}

	err := s.records.GrantConsent(ctx, model.ConsentGrant{
		PatientID:    req.PatientID,
		RecordID:     req.RecordID,
		ProviderID:   req.ProviderID,
		ExpiryInDays: expiry,
	})
	if err != nil {
		return fmt.Errorf("выдача согласия: %w: %w", ErrRecordService, err)
	}

	s.logger.Info("Согласие выдано",
		slog.String("patient_id", req.PatientID),
		slog.String("record_id", req.RecordID),
		slog.String("provider_id", req.ProviderID),
		slog.Int("expiry_days", expiry),
	)
	return nil
}

// Revoke отзывает доступ врача к записи.
func (s *ConsentService) Revoke(ctx context.Context, req ConsentRequest) error {
	if err := req.validate(); err != nil {
		return err
	}

	err := s.records.RevokeConsent(ctx, recordclient.RevokeConsentRequest{
		PatientID:  req.PatientID,
		RecordID:   req.RecordID,
		ProviderID: req.ProviderID,
	})
	if err != nil {
		return fmt.Errorf("отзыв согласия: %w: %w", ErrRecordService, err)
	}

	s.logger.Info("Согласие отозвано",
		slog.String("patient_id", req.PatientID),
		slog.String("record_id", req.RecordID),
		slog.String("provider_id", req.ProviderID),
	)
	return nil
}
