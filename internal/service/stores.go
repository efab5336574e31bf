package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mediblock/ehr-gateway/internal/domain/model"
	"github.com/mediblock/ehr-gateway/internal/ipfsclient"
	"github.com/mediblock/ehr-gateway/internal/recordclient"
)

// BlobStore — content-addressed хранилище шифртекстов (реализация — ipfsclient.Client).
type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, cid string) ([]byte, error)
	Unpin(ctx context.Context, cid string) error
}

// RecordStore — внешний реестр записей, пользователей и согласий
// (реализация — recordclient.Client).
type RecordStore interface {
	CreateRecord(ctx context.Context, in recordclient.CreateRecordRequest) (string, error)
	GetRecord(ctx context.Context, recordID string) (*model.UploadRecord, error)
	CreateUser(ctx context.Context, in recordclient.CreateUserRequest) (string, error)
	GetUser(ctx context.Context, userID string) (*model.User, error)
	GrantConsent(ctx context.Context, grant model.ConsentGrant) error
	RevokeConsent(ctx context.Context, in recordclient.RevokeConsentRequest) error
}

// Проверка соответствия клиентов интерфейсам на этапе компиляции.
var (
	_ BlobStore   = (*ipfsclient.Client)(nil)
	_ RecordStore = (*recordclient.Client)(nil)
)

// storageError переводит ошибку ipfsclient в ошибку сервисного слоя.
func storageError(op string, err error) error {
	if errors.Is(err, ipfsclient.ErrNotFound) {
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// recordServiceError переводит ошибку recordclient в ошибку сервисного слоя.
func recordServiceError(op string, err error) error {
	if errors.Is(err, recordclient.ErrNotFound) {
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrRecordService, err)
}
