// errors.go — ошибки бизнес-логики сервисного слоя.
// Handlers маппят их в HTTP-статусы через errors.Is.
package service

import (
	"errors"
	"fmt"

	"github.com/mediblock/ehr-gateway/internal/envelope"
)

var (
	// ErrValidation — ошибка валидации входных данных (400).
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — запись или объект в IPFS не найдены (404).
	ErrNotFound = errors.New("ресурс не найден")
	// ErrStorageUnavailable — IPFS недоступен или вернул неуспешный ответ (500).
	ErrStorageUnavailable = errors.New("хранилище IPFS недоступно")
	// ErrRecordService — ошибка Record Service (500).
	ErrRecordService = errors.New("ошибка Record Service")
	// ErrDecryption — ключ не подходит к шифртексту (500).
	ErrDecryption = envelope.ErrDecryption
	// ErrTooLarge — тело загрузки превышает GW_MAX_UPLOAD_SIZE (413).
	ErrTooLarge = errors.New("файл превышает допустимый размер")
)

// Уточнения ErrValidation: errors.Is(err, ErrValidation) для них истинно.
var (
	// ErrInvalidRole — роль не patient и не provider.
	ErrInvalidRole = fmt.Errorf("%w: допустимые роли — patient, provider", ErrValidation)
	// ErrPatientNotRegistered — в режиме sealed пациент не найден в Record Service.
	ErrPatientNotRegistered = fmt.Errorf("%w: пациент не зарегистрирован", ErrValidation)
	// ErrPrivateKeyRequired — в режиме sealed не передан приватный ключ.
	ErrPrivateKeyRequired = fmt.Errorf("%w: требуется приватный ключ", ErrValidation)
	// ErrInvalidExpiry — отрицательный срок согласия.
	ErrInvalidExpiry = fmt.Errorf("%w: expiryInDays не может быть отрицательным", ErrValidation)
)
