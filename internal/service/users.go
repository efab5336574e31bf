// users.go — регистрация пациентов и врачей.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mediblock/ehr-gateway/internal/domain/model"
	"github.com/mediblock/ehr-gateway/internal/envelope"
	"github.com/mediblock/ehr-gateway/internal/recordclient"
)

// RegisteredUser — результат регистрации. PrivateKey возвращается клиенту
// один раз и нигде не сохраняется.
type RegisteredUser struct {
	UserID     string
	PrivateKey string
}

// UserService — регистрация пользователей в Record Service.
type UserService struct {
	records RecordStore
	wrapper envelope.KeyWrapper
	logger  *slog.Logger
}

// NewUserService создаёт сервис пользователей.
func NewUserService(records RecordStore, wrapper envelope.KeyWrapper, logger *slog.Logger) *UserService {
	return &UserService{
		records: records,
		wrapper: wrapper,
		logger:  logger.With(slog.String("component", "user_service")),
	}
}

// Register создаёт ключевую пару и регистрирует пользователя.
// В Record Service уходит только публичный ключ.
func (s *UserService) Register(ctx context.Context, name, role string) (*RegisteredUser, error) {
	if name == "" || role == "" {
		return nil, fmt.Errorf("%w: требуются name и role", ErrValidation)
	}
	if !model.ValidRole(role) {
		return nil, fmt.Errorf("роль %q: %w", role, ErrInvalidRole)
	}

	publicKey, privateKey, err := s.wrapper.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("генерация ключей (%s): %w", s.wrapper.Mode(), err)
	}

	userID, err := s.records.CreateUser(ctx, recordclient.CreateUserRequest{
		Name:      name,
		Role:      role,
		PublicKey: publicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("регистрация пользователя: %w: %w", ErrRecordService, err)
	}

	s.logger.Info("Пользователь зарегистрирован",
		slog.String("user_id", userID),
		slog.String("role", role),
		slog.String("key_wrap_mode", s.wrapper.Mode()),
	)

	return &RegisteredUser{UserID: userID, PrivateKey: privateKey}, nil
}
