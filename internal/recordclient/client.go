// Пакет recordclient — HTTP-клиент Record Service (реестр записей, пользователей
// и согласий поверх блокчейна). Синхронные запросы без повторов и ключей идемпотентности:
// повторный вызов может создать дубликат.
package recordclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mediblock/ehr-gateway/internal/domain/model"
)

// Ошибки клиента.
var (
	// ErrNotFound — Record Service ответил 404.
	ErrNotFound = errors.New("не найдено в Record Service")
	// ErrUnexpectedStatus — Record Service вернул неожиданный статус.
	ErrUnexpectedStatus = errors.New("неожиданный статус Record Service")
	// ErrUnavailable — Record Service недоступен (сеть, таймаут, некорректный ответ).
	ErrUnavailable = errors.New("Record Service недоступен")
)

// CreateRecordRequest — тело POST /records.
type CreateRecordRequest struct {
	PatientID       string `json:"patientId"`
	HashCID         string `json:"hashCID"`
	EncryptedSymKey string `json:"encryptedSymKey"`
}

// CreateUserRequest — тело POST /users.
type CreateUserRequest struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	PublicKey string `json:"publicKey"`
}

// RevokeConsentRequest — тело DELETE /consent.
type RevokeConsentRequest struct {
	PatientID  string `json:"patientId"`
	RecordID   string `json:"recordId"`
	ProviderID string `json:"providerId"`
}

// Client — HTTP-клиент Record Service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// New создаёт клиент Record Service.
// baseURL — базовый URL API (например, http://go-service:8081/api).
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// timeout — таймаут одного запроса (GW_RECORD_SERVICE_TIMEOUT).
func New(baseURL, caCertPath string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата Record Service: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат Record Service добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger.With(slog.String("component", "record_client")),
	}, nil
}

// CreateRecord регистрирует запись о загруженном файле и возвращает recordId.
// POST /records, успех — 201.
func (c *Client) CreateRecord(ctx context.Context, in CreateRecordRequest) (string, error) {
	var out struct {
		RecordID string `json:"recordId"`
	}
	if err := c.do(ctx, http.MethodPost, "/records", in, http.StatusCreated, &out); err != nil {
		return "", fmt.Errorf("CreateRecord: %w", err)
	}
	return out.RecordID, nil
}

// GetRecord возвращает метаданные записи.
// GET /records/{id}, успех — 200, 404 — ErrNotFound.
func (c *Client) GetRecord(ctx context.Context, recordID string) (*model.UploadRecord, error) {
	var rec model.UploadRecord
	if err := c.do(ctx, http.MethodGet, "/records/"+url.PathEscape(recordID), nil, http.StatusOK, &rec); err != nil {
		return nil, fmt.Errorf("GetRecord %s: %w", recordID, err)
	}
	if rec.RecordID == "" {
		rec.RecordID = recordID
	}
	return &rec, nil
}

// CreateUser регистрирует пользователя и возвращает userId.
// POST /users, успех — 201.
func (c *Client) CreateUser(ctx context.Context, in CreateUserRequest) (string, error) {
	var out struct {
		UserID string `json:"userId"`
	}
	if err := c.do(ctx, http.MethodPost, "/users", in, http.StatusCreated, &out); err != nil {
		return "", fmt.Errorf("CreateUser: %w", err)
	}
	return out.UserID, nil
}

// GetUser возвращает пользователя (нужен публичный ключ пациента в режиме sealed).
// GET /users/{id}, успех — 200, 404 — ErrNotFound.
func (c *Client) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var user model.User
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, http.StatusOK, &user); err != nil {
		return nil, fmt.Errorf("GetUser %s: %w", userID, err)
	}
	return &user, nil
}

// GrantConsent выдаёт врачу доступ к записи пациента.
// POST /consent, успех — 200.
func (c *Client) GrantConsent(ctx context.Context, grant model.ConsentGrant) error {
	if err := c.do(ctx, http.MethodPost, "/consent", grant, http.StatusOK, nil); err != nil {
		return fmt.Errorf("GrantConsent: %w", err)
	}
	return nil
}

// RevokeConsent отзывает доступ врача к записи.
// DELETE /consent с JSON-телом, успех — 200.
func (c *Client) RevokeConsent(ctx context.Context, in RevokeConsentRequest) error {
	if err := c.do(ctx, http.MethodDelete, "/consent", in, http.StatusOK, nil); err != nil {
		return fmt.Errorf("RevokeConsent: %w", err)
	}
	return nil
}

// do выполняет JSON-запрос и декодирует ответ в out (если out != nil).
// Статус, отличный от wantStatus, превращается в ErrNotFound (404) или ErrUnexpectedStatus.
func (c *Client) do(ctx context.Context, method, path string, in any, wantStatus int, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("сериализация запроса: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Ответ Record Service",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode != wantStatus {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
		}
		return fmt.Errorf("%w: %s %s вернул %d (ожидался %d): %s",
			ErrUnexpectedStatus, method, path, resp.StatusCode, wantStatus, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: декодирование ответа %s %s: %w", ErrUnavailable, method, path, err)
	}
	return nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}
