// Пакет ipfsclient — клиент IPFS RPC API (content-addressed хранилище) поверх go-ipfs-api.
// Операции: Put (add), Get (cat), Unpin (pin/rm).
// Поддерживает TLS с кастомным CA (GW_IPFS_CA_CERT_PATH). Без повторов.
package ipfsclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
)

// Ошибки клиента.
var (
	// ErrNotFound — IPFS не знает запрошенный CID.
	ErrNotFound = errors.New("объект не найден в IPFS")
	// ErrUnavailable — IPFS недоступен или вернул неуспешный ответ.
	ErrUnavailable = errors.New("IPFS недоступен")
)

const (
	// uploadFilename — имя файла в multipart-запросе add.
	uploadFilename = "encrypted_file"
	// apiPrefix — префикс RPC API, который go-ipfs-api добавляет сам.
	apiPrefix = "/api/v0"
	// rpcErrNotFound — код ошибки "not found" в ответах Kubo RPC (cmds.ErrNotFound).
	rpcErrNotFound = 3
)

// Client — клиент IPFS RPC API.
type Client struct {
	sh     *shell.Shell
	logger *slog.Logger
}

// New создаёт IPFS-клиент.
// apiURL — URL API, с префиксом /api/v0 или без него (http://ipfs:5001/api/v0).
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// timeout — таймаут одного запроса (GW_IPFS_TIMEOUT).
func New(apiURL, caCertPath string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата IPFS: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат IPFS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}

	return &Client{
		sh:     shell.NewShellWithClient(shellURL(apiURL), httpClient),
		logger: logger.With(slog.String("component", "ipfs_client")),
	}, nil
}

// shellURL приводит URL API к виду, который ожидает shell: без /api/v0 на конце.
func shellURL(apiURL string) string {
	base := strings.TrimRight(apiURL, "/")
	return strings.TrimSuffix(base, apiPrefix)
}

// Put загружает data в IPFS и возвращает CID.
// add с multipart-полем "file". Успех — только ответ с непустым Hash.
func (c *Client) Put(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", uploadFilename)
	if err != nil {
		return "", fmt.Errorf("создание multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("запись multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("закрытие multipart: %w", err)
	}

	var addResp struct {
		Name string `json:"Name"`
		Hash string `json:"Hash"`
		Size string `json:"Size"`
	}
	err = c.sh.Request("add").
		Header("Content-Type", mw.FormDataContentType()).
		Body(&body).
		Exec(ctx, &addResp)
	if err != nil {
		return "", classify("add", "", err)
	}
	if addResp.Hash == "" {
		return "", fmt.Errorf("%w: пустой Hash в ответе add", ErrUnavailable)
	}

	c.logger.Debug("Объект загружен в IPFS",
		slog.String("cid", addResp.Hash),
		slog.Int("bytes", len(data)),
	)

	return addResp.Hash, nil
}

// Get скачивает объект по CID (cat).
// Ошибка Kubo "not found" — ErrNotFound, прочие ошибки — ErrUnavailable.
// Соответствие байтов CID не проверяется.
func (c *Client) Get(ctx context.Context, cid string) ([]byte, error) {
	resp, err := c.sh.Request("cat", cid).Send(ctx)
	if err != nil {
		return nil, classify("cat", cid, err)
	}
	defer resp.Close()

	if resp.Error != nil {
		return nil, classify("cat", cid, resp.Error)
	}

	data, err := io.ReadAll(resp.Output)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение ответа cat для %s: %w", ErrUnavailable, cid, err)
	}
	return data, nil
}

// Unpin снимает pin с объекта (pin/rm).
// Используется только при очистке осиротевших объектов.
func (c *Client) Unpin(ctx context.Context, cid string) error {
	if err := c.sh.Request("pin/rm", cid).Exec(ctx, nil); err != nil {
		return classify("pin/rm", cid, err)
	}
	return nil
}

// classify маппит ошибку shell в ErrNotFound или ErrUnavailable.
// "command not found" (HTTP 404) означает неверный URL API, а не отсутствие объекта.
func classify(cmd, cid string, err error) error {
	var rpcErr *shell.Error
	if errors.As(err, &rpcErr) && isNotFound(rpcErr) {
		return fmt.Errorf("%w: %s: %s", ErrNotFound, cmd, cid)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, cmd, cid, err)
}

func isNotFound(e *shell.Error) bool {
	if e.Code == rpcErrNotFound {
		return true
	}
	msg := strings.ToLower(e.Message)
	return msg != "command not found" && strings.Contains(msg, "not found")
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
