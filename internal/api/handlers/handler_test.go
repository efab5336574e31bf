package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mediblock/ehr-gateway/internal/domain/model"
	"github.com/mediblock/ehr-gateway/internal/envelope"
	"github.com/mediblock/ehr-gateway/internal/ipfsclient"
	"github.com/mediblock/ehr-gateway/internal/recordclient"
	"github.com/mediblock/ehr-gateway/internal/service"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Mock IPFS ---

// mockIPFS — in-memory IPFS RPC API (/api/v0/add, /api/v0/cat, /api/v0/pin/rm).
type mockIPFS struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	nextCID  string
	addCalls int
	failAdd  bool
	failCat  bool
}

func (m *mockIPFS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch r.URL.Path {
	case "/api/v0/add":
		m.addCalls++
		if m.failAdd {
			writeRPCError(w, http.StatusInternalServerError, "add failed")
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeRPCError(w, http.StatusBadRequest, "file argument required")
			return
		}
		data, _ := io.ReadAll(file)
		cid := m.nextCID
		if cid == "" {
			cid = fmt.Sprintf("Qm%d", len(m.blobs)+1)
		}
		m.blobs[cid] = data
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"Name":"encrypted_file","Hash":%q,"Size":"%d"}`, cid, len(data))
	case "/api/v0/cat":
		if m.failCat {
			writeRPCError(w, http.StatusBadGateway, "upstream failure")
			return
		}
		cid := r.URL.Query().Get("arg")
		data, ok := m.blobs[cid]
		if !ok {
			writeRPCError(w, http.StatusInternalServerError, "block was not found locally (offline): ipld: could not find "+cid)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(data)
	case "/api/v0/pin/rm":
		delete(m.blobs, r.URL.Query().Get("arg"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Pins":[]}`))
	default:
		writeRPCError(w, http.StatusNotFound, "command not found")
	}
}

// writeRPCError пишет ошибку в формате Kubo RPC.
func writeRPCError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"Message": message, "Code": 0, "Type": "error"})
}

// --- Mock Record Service ---

// mockRecordService — in-memory Record Service (/api/records, /api/users, /api/consent).
type mockRecordService struct {
	mu             sync.Mutex
	records        map[string]model.UploadRecord
	users          map[string]model.User
	grants         []model.ConsentGrant
	revokes        int
	nextRecordID   string
	nextUserID     string
	createStatus   int
	consentStatus  int
	getRecordCalls int
}

func (m *mockRecordService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	switch {
	case path == "/api/records" && r.Method == http.MethodPost:
		if m.createStatus != 0 {
			w.WriteHeader(m.createStatus)
			return
		}
		var rec model.UploadRecord
		_ = json.NewDecoder(r.Body).Decode(&rec)
		rec.RecordID = m.nextRecordID
		if rec.RecordID == "" {
			rec.RecordID = fmt.Sprintf("r%d", len(m.records)+1)
		}
		m.records[rec.RecordID] = rec
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"recordId": rec.RecordID})

	case strings.HasPrefix(path, "/api/records/") && r.Method == http.MethodGet:
		m.getRecordCalls++
		rec, ok := m.records[strings.TrimPrefix(path, "/api/records/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"record not found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(rec)

	case path == "/api/users" && r.Method == http.MethodPost:
		var u model.User
		_ = json.NewDecoder(r.Body).Decode(&u)
		u.UserID = m.nextUserID
		if u.UserID == "" {
			u.UserID = fmt.Sprintf("u%d", len(m.users)+1)
		}
		m.users[u.UserID] = u
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"userId": u.UserID})

	case strings.HasPrefix(path, "/api/users/") && r.Method == http.MethodGet:
		u, ok := m.users[strings.TrimPrefix(path, "/api/users/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(u)

	case path == "/api/consent":
		if m.consentStatus != 0 {
			w.WriteHeader(m.consentStatus)
			return
		}
		if r.Method == http.MethodPost {
			var g model.ConsentGrant
			_ = json.NewDecoder(r.Body).Decode(&g)
			m.grants = append(m.grants, g)
		} else {
			m.revokes++
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// --- Тестовое окружение ---

type testEnv struct {
	router  http.Handler
	ipfs    *mockIPFS
	rs      *mockRecordService
	orphans *service.OrphanReporter
}

// newTestEnv поднимает mock IPFS и Record Service и собирает gateway поверх них.
func newTestEnv(t *testing.T, mode string, maxUpload int64) *testEnv {
	t.Helper()

	ipfs := &mockIPFS{blobs: make(map[string][]byte)}
	rs := &mockRecordService{records: make(map[string]model.UploadRecord), users: make(map[string]model.User)}
	ipfsServer := httptest.NewServer(ipfs)
	t.Cleanup(ipfsServer.Close)
	rsServer := httptest.NewServer(rs)
	t.Cleanup(rsServer.Close)

	logger := testLogger()
	ipfsClient, err := ipfsclient.New(ipfsServer.URL+"/api/v0", "", 5*time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}
	rsClient, err := recordclient.New(rsServer.URL+"/api", "", 5*time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}
	wrapper, err := envelope.NewKeyWrapper(mode)
	if err != nil {
		t.Fatal(err)
	}

	orphans := service.NewOrphanReporter(ipfsClient, false, time.Second, logger)
	records := service.NewRecordService(ipfsClient, rsClient, wrapper,
		service.NewCacheService(100, time.Minute), orphans, maxUpload, logger)
	users := service.NewUserService(rsClient, wrapper, logger)
	consent := service.NewConsentService(rsClient, logger)

	h := NewAPIHandler(NewHealthHandler(nil), records, users, consent, maxUpload, logger)
	router := chi.NewRouter()
	h.Routes(router)

	return &testEnv{router: router, ipfs: ipfs, rs: rs, orphans: orphans}
}

// do выполняет запрос к gateway и возвращает код и декодированное JSON-тело.
func (e *testEnv) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("ответ не JSON: %v (%s)", err, rec.Body.String())
		}
	}
	return rec.Code, body
}

// uploadRequest собирает multipart POST /api/upload.
// Пустые file/patientID не добавляются в форму.
func uploadRequest(t *testing.T, file []byte, patientID string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if file != nil {
		fw, err := mw.CreateFormFile("file", "report.pdf")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(file)
	}
	if patientID != "" {
		_ = mw.WriteField("patientId", patientID)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// --- Тесты ---

func TestAPIHealth(t *testing.T) {
	env := newTestEnv(t, envelope.ModePlaintext, 1<<20)

	code, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("GET /api/health = %d %v", code, body)
	}
}

// TestUpload_Scenario — файл "hello", IPFS отдаёт Qm123, Record Service — r1.
func TestUpload_Scenario(t *testing.T) {
	env := newTestEnv(t, envelope.ModePlaintext, 1<<20)
	env.ipfs.nextCID = "Qm123"
	env.rs.nextRecordID = "r1"

	code, body := env.do(t, uploadRequest(t, []byte("hello"), "p1"))
	if code != http.StatusCreated {
		t.Fatalf("статус = %d, ожидался 201 (%v)", code, body)
	}
	want := map[string]any{
		"recordId": "r1",
		"hashCID":  "Qm123",
		"status":   "Record uploaded and stored on blockchain",
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, ожидалось %v", k, body[k], v)
		}
	}
	if len(body) != len(want) {
		t.Errorf("лишние поля в ответе: %v", body)
	}

	stored := env.rs.records["r1"]
	if stored.PatientID != "p1" || stored.HashCID != "Qm123" || stored.EncryptedSymKey == "" {
		t.Errorf("запись в Record Service = %+v", stored)
	}
	if bytes.Contains(env.ipfs.blobs["Qm123"], []byte("hello")) {
		t.Error("в IPFS попал открытый текст")
	}
}

func TestUpload_Validation(t *testing.T) {
	env := newTestEnv(t, envelope.ModePlaintext, 1<<20)

	tests := []struct {
		name    string
		req     *http.Request
		message string
	}{
		{"no_file", uploadRequest(t, nil, "p1"), "No file provided"},
		{"no_patient", uploadRequest(t, []byte("hello"), ""), "Patient ID required"},
		{"not_multipart", jsonRequest(http.MethodPost, "/api/upload", `{}`), "No file provided"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, tt.req)
			if code != http.StatusBadRequest {
				t.Errorf("статус = %d, ожидался 400", code)
			}
			if body["error"] != tt.message {
				t.Errorf("error = %v, ожидалось %q", body["error"], tt.message)
			}
		})
	}
	if env.ipfs.addCalls != 0 {
		t.Errorf("IPFS вызван %d раз при невалидных запросах", env.ipfs.addCalls)
	}
}

// TestUpload_StorageFailure — IPFS 500 → 500, запись не создаётся.
func TestUpload_StorageFailure(t *testing.T) {
	env := newTestEnv(t, envelope.ModePlaintext, 1<<20)
	env.ipfs.failAdd = true

	code, body := env.do(t, uploadRequest(t, []byte("hello"), "p1"))
	if code != http.StatusInternalServerError || body["error"] != "Failed to upload to IPFS" {
		t.Errorf("ответ = %d %v", code, body)
	}
	if len(env.rs.records) != 0 {
		t.Errorf("создано записей: %d, ожидалось 0", len(env.rs.records))
	}
}

// TestUpload_RecordServiceFailure — Record Service не 201 → 500, объект в IPFS остаётся.
func TestUpload_RecordServiceFailure(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusBadRequest, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			env := newTestEnv(t, envelope.ModePlaintext, 1<<20)
			env.rs.createStatus = status

			code, body := env.do(t, uploadRequest(t, []byte("hello"), "p1"))
			if code != http.StatusInternalServerError || body["error"] != "Failed to record on blockchain" {
				t.Errorf("ответ = %d %v", code, body)
			}
			env.orphans.Wait()
			if len(env.ipfs.blobs) != 1 {
				t.Errorf("объектов в IPFS: %d, ожидался 1 (откат не выполняется)", len(env.ipfs.blobs))
			}
		})
	}
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestEnv(t, envelope.ModePlaintext, 1024)

	code, body := env.do(t, uploadRequest(t, bytes.Repeat([]byte("x"), 4096), "p1"))
	if code != http.StatusRequestEntityTooLarge {
		t.Errorf("статус = %d, ожидался 413 (%v)", code, body)
	}
	if env.ipfs.addCalls != 0 {
		t.Error("файл сверх лимита дошёл до IPFS")
	}
}

// TestRetrieve_RoundTrip — загрузка и получение: размер расшифрованного файла.
func TestRetrieve_RoundTrip(t *testing.T) {
	env := newTestEnv(t, envelope.ModePlaintext, 1<<20)

	code, up := env.do(t, uploadRequest(t, []byte("hello world"), "p1"))
	if code != http.StatusCreated {
		t.Fatalf("upload = %d %v", code, up)
	}
	recordID := up["recordId"].(string)

	code, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/retrieve/"+recordID, nil))
	if code != http.StatusOK {
		t.Fatalf("retrieve = %d %v", code, body)
	}
	if body["recordId"] != recordID || body["patientId"] != "p1" ||
		body["fileSize"] != float64(11) || body["status"] != "Record retrieved and decrypted successfully" {
		t.Errorf("ответ = %v", body)
	}

	// Повторное получение — метаданные из кэша
	env.do(t, httptest.NewRequest(http.MethodGet, "/api/retrieve/"+recordID, nil))
	if env.rs.getRecordCalls != 1 {
		t.Errorf("GET /records вызван %d раз, ожидался 1", env.rs.getRecordCalls)
	}
}

func TestRetrieve_Errors(t *testing.T) {
	t.Run("record_not_found", func(t *testing.T) {
		env := newTestEnv(t, envelope.ModePlaintext, 1<<20)
		code, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/retrieve/missing", nil))
		if code != http.StatusNotFound || body["error"] != "Record not found" {
			t.Errorf("ответ = %d %v", code, body)
		}
	})

	t.Run("ipfs_unavailable", func(t *testing.T) {
		env := newTestEnv(t, envelope.ModePlaintext, 1<<20)
		_, up := env.do(t, uploadRequest(t, []byte("hello"), "p1"))
		env.ipfs.failCat = true
		code, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/retrieve/"+up["recordId"].(string), nil))
		if code != http.StatusInternalServerError || body["error"] != "Failed to retrieve file from IPFS" {
			t.Errorf("ответ = %d %v", code, body)
		}
	})

	t.Run("decryption", func(t *testing.T) {
		env := newTestEnv(t, envelope.ModePlaintext, 1<<20)
		_, up := env.do(t, uploadRequest(t, []byte("hello"), "p1"))
		// Подменяем ключ записи
		rec := env.rs.records[up["recordId"].(string)]
		other, _ := envelope.NewKey()
		rec.EncryptedSymKey = other.String()
		env.rs.records[rec.RecordID] = rec

		code, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/retrieve/"+rec.RecordID, nil))
		if code != http.StatusInternalServerError || body["error"] != "Failed to decrypt record" {
			t.Errorf("ответ = %d %v", code, body)
		}
	})
}

var alnum32 = regexp.MustCompile(`^[A-Za-z0-9]{32}$`)

// TestRegisterUser_Scenario — Alice/patient → 201 u1 с приватным ключом из 32 символов.
func TestRegisterUser_Scenario(t *testing.T) {
	env := newTestEnv(t, envelope.ModePlaintext, 1<<20)
	env.rs.nextUserID = "u1"

	code, body := env.do(t, jsonRequest(http.MethodPost, "/api/users", `{"name":"Alice","role":"patient"}`))
	if code != http.StatusCreated {
		t.Fatalf("статус = %d, ожидался 201 (%v)", code, body)
	}
	if body["userId"] != "u1" || body["status"] != "User registered successfully" {
		t.Errorf("ответ = %v", body)
	}
	key, _ := body["privateKey"].(string)
	if !alnum32.MatchString(key) {
		t.Errorf("privateKey = %q, ожидалось 32 алфавитно-цифровых символа", key)
	}
}

func TestRegisterUser_Errors(t *testing.T) {
	env := newTestEnv(t, envelope.ModePlaintext, 1<<20)

	tests := []struct {
		name, body, message string
	}{
		{"no_role", `{"name":"Alice"}`, "Name and role are required"},
		{"empty_name", `{"name":"","role":"patient"}`, "Name and role are required"},
		{"empty_body", ``, "Name and role are required"},
		{"bad_role", `{"name":"Alice","role":"admin"}`, "Role must be patient or provider"},
		{"bad_json", `{"name":`, "Invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, jsonRequest(http.MethodPost, "/api/users", tt.body))
			if code != http.StatusBadRequest || body["error"] != tt.message {
				t.Errorf("ответ = %d %v, ожидалось 400 %q", code, body, tt.message)
			}
		})
	}
	if len(env.rs.users) != 0 {
		t.Error("невалидные запросы дошли до Record Service")
	}
}

// TestConsent_DefaultExpiry — без expiryInDays в Record Service уходит 30.
func TestConsent_DefaultExpiry(t *testing.T) {
	env := newTestEnv(t, envelope.ModePlaintext, 1<<20)

	code, body := env.do(t, jsonRequest(http.MethodPost, "/api/consent",
		`{"patientId":"p1","recordId":"r1","providerId":"dr1"}`))
	if code != http.StatusOK || body["status"] != "Consent granted successfully" {
		t.Fatalf("ответ = %d %v", code, body)
	}
	if len(env.rs.grants) != 1 || env.rs.grants[0].ExpiryInDays != 30 {
		t.Errorf("grants = %+v, ожидался expiryInDays=30", env.rs.grants)
	}

	env.do(t, jsonRequest(http.MethodPost, "/api/consent",
		`{"patientId":"p1","recordId":"r1","providerId":"dr1","expiryInDays":90}`))
	if env.rs.grants[1].ExpiryInDays != 90 {
		t.Errorf("expiryInDays = %d, ожидалось 90", env.rs.grants[1].ExpiryInDays)
	}
}

func TestConsent_Errors(t *testing.T) {
	env := newTestEnv(t, envelope.ModePlaintext, 1<<20)

	code, body := env.do(t, jsonRequest(http.MethodPost, "/api/consent", `{"patientId":"p1","recordId":"r1"}`))
	if code != http.StatusBadRequest || body["error"] != "Patient ID, Record ID, and Provider ID are required" {
		t.Errorf("grant без providerId = %d %v", code, body)
	}

	code, _ = env.do(t, jsonRequest(http.MethodPost, "/api/consent",
		`{"patientId":"p1","recordId":"r1","providerId":"dr1","expiryInDays":-1}`))
	if code != http.StatusBadRequest {
		t.Errorf("отрицательный срок: статус = %d, ожидался 400", code)
	}

	code, _ = env.do(t, jsonRequest(http.MethodDelete, "/api/consent", `{"recordId":"r1","providerId":"dr1"}`))
	if code != http.StatusBadRequest {
		t.Errorf("revoke без patientId: статус = %d, ожидался 400", code)
	}

	env.rs.consentStatus = http.StatusInternalServerError
	code, body = env.do(t, jsonRequest(http.MethodPost, "/api/consent",
		`{"patientId":"p1","recordId":"r1","providerId":"dr1"}`))
	if code != http.StatusInternalServerError || body["error"] != "Failed to grant consent" {
		t.Errorf("grant при ошибке Record Service = %d %v", code, body)
	}
	code, body = env.do(t, jsonRequest(http.MethodDelete, "/api/consent",
		`{"patientId":"p1","recordId":"r1","providerId":"dr1"}`))
	if code != http.StatusInternalServerError || body["error"] != "Failed to revoke consent" {
		t.Errorf("revoke при ошибке Record Service = %d %v", code, body)
	}
}

func TestConsent_Revoke(t *testing.T) {
	env := newTestEnv(t, envelope.ModePlaintext, 1<<20)

	code, body := env.do(t, jsonRequest(http.MethodDelete, "/api/consent",
		`{"patientId":"p1","recordId":"r1","providerId":"dr1"}`))
	if code != http.StatusOK || body["status"] != "Consent revoked successfully" {
		t.Errorf("ответ = %d %v", code, body)
	}
	if env.rs.revokes != 1 {
		t.Errorf("revokes = %d, ожидался 1", env.rs.revokes)
	}
}

// TestSealedMode — регистрация, загрузка и получение с приватным ключом.
func TestSealedMode(t *testing.T) {
	env := newTestEnv(t, envelope.ModeSealed, 1<<20)

	code, body := env.do(t, uploadRequest(t, []byte("hello"), "p-unknown"))
	if code != http.StatusBadRequest || body["error"] != "Patient not registered" {
		t.Fatalf("загрузка для незарегистрированного пациента = %d %v", code, body)
	}

	_, user := env.do(t, jsonRequest(http.MethodPost, "/api/users", `{"name":"Alice","role":"patient"}`))
	patientID := user["userId"].(string)
	privateKey := user["privateKey"].(string)

	code, up := env.do(t, uploadRequest(t, []byte("hello"), patientID))
	if code != http.StatusCreated {
		t.Fatalf("upload = %d %v", code, up)
	}
	path := "/api/retrieve/" + up["recordId"].(string)

	code, body = env.do(t, httptest.NewRequest(http.MethodGet, path, nil))
	if code != http.StatusBadRequest || body["error"] != "Private key required" {
		t.Errorf("без ключа = %d %v", code, body)
	}

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(PrivateKeyHeader, privateKey)
	code, body = env.do(t, req)
	if code != http.StatusOK || body["fileSize"] != float64(5) {
		t.Errorf("с ключом = %d %v", code, body)
	}
}

// TestRetrieve_BlobMissing — Kubo отвечает "not found" на cat → 404.
func TestRetrieve_BlobMissing(t *testing.T) {
	env := newTestEnv(t, envelope.ModePlaintext, 1<<20)

	_, up := env.do(t, uploadRequest(t, []byte("hello"), "p1"))
	env.ipfs.blobs = make(map[string][]byte)

	code, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/retrieve/"+up["recordId"].(string), nil))
	if code != http.StatusNotFound || body["error"] != "Record not found" {
		t.Errorf("ответ = %d %v", code, body)
	}
}
