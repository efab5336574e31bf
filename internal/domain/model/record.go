// Пакет model — доменные модели EHR Gateway.
// Все сущности принадлежат внешнему Record Service; gateway держит их
// только в рамках одного запроса (и в кэше метаданных записей).
package model

// Роли пользователей, которые принимает Record Service.
const (
	RolePatient  = "patient"
	RoleProvider = "provider"
)

// DefaultConsentExpiryDays — срок действия согласия, если клиент его не указал.
const DefaultConsentExpiryDays = 30

// UploadRecord — запись о загруженном файле (маппинг ответа GET /records/{id}).
type UploadRecord struct {
	// RecordID — идентификатор записи, выданный Record Service
	RecordID string `json:"recordId"`
	// PatientID — владелец записи
	PatientID string `json:"patientId"`
	// HashCID — content ID зашифрованного файла в IPFS
	HashCID string `json:"hashCID"`
	// EncryptedSymKey — обёрнутый симметричный ключ (в режиме plaintext — ключ как есть)
	EncryptedSymKey string `json:"encryptedSymKey"`
	// Timestamp — время создания записи на стороне Record Service (опционально)
	Timestamp string `json:"timestamp,omitempty"`
}

// User — пациент или врач, зарегистрированный в Record Service.
type User struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	PublicKey string `json:"publicKey"`
}

// ConsentGrant — ограниченное по времени разрешение врачу (providerId)
// на доступ к одной записи пациента. Проверка срока — на стороне Record Service.
type ConsentGrant struct {
	PatientID    string `json:"patientId"`
	RecordID     string `json:"recordId"`
	ProviderID   string `json:"providerId"`
	ExpiryInDays int    `json:"expiryInDays"`
}

// ValidRole проверяет, что роль известна Record Service.
func ValidRole(role string) bool {
	return role == RolePatient || role == RoleProvider
}
