// types.go — типизированные тела запросов и ответов HTTP API.
package handlers

// Статусы успешных ответов.
const (
	statusUploaded       = "Record uploaded and stored on blockchain"
	statusRetrieved      = "Record retrieved and decrypted successfully"
	statusUserRegistered = "User registered successfully"
	statusConsentGranted = "Consent granted successfully"
	statusConsentRevoked = "Consent revoked successfully"
	statusHealthy        = "healthy"
)

// uploadResponse — ответ POST /api/upload (201).
type uploadResponse struct {
	RecordID string `json:"recordId"`
	HashCID  string `json:"hashCID"`
	Status   string `json:"status"`
}

// retrieveResponse — ответ GET /api/retrieve/{recordId} (200).
type retrieveResponse struct {
	RecordID  string `json:"recordId"`
	PatientID string `json:"patientId"`
	FileSize  int    `json:"fileSize"`
	Status    string `json:"status"`
}

// registerUserRequest — тело POST /api/users.
type registerUserRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// registerUserResponse — ответ POST /api/users (201).
type registerUserResponse struct {
	UserID     string `json:"userId"`
	PrivateKey string `json:"privateKey"`
	Status     string `json:"status"`
}

// consentRequest — тело POST и DELETE /api/consent.
// ExpiryInDays учитывается только при выдаче; nil — срок по умолчанию.
type consentRequest struct {
	PatientID    string `json:"patientId"`
	RecordID     string `json:"recordId"`
	ProviderID   string `json:"providerId"`
	ExpiryInDays *int   `json:"expiryInDays,omitempty"`
}

// statusResponse — ответ, содержащий только статус.
type statusResponse struct {
	Status string `json:"status"`
}
