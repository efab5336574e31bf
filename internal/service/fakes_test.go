package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/mediblock/ehr-gateway/internal/domain/model"
	"github.com/mediblock/ehr-gateway/internal/ipfsclient"
	"github.com/mediblock/ehr-gateway/internal/recordclient"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBlobStore — in-memory IPFS.
type fakeBlobStore struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	putErr   error
	getErr   error
	unpinned []string
	puts     int
	gets     int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(_ context.Context, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putErr != nil {
		return "", f.putErr
	}
	cid := fmt.Sprintf("Qm%d", len(f.blobs)+123)
	f.blobs[cid] = append([]byte(nil), data...)
	return cid, nil
}

func (f *fakeBlobStore) Get(_ context.Context, cid string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.blobs[cid]
	if !ok {
		return nil, fmt.Errorf("cat %s: %w", cid, ipfsclient.ErrNotFound)
	}
	return data, nil
}

func (f *fakeBlobStore) Unpin(_ context.Context, cid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpinned = append(f.unpinned, cid)
	delete(f.blobs, cid)
	return nil
}

// fakeRecordStore — in-memory Record Service.
type fakeRecordStore struct {
	mu            sync.Mutex
	records       map[string]*model.UploadRecord
	users         map[string]*model.User
	grants        []model.ConsentGrant
	revokes       []recordclient.RevokeConsentRequest
	createErr     error
	getRecordErr  error
	userErr       error
	consentErr    error
	getRecordHits int
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		records: make(map[string]*model.UploadRecord),
		users:   make(map[string]*model.User),
	}
}

func (f *fakeRecordStore) CreateRecord(_ context.Context, in recordclient.CreateRecordRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	id := fmt.Sprintf("r%d", len(f.records)+1)
	f.records[id] = &model.UploadRecord{
		RecordID:        id,
		PatientID:       in.PatientID,
		HashCID:         in.HashCID,
		EncryptedSymKey: in.EncryptedSymKey,
	}
	return id, nil
}

func (f *fakeRecordStore) GetRecord(_ context.Context, recordID string) (*model.UploadRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getRecordHits++
	if f.getRecordErr != nil {
		return nil, f.getRecordErr
	}
	rec, ok := f.records[recordID]
	if !ok {
		return nil, fmt.Errorf("GetRecord %s: %w", recordID, recordclient.ErrNotFound)
	}
	out := *rec
	return &out, nil
}

func (f *fakeRecordStore) CreateUser(_ context.Context, in recordclient.CreateUserRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return "", f.userErr
	}
	id := fmt.Sprintf("u%d", len(f.users)+1)
	f.users[id] = &model.User{UserID: id, Name: in.Name, Role: in.Role, PublicKey: in.PublicKey}
	return id, nil
}

func (f *fakeRecordStore) GetUser(_ context.Context, userID string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return nil, f.userErr
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, fmt.Errorf("GetUser %s: %w", userID, recordclient.ErrNotFound)
	}
	out := *u
	return &out, nil
}

func (f *fakeRecordStore) GrantConsent(_ context.Context, grant model.ConsentGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consentErr != nil {
		return f.consentErr
	}
	f.grants = append(f.grants, grant)
	return nil
}

func (f *fakeRecordStore) RevokeConsent(_ context.Context, in recordclient.RevokeConsentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consentErr != nil {
		return f.consentErr
	}
	f.revokes = append(f.revokes, in)
	return nil
}
