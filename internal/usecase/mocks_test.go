package usecase

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"consent-vault-service/internal/crypto"
	"consent-vault-service/internal/domain"
)

// testSigner はテスト用の固定鍵Signerを生成する。
func testSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	signer, err := crypto.NewSigner(bytes.Repeat([]byte{0x11}, crypto.SigningKeySize))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return signer
}

// newSignerWithByte は指定バイトを繰り返した鍵のSignerを生成する。
func newSignerWithByte(b byte) (*crypto.Signer, error) {
	return crypto.NewSigner(bytes.Repeat([]byte{b}, crypto.SigningKeySize))
}

// mockRevocationRepository はテスト用のインメモリ失効セット。
type mockRevocationRepository struct {
	mu       sync.Mutex
	entries  []*domain.RevocationEntry
	putErr   error
	queryErr error
}

func (m *mockRevocationRepository) Put(ctx context.Context, entry *domain.RevocationEntry) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockRevocationRepository) IsRevoked(ctx context.Context, token *domain.ConsentToken) (bool, error) {
	if m.queryErr != nil {
		return false, m.queryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.TokenID != "" && e.TokenID == token.TokenID {
			return true, nil
		}
		if e.TokenID == "" && e.SubjectID == token.SubjectID && e.HolderID == token.HolderID && e.Scope == token.Scope {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRevocationRepository) ExistsByTokenID(ctx context.Context, tokenID string) (bool, error) {
	if m.queryErr != nil {
		return false, m.queryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.TokenID == tokenID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRevocationRepository) ExistsByGrant(ctx context.Context, subjectID, holderID, scope string) (bool, error) {
	if m.queryErr != nil {
		return false, m.queryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.SubjectID == subjectID && e.HolderID == holderID && e.Scope == scope {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRevocationRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.queryErr != nil {
		return 0, m.queryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*domain.RevocationEntry
	var deleted int64
	for _, e := range m.entries {
		if e.ExpiresAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return deleted, nil
}

// mockRequestRepository はテスト用のインメモリ同意リクエストストア。
// CompareAndSetStatusはミューテックスで保護されており、並行する
// 承認と拒否の競合テストに使用できる。
type mockRequestRepository struct {
	mu        sync.Mutex
	requests  map[string]*domain.ConsentRequest
	createErr error
	findErr   error
	casErr    error
}

func newMockRequestRepository() *mockRequestRepository {
	return &mockRequestRepository{requests: make(map[string]*domain.ConsentRequest)}
}

func (m *mockRequestRepository) Create(ctx context.Context, request *domain.ConsentRequest) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if request.RequestID == "" {
		request.RequestID = uuid.New().String()
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	clone := *request
	m.requests[request.RequestID] = &clone
	return nil
}

func (m *mockRequestRepository) FindByID(ctx context.Context, requestID string) (*domain.ConsentRequest, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[requestID]
	if !ok {
		return nil, nil
	}
	clone := *request
	return &clone, nil
}

func (m *mockRequestRepository) FindGrantedBySubjectAndRequester(ctx context.Context, subjectID, requesterID string) ([]*domain.ConsentRequest, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var granted []*domain.ConsentRequest
	for _, r := range m.requests {
		if r.SubjectID == subjectID && r.RequesterID == requesterID && r.Status == domain.RequestStatusGranted {
			clone := *r
			granted = append(granted, &clone)
		}
	}
	return granted, nil
}

func (m *mockRequestRepository) CompareAndSetStatus(ctx context.Context, requestID string, expected, next domain.RequestStatus, decidedAt *time.Time, tokenID string, tokenBytes []byte) (bool, error) {
	if m.casErr != nil {
		return false, m.casErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[requestID]
	if !ok || request.Status != expected {
		return false, nil
	}
	request.Status = next
	request.DecidedAt = decidedAt
	if tokenID != "" {
		request.ResultingTokenID = tokenID
		request.ResultingToken = tokenBytes
	}
	return true, nil
}

func (m *mockRequestRepository) ExpireStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.findErr != nil {
		return 0, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired int64
	for _, r := range m.requests {
		if r.Status == domain.RequestStatusPending && r.CreatedAt.Before(cutoff) {
			r.Status = domain.RequestStatusExpired
			expired++
		}
	}
	return expired, nil
}

func (m *mockRequestRepository) DeleteDecidedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.findErr != nil {
		return 0, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, r := range m.requests {
		if r.Status == domain.RequestStatusPending {
			continue
		}
		decided := r.CreatedAt
		if r.DecidedAt != nil {
			decided = *r.DecidedAt
		}
		if decided.Before(cutoff) {
			delete(m.requests, id)
			deleted++
		}
	}
	return deleted, nil
}

// mockExportRepository はテスト用のインメモリエクスポートストア。
type mockExportRepository struct {
	mu        sync.Mutex
	exports   map[string]*domain.DataExport
	createErr error
	findErr   error
}

func newMockExportRepository() *mockExportRepository {
	return &mockExportRepository{exports: make(map[string]*domain.DataExport)}
}

func (m *mockExportRepository) Create(ctx context.Context, export *domain.DataExport) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if export.ExportID == "" {
		export.ExportID = uuid.New().String()
	}
	if export.CreatedAt.IsZero() {
		export.CreatedAt = time.Now().UTC()
	}
	clone := *export
	m.exports[export.ExportID] = &clone
	return nil
}

func (m *mockExportRepository) FindByID(ctx context.Context, exportID string) (*domain.DataExport, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	export, ok := m.exports[exportID]
	if !ok {
		return nil, nil
	}
	clone := *export
	return &clone, nil
}

func (m *mockExportRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.findErr != nil {
		return 0, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, e := range m.exports {
		if e.ExpiresAt.Before(cutoff) {
			delete(m.exports, id)
			deleted++
		}
	}
	return deleted, nil
}

// mockNotifier はテスト用の通知コラボレータ。
type mockNotifier struct {
	mu        sync.Mutex
	notified  []string
	notifyErr error
}

func (m *mockNotifier) NotifySubject(ctx context.Context, subjectID, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified = append(m.notified, requestID)
	return m.notifyErr
}

// mockPlaintextSource はテスト用の平文ソース。
type mockPlaintextSource struct {
	plaintext []byte
	err       error
}

func (m *mockPlaintextSource) Plaintext(ctx context.Context, subjectID, domainName string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.plaintext, nil
}

// mockTokenRecordRepository はテスト用の発行記録リポジトリ。
type mockTokenRecordRepository struct {
	mu        sync.Mutex
	records   []*domain.TokenRecord
	createErr error
}

func (m *mockTokenRecordRepository) Create(ctx context.Context, record *domain.TokenRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *mockTokenRecordRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*domain.TokenRecord
	var deleted int64
	for _, r := range m.records {
		if r.ExpiresAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

func (m *mockTokenRecordRepository) FindActiveByGrant(ctx context.Context, subjectID, holderID string, now time.Time) ([]*domain.TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []*domain.TokenRecord
	for _, r := range m.records {
		if r.SubjectID == subjectID && r.HolderID == holderID && r.ExpiresAt.After(now) {
			active = append(active, r)
		}
	}
	return active, nil
}
