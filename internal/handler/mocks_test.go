package handler

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"consent-vault-service/internal/crypto"
	"consent-vault-service/internal/domain"
	"consent-vault-service/internal/usecase"
)

// memRevocations はテスト用のインメモリ失効セット。
type memRevocations struct {
	mu      sync.Mutex
	entries []*domain.RevocationEntry
}

func (m *memRevocations) Put(ctx context.Context, entry *domain.RevocationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memRevocations) IsRevoked(ctx context.Context, token *domain.ConsentToken) (bool, error) {
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

func (m *memRevocations) ExistsByTokenID(ctx context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.TokenID == tokenID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRevocations) ExistsByGrant(ctx context.Context, subjectID, holderID, scope string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.SubjectID == subjectID && e.HolderID == holderID && e.Scope == scope {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRevocations) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// memRequests はテスト用のインメモリ同意リクエストストア。
type memRequests struct {
	mu       sync.Mutex
	requests map[string]*domain.ConsentRequest
}

func newMemRequests() *memRequests {
	return &memRequests{requests: make(map[string]*domain.ConsentRequest)}
}

func (m *memRequests) Create(ctx context.Context, request *domain.ConsentRequest) error {
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

func (m *memRequests) FindByID(ctx context.Context, requestID string) (*domain.ConsentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[requestID]
	if !ok {
		return nil, nil
	}
	clone := *request
	return &clone, nil
}

func (m *memRequests) FindGrantedBySubjectAndRequester(ctx context.Context, subjectID, requesterID string) ([]*domain.ConsentRequest, error) {
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

func (m *memRequests) CompareAndSetStatus(ctx context.Context, requestID string, expected, next domain.RequestStatus, decidedAt *time.Time, tokenID string, tokenBytes []byte) (bool, error) {
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

func (m *memRequests) ExpireStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memRequests) DeleteDecidedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// memExports はテスト用のインメモリエクスポートストア。
type memExports struct {
	mu      sync.Mutex
	exports map[string]*domain.DataExport
}

func newMemExports() *memExports {
	return &memExports{exports: make(map[string]*domain.DataExport)}
}

func (m *memExports) Create(ctx context.Context, export *domain.DataExport) error {
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

func (m *memExports) FindByID(ctx context.Context, exportID string) (*domain.DataExport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	export, ok := m.exports[exportID]
	if !ok {
		return nil, nil
	}
	clone := *export
	return &clone, nil
}

func (m *memExports) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// nopNotifier は通知を記録するだけのNotifier。
type nopNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (n *nopNotifier) NotifySubject(ctx context.Context, subjectID, requestID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, requestID)
	return nil
}

// staticSource は固定の平文を返すPlaintextSource。
type staticSource struct {
	plaintext []byte
}

func (s *staticSource) Plaintext(ctx context.Context, subjectID, domainName string) ([]byte, error) {
	return s.plaintext, nil
}

// testEnv はハンドラテスト用に全サービスを組み立てる。
type testEnv struct {
	tokens  *usecase.TokenService
	consent *ConsentHandler
	token   *TokenHandler
	link    *TrustLinkHandler
	export  *ExportHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	signer, err := crypto.NewSigner(bytes.Repeat([]byte{0x42}, crypto.SigningKeySize))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	revocations := &memRevocations{}
	tokens := usecase.NewTokenService(signer, revocations, nil, 0)
	consent := usecase.NewConsentService(newMemRequests(), tokens, &nopNotifier{}, 0)
	links := usecase.NewTrustLinkService(signer, tokens, revocations)
	exports := usecase.NewExportService(tokens, newMemExports(), &staticSource{plaintext: []byte(`{"cuisine":"japanese"}`)}, 0)

	return &testEnv{
		tokens:  tokens,
		consent: NewConsentHandler(consent),
		token:   NewTokenHandler(tokens),
		link:    NewTrustLinkHandler(links),
		export:  NewExportHandler(exports),
	}
}
