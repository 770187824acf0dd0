package repository

import (
	"context"
	"testing"
	"time"

	"consent-vault-service/internal/domain"
)

func TestRequestRepository_CreateAndFindByID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewRequestRepository(db)

	request := &domain.ConsentRequest{
		SubjectID:      "subject-001",
		RequesterID:    "agent.assistant.v1",
		RequestedScope: "attr.food.*",
		Status:         domain.RequestStatusPending,
	}
	if err := repo.Create(ctx, request); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if request.RequestID == "" {
		t.Fatal("expected RequestID to be assigned")
	}

	found, err := repo.FindByID(ctx, request.RequestID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found == nil {
		t.Fatal("expected request to be found")
	}
	if found.SubjectID != "subject-001" || found.Status != domain.RequestStatusPending {
		t.Errorf("unexpected request: %+v", found)
	}
}

func TestRequestRepository_FindByID_NotFound(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewRequestRepository(db)

	found, err := repo.FindByID(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found != nil {
		t.Errorf("expected nil, got %+v", found)
	}
}

func TestRequestRepository_CompareAndSetStatus(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewRequestRepository(db)

	request := &domain.ConsentRequest{
		SubjectID:      "subject-001",
		RequesterID:    "agent.assistant.v1",
		RequestedScope: "attr.food.*",
		Status:         domain.RequestStatusPending,
	}
	if err := repo.Create(ctx, request); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	decided := time.Now().UTC()
	won, err := repo.CompareAndSetStatus(ctx, request.RequestID,
		domain.RequestStatusPending, domain.RequestStatusGranted,
		&decided, "token-001", []byte("wire-bytes"))
	if err != nil {
		t.Fatalf("CompareAndSetStatus failed: %v", err)
	}
	if !won {
		t.Fatal("expected first transition to win")
	}

	// 2回目の遷移は期待状態が一致しないため敗北する
	won, err = repo.CompareAndSetStatus(ctx, request.RequestID,
		domain.RequestStatusPending, domain.RequestStatusDenied,
		&decided, "", nil)
	if err != nil {
		t.Fatalf("CompareAndSetStatus failed: %v", err)
	}
	if won {
		t.Error("expected second transition to lose")
	}

	found, err := repo.FindByID(ctx, request.RequestID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found.Status != domain.RequestStatusGranted {
		t.Errorf("expected status granted, got %s", found.Status)
	}
	if found.ResultingTokenID != "token-001" {
		t.Errorf("expected resulting token ID token-001, got %s", found.ResultingTokenID)
	}
	if string(found.ResultingToken) != "wire-bytes" {
		t.Errorf("expected resulting token bytes to be stored")
	}
}

func TestRequestRepository_CompareAndSetStatus_MissingRequest(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewRequestRepository(db)

	won, err := repo.CompareAndSetStatus(ctx, "nonexistent",
		domain.RequestStatusPending, domain.RequestStatusExpired, nil, "", nil)
	if err != nil {
		t.Fatalf("CompareAndSetStatus failed: %v", err)
	}
	if won {
		t.Error("expected transition on missing request to lose")
	}
}

func TestRequestRepository_FindGrantedBySubjectAndRequester(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewRequestRepository(db)

	granted := &domain.ConsentRequest{
		SubjectID:        "subject-001",
		RequesterID:      "agent.assistant.v1",
		RequestedScope:   "attr.food.*",
		Status:           domain.RequestStatusGranted,
		ResultingTokenID: "token-001",
		ResultingToken:   []byte("wire-bytes"),
	}
	pending := &domain.ConsentRequest{
		SubjectID:      "subject-001",
		RequesterID:    "agent.assistant.v1",
		RequestedScope: "attr.health.*",
		Status:         domain.RequestStatusPending,
	}
	other := &domain.ConsentRequest{
		SubjectID:      "subject-002",
		RequesterID:    "agent.assistant.v1",
		RequestedScope: "attr.food.*",
		Status:         domain.RequestStatusGranted,
	}
	for _, r := range []*domain.ConsentRequest{granted, pending, other} {
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	found, err := repo.FindGrantedBySubjectAndRequester(ctx, "subject-001", "agent.assistant.v1")
	if err != nil {
		t.Fatalf("FindGrantedBySubjectAndRequester failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 granted request, got %d", len(found))
	}
	if found[0].RequestID != granted.RequestID {
		t.Errorf("unexpected request: %+v", found[0])
	}
}

func TestRequestRepository_DeleteDecidedBefore(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewRequestRepository(db)

	decided := &domain.ConsentRequest{
		SubjectID:      "subject-001",
		RequesterID:    "agent.assistant.v1",
		RequestedScope: "attr.food.*",
		Status:         domain.RequestStatusDenied,
	}
	pending := &domain.ConsentRequest{
		SubjectID:      "subject-001",
		RequesterID:    "agent.assistant.v1",
		RequestedScope: "attr.health.*",
		Status:         domain.RequestStatusPending,
	}
	for _, r := range []*domain.ConsentRequest{decided, pending} {
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	// 作成直後より未来のカットオフで決定済みのみが削除される
	deleted, err := repo.DeleteDecidedBefore(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteDecidedBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}

	found, err := repo.FindByID(ctx, pending.RequestID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found == nil {
		t.Error("expected pending request to survive")
	}
}

// backdateCreatedAt はテスト用に作成時刻を過去へ書き換える。
func backdateCreatedAt(t *testing.T, repo *RequestRepository, requestID string, createdAt time.Time) {
	t.Helper()
	err := repo.db.Model(&ConsentRequestModel{}).
		Where("id = ?", requestID).
		Update("created_at", createdAt).Error
	if err != nil {
		t.Fatalf("failed to backdate created_at: %v", err)
	}
}

func TestRequestRepository_ExpireStalePending(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewRequestRepository(db)

	stale := &domain.ConsentRequest{
		SubjectID:      "subject-001",
		RequesterID:    "agent.assistant.v1",
		RequestedScope: "attr.food.*",
		Status:         domain.RequestStatusPending,
	}
	fresh := &domain.ConsentRequest{
		SubjectID:      "subject-001",
		RequesterID:    "agent.assistant.v1",
		RequestedScope: "attr.health.*",
		Status:         domain.RequestStatusPending,
	}
	granted := &domain.ConsentRequest{
		SubjectID:      "subject-002",
		RequesterID:    "agent.assistant.v1",
		RequestedScope: "attr.food.*",
		Status:         domain.RequestStatusGranted,
	}
	for _, r := range []*domain.ConsentRequest{stale, fresh, granted} {
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	now := time.Now().UTC()
	backdateCreatedAt(t, repo, stale.RequestID, now.Add(-2*time.Hour))
	backdateCreatedAt(t, repo, granted.RequestID, now.Add(-2*time.Hour))

	// 一度もポーリングされなかったpendingも決定期限で回収される
	expired, err := repo.ExpireStalePending(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ExpireStalePending failed: %v", err)
	}
	if expired != 1 {
		t.Errorf("expected 1 expired, got %d", expired)
	}

	found, err := repo.FindByID(ctx, stale.RequestID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found.Status != domain.RequestStatusExpired {
		t.Errorf("expected status expired, got %s", found.Status)
	}

	// 期限内のpendingと終端状態の行は対象外
	for _, r := range []*domain.ConsentRequest{fresh, granted} {
		found, err := repo.FindByID(ctx, r.RequestID)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if found.Status != r.Status {
			t.Errorf("expected status %s to be untouched, got %s", r.Status, found.Status)
		}
	}
}

func TestRequestRepository_DeleteDecidedBefore_RetentionFromDecision(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewRequestRepository(db)

	// 作成は古いが決定は最近の行は保持期間内として残る
	recentlyDecided := &domain.ConsentRequest{
		SubjectID:      "subject-001",
		RequesterID:    "agent.assistant.v1",
		RequestedScope: "attr.food.*",
		Status:         domain.RequestStatusPending,
	}
	longDecided := &domain.ConsentRequest{
		SubjectID:      "subject-001",
		RequesterID:    "agent.assistant.v1",
		RequestedScope: "attr.health.*",
		Status:         domain.RequestStatusPending,
	}
	for _, r := range []*domain.ConsentRequest{recentlyDecided, longDecided} {
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	now := time.Now().UTC()
	backdateCreatedAt(t, repo, recentlyDecided.RequestID, now.Add(-60*24*time.Hour))
	backdateCreatedAt(t, repo, longDecided.RequestID, now.Add(-60*24*time.Hour))

	recent := now.Add(-time.Hour)
	if _, err := repo.CompareAndSetStatus(ctx, recentlyDecided.RequestID,
		domain.RequestStatusPending, domain.RequestStatusDenied, &recent, "", nil); err != nil {
		t.Fatalf("CompareAndSetStatus failed: %v", err)
	}
	old := now.Add(-40 * 24 * time.Hour)
	if _, err := repo.CompareAndSetStatus(ctx, longDecided.RequestID,
		domain.RequestStatusPending, domain.RequestStatusDenied, &old, "", nil); err != nil {
		t.Fatalf("CompareAndSetStatus failed: %v", err)
	}

	deleted, err := repo.DeleteDecidedBefore(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteDecidedBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}

	found, err := repo.FindByID(ctx, recentlyDecided.RequestID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found == nil {
		t.Error("expected recently decided request to survive its retention window")
	}
}
