package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"consent-vault-service/internal/domain"
)

// ConsentRequestModel はgorm用のモデル定義。
type ConsentRequestModel struct {
	ID               string     `gorm:"type:char(36);primaryKey"`
	SubjectID        string     `gorm:"type:varchar(64);not null;index:idx_request_subject"`
	RequesterID      string     `gorm:"type:varchar(64);not null;index:idx_request_requester"`
	RequestedScope   string     `gorm:"type:varchar(191);not null"`
	Status           string     `gorm:"type:varchar(16);not null;default:'pending';index:idx_request_status"`
	DecidedAt        *time.Time `gorm:"type:datetime(6)"`
	ResultingTokenID string     `gorm:"type:char(36)"`
	ResultingToken   []byte     `gorm:"type:blob"`
	CreatedAt        time.Time  `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (ConsentRequestModel) TableName() string {
	return "consent_requests"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *ConsentRequestModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *ConsentRequestModel) toDomain() *domain.ConsentRequest {
	return &domain.ConsentRequest{
		RequestID:        m.ID,
		SubjectID:        m.SubjectID,
		RequesterID:      m.RequesterID,
		RequestedScope:   m.RequestedScope,
		Status:           domain.RequestStatus(m.Status),
		CreatedAt:        m.CreatedAt,
		DecidedAt:        m.DecidedAt,
		ResultingTokenID: m.ResultingTokenID,
		ResultingToken:   m.ResultingToken,
	}
}

// RequestRepository は同意リクエストへのアクセスを提供する。
type RequestRepository struct {
	db *gorm.DB
}

// NewRequestRepository は新しいRequestRepositoryを生成する。
func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create は新しい同意リクエストを保存する。
func (r *RequestRepository) Create(ctx context.Context, request *domain.ConsentRequest) error {
	model := &ConsentRequestModel{
		ID:               request.RequestID,
		SubjectID:        request.SubjectID,
		RequesterID:      request.RequesterID,
		RequestedScope:   request.RequestedScope,
		Status:           string(request.Status),
		DecidedAt:        request.DecidedAt,
		ResultingTokenID: request.ResultingTokenID,
		ResultingToken:   request.ResultingToken,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create consent request",
			"operation", "create_request",
			"subject_id", request.SubjectID,
			"requester_id", request.RequesterID,
			"error", err,
		)
		return err
	}
	request.RequestID = model.ID
	request.CreatedAt = model.CreatedAt
	return nil
}

// FindByID は指定されたIDの同意リクエストを取得する。存在しない場合はnilを返す。
func (r *RequestRepository) FindByID(ctx context.Context, requestID string) (*domain.ConsentRequest, error) {
	var model ConsentRequestModel
	err := r.db.WithContext(ctx).
		Where("id = ?", requestID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find consent request",
			"operation", "find_by_id",
			"request_id", requestID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindGrantedBySubjectAndRequester は指定されたサブジェクト・リクエスタの
// 承認済みリクエストを新しい順に取得する。reuse-if-satisfiesポリシーの
// 判定に使用する。
func (r *RequestRepository) FindGrantedBySubjectAndRequester(ctx context.Context, subjectID, requesterID string) ([]*domain.ConsentRequest, error) {
	var models []ConsentRequestModel
	err := r.db.WithContext(ctx).
		Where("subject_id = ? AND requester_id = ? AND status = ?",
			subjectID, requesterID, string(domain.RequestStatusGranted)).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find granted requests",
			"operation", "find_granted_by_subject_and_requester",
			"subject_id", subjectID,
			"requester_id", requesterID,
			"error", err,
		)
		return nil, err
	}

	requests := make([]*domain.ConsentRequest, len(models))
	for i, m := range models {
		requests[i] = m.toDomain()
	}
	return requests, nil
}

// CompareAndSetStatus は期待する現在状態からの遷移を原子的に実行する。
// 競合する承認と拒否が同時に起きても終端状態はちょうど一つに定まるよう、
// WHERE句で期待状態を条件にしたUPDATEの影響行数で勝敗を判定する。
// 遷移に成功した場合はtrue、別の遷移に先を越された場合はfalseを返す。
func (r *RequestRepository) CompareAndSetStatus(ctx context.Context, requestID string, expected, next domain.RequestStatus, decidedAt *time.Time, tokenID string, tokenBytes []byte) (bool, error) {
	updates := map[string]interface{}{
		"status":     string(next),
		"decided_at": decidedAt,
	}
	if tokenID != "" {
		updates["resulting_token_id"] = tokenID
		updates["resulting_token"] = tokenBytes
	}

	result := r.db.WithContext(ctx).
		Model(&ConsentRequestModel{}).
		Where("id = ? AND status = ?", requestID, string(expected)).
		Updates(updates)
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to compare-and-set request status",
			"operation", "compare_and_set_status",
			"request_id", requestID,
			"expected", expected,
			"next", next,
			"error", result.Error,
		)
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ExpireStalePending は決定期限を過ぎたまま一度も読まれていない
// pendingリクエストをexpiredへ遷移させる。読み取り時の遅延期限判定を
// 補完し、放置されたリクエストも自然に回収されるようにする。
// 期限切れはサブジェクトの決定ではないためdecided_atは設定しない。
func (r *RequestRepository) ExpireStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&ConsentRequestModel{}).
		Where("status = ? AND created_at < ?", string(domain.RequestStatusPending), cutoff).
		Update("status", string(domain.RequestStatusExpired))
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to expire stale pending requests",
			"operation", "expire_stale_pending",
			"error", result.Error,
		)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// DeleteDecidedBefore は終端状態に達してから保持期間を過ぎたリクエストを削除する。
// 保持期間は決定時刻から数え、決定なしに期限切れした行は作成時刻で代用する。
// リクエストは機微なメタデータのみを含むため、保持期間後は破棄する。
func (r *RequestRepository) DeleteDecidedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status <> ? AND COALESCE(decided_at, created_at) < ?", string(domain.RequestStatusPending), cutoff).
		Delete(&ConsentRequestModel{})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to delete decided requests",
			"operation", "delete_decided_before",
			"error", result.Error,
		)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
