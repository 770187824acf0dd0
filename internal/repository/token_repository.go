package repository

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"consent-vault-service/internal/domain"
)

// TokenRecordModel はgorm用のモデル定義。
type TokenRecordModel struct {
	TokenID   string    `gorm:"type:char(36);primaryKey"`
	SubjectID string    `gorm:"type:varchar(64);not null;index:idx_token_records_grant"`
	HolderID  string    `gorm:"type:varchar(64);not null;index:idx_token_records_grant"`
	Scope     string    `gorm:"type:varchar(191);not null"`
	IssuedAt  time.Time `gorm:"type:datetime(6);not null"`
	ExpiresAt time.Time `gorm:"type:datetime(6);not null;index:idx_token_records_expires"`
	CreatedAt time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (TokenRecordModel) TableName() string {
	return "token_records"
}

func (m *TokenRecordModel) toDomain() *domain.TokenRecord {
	return &domain.TokenRecord{
		TokenID:   m.TokenID,
		SubjectID: m.SubjectID,
		HolderID:  m.HolderID,
		Scope:     m.Scope,
		IssuedAt:  m.IssuedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

// TokenRecordRepository はトークン発行の監査記録へのアクセスを提供する。
type TokenRecordRepository struct {
	db *gorm.DB
}

// NewTokenRecordRepository は新しいTokenRecordRepositoryを生成する。
func NewTokenRecordRepository(db *gorm.DB) *TokenRecordRepository {
	return &TokenRecordRepository{db: db}
}

// Create は発行記録を保存する。
func (r *TokenRecordRepository) Create(ctx context.Context, record *domain.TokenRecord) error {
	model := &TokenRecordModel{
		TokenID:   record.TokenID,
		SubjectID: record.SubjectID,
		HolderID:  record.HolderID,
		Scope:     record.Scope,
		IssuedAt:  record.IssuedAt,
		ExpiresAt: record.ExpiresAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create token record",
			"operation", "create_token_record",
			"token_id", record.TokenID,
			"subject_id", record.SubjectID,
			"error", err,
		)
		return err
	}
	return nil
}

// FindActiveByGrant は指定された (SubjectID, HolderID) の組に対する
// 未失効かつ有効期限内の発行記録を返す。一括失効の対象確認に使用する。
func (r *TokenRecordRepository) FindActiveByGrant(ctx context.Context, subjectID, holderID string, now time.Time) ([]*domain.TokenRecord, error) {
	var models []TokenRecordModel
	err := r.db.WithContext(ctx).
		Where("subject_id = ? AND holder_id = ? AND expires_at > ?", subjectID, holderID, now).
		Order("issued_at DESC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find token records",
			"operation", "find_active_by_grant",
			"subject_id", subjectID,
			"holder_id", holderID,
			"error", err,
		)
		return nil, err
	}
	records := make([]*domain.TokenRecord, 0, len(models))
	for i := range models {
		records = append(records, models[i].toDomain())
	}
	return records, nil
}

// DeleteExpiredBefore は有効期限を過ぎた発行記録を削除する。
func (r *TokenRecordRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&TokenRecordModel{})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to delete expired token records",
			"operation", "delete_expired_before",
			"error", result.Error,
		)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
