// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"consent-vault-service/internal/domain"
)

// RevocationEntryModel はgorm用のモデル定義。
type RevocationEntryModel struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	TokenID   string    `gorm:"type:char(36);index:idx_revocation_token"`
	SubjectID string    `gorm:"type:varchar(64);not null;index:idx_revocation_triple"`
	HolderID  string    `gorm:"type:varchar(64);index:idx_revocation_triple"`
	Scope     string    `gorm:"type:varchar(191);index:idx_revocation_triple"`
	RevokedAt time.Time `gorm:"type:datetime(6);not null"`
	ExpiresAt time.Time `gorm:"type:datetime(6);not null;index:idx_revocation_expires"`
	CreatedAt time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (RevocationEntryModel) TableName() string {
	return "revocation_entries"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *RevocationEntryModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// RevocationRepository は失効セットへのアクセスを提供する。
type RevocationRepository struct {
	db *gorm.DB
}

// NewRevocationRepository は新しいRevocationRepositoryを生成する。
func NewRevocationRepository(db *gorm.DB) *RevocationRepository {
	return &RevocationRepository{db: db}
}

// Put は失効エントリを保存する。
func (r *RevocationRepository) Put(ctx context.Context, entry *domain.RevocationEntry) error {
	model := &RevocationEntryModel{
		ID:        entry.ID,
		TokenID:   entry.TokenID,
		SubjectID: entry.SubjectID,
		HolderID:  entry.HolderID,
		Scope:     entry.Scope,
		RevokedAt: entry.RevokedAt,
		ExpiresAt: entry.ExpiresAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to put revocation entry",
			"operation", "put_revocation",
			"token_id", entry.TokenID,
			"subject_id", entry.SubjectID,
			"error", err,
		)
		return err
	}
	entry.ID = model.ID
	return nil
}

// IsRevoked はトークンが失効セットに含まれるか確認する。
// TokenIDの一致、または (SubjectID, HolderID, Scope) の組の一致で
// 失効とみなす。
func (r *RevocationRepository) IsRevoked(ctx context.Context, token *domain.ConsentToken) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RevocationEntryModel{}).
		Where("token_id = ?", token.TokenID).
		Or("subject_id = ? AND holder_id = ? AND scope = ?", token.SubjectID, token.HolderID, token.Scope).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to check revocation set",
			"operation", "is_revoked",
			"token_id", token.TokenID,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// ExistsByTokenID は指定されたトークンIDの失効エントリが存在するか確認する。
func (r *RevocationRepository) ExistsByTokenID(ctx context.Context, tokenID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RevocationEntryModel{}).
		Where("token_id = ?", tokenID).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to check revocation entry",
			"operation", "exists_by_token_id",
			"token_id", tokenID,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// ExistsByGrant は指定された (SubjectID, HolderID, Scope) の組の
// 失効エントリが存在するか確認する。
func (r *RevocationRepository) ExistsByGrant(ctx context.Context, subjectID, holderID, scope string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RevocationEntryModel{}).
		Where("subject_id = ? AND holder_id = ? AND scope = ?", subjectID, holderID, scope).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to check grant revocation",
			"operation", "exists_by_grant",
			"subject_id", subjectID,
			"holder_id", holderID,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// DeleteExpiredBefore は期限を過ぎた失効エントリを削除する。
// エントリは対象トークンのExpiresAtを超えて保持する必要がない。
func (r *RevocationRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&RevocationEntryModel{})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to delete expired revocation entries",
			"operation", "delete_expired_before",
			"error", result.Error,
		)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
