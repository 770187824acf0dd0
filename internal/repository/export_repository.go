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

// DataExportModel はgorm用のモデル定義。
// エクスポート鍵はこのテーブルに決して保存されない。保存されるのは
// 暗号文・ノンス・認証タグのみであり、鍵は準備時に一度だけ
// 呼び出し元へ返却される。
type DataExportModel struct {
	ID             string    `gorm:"type:char(36);primaryKey"`
	ConsentTokenID string    `gorm:"type:char(36);not null;index:idx_export_token"`
	SubjectID      string    `gorm:"type:varchar(64);not null;index:idx_export_subject"`
	Scope          string    `gorm:"type:varchar(191);not null"`
	Ciphertext     []byte    `gorm:"type:mediumblob;not null"`
	Nonce          []byte    `gorm:"type:varbinary(12);not null"`
	AuthTag        []byte    `gorm:"type:varbinary(16);not null"`
	ExpiresAt      time.Time `gorm:"type:datetime(6);not null;index:idx_export_expires"`
	CreatedAt      time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (DataExportModel) TableName() string {
	return "data_exports"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *DataExportModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *DataExportModel) toDomain() *domain.DataExport {
	return &domain.DataExport{
		ExportID:       m.ID,
		ConsentTokenID: m.ConsentTokenID,
		SubjectID:      m.SubjectID,
		Scope:          m.Scope,
		Ciphertext:     m.Ciphertext,
		Nonce:          m.Nonce,
		AuthTag:        m.AuthTag,
		CreatedAt:      m.CreatedAt,
		ExpiresAt:      m.ExpiresAt,
	}
}

// ExportRepository はエクスポート記録へのアクセスを提供する。
type ExportRepository struct {
	db *gorm.DB
}

// NewExportRepository は新しいExportRepositoryを生成する。
func NewExportRepository(db *gorm.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

// Create は新しいエクスポート記録を保存する。
func (r *ExportRepository) Create(ctx context.Context, export *domain.DataExport) error {
	model := &DataExportModel{
		ID:             export.ExportID,
		ConsentTokenID: export.ConsentTokenID,
		SubjectID:      export.SubjectID,
		Scope:          export.Scope,
		Ciphertext:     export.Ciphertext,
		Nonce:          export.Nonce,
		AuthTag:        export.AuthTag,
		ExpiresAt:      export.ExpiresAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create export record",
			"operation", "create_export",
			"subject_id", export.SubjectID,
			"consent_token_id", export.ConsentTokenID,
			"error", err,
		)
		return err
	}
	export.ExportID = model.ID
	export.CreatedAt = model.CreatedAt
	return nil
}

// FindByID は指定されたIDのエクスポート記録を取得する。存在しない場合はnilを返す。
func (r *ExportRepository) FindByID(ctx context.Context, exportID string) (*domain.DataExport, error) {
	var model DataExportModel
	err := r.db.WithContext(ctx).
		Where("id = ?", exportID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find export record",
			"operation", "find_export_by_id",
			"export_id", exportID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// DeleteExpiredBefore は保持期限を過ぎたエクスポート記録を削除する。
func (r *ExportRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&DataExportModel{})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to delete expired exports",
			"operation", "delete_expired_exports",
			"error", result.Error,
		)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
