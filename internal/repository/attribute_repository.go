package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubjectAttributeModel はgorm用のモデル定義。
// サブジェクトごとの属性をドメイン・キーの組で保持する。
type SubjectAttributeModel struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	SubjectID string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_attr_subject_domain_key"`
	Domain    string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_attr_subject_domain_key"`
	AttrKey   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_attr_subject_domain_key"`
	Value     string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (SubjectAttributeModel) TableName() string {
	return "subject_attributes"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *SubjectAttributeModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// AttributeRepository はサブジェクト属性へのアクセスを提供する。
// エクスポート処理のPlaintextSourceとして機能する。
type AttributeRepository struct {
	db *gorm.DB
}

// NewAttributeRepository は新しいAttributeRepositoryを生成する。
func NewAttributeRepository(db *gorm.DB) *AttributeRepository {
	return &AttributeRepository{db: db}
}

// Upsert はサブジェクトの属性を登録または更新する。
func (r *AttributeRepository) Upsert(ctx context.Context, subjectID, domain, key, value string) error {
	model := &SubjectAttributeModel{
		SubjectID: subjectID,
		Domain:    domain,
		AttrKey:   key,
		Value:     value,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject_id"}, {Name: "domain"}, {Name: "attr_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to upsert subject attribute",
			"operation", "upsert_attribute",
			"subject_id", subjectID,
			"domain", domain,
			"error", err,
		)
		return err
	}
	return nil
}

// Plaintext は指定サブジェクト・ドメインの属性をJSONオブジェクトとして返す。
func (r *AttributeRepository) Plaintext(ctx context.Context, subjectID, domainName string) ([]byte, error) {
	var models []SubjectAttributeModel
	err := r.db.WithContext(ctx).
		Where("subject_id = ? AND domain = ?", subjectID, domainName).
		Order("attr_key ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to load subject attributes",
			"operation", "load_attributes",
			"subject_id", subjectID,
			"domain", domainName,
			"error", err,
		)
		return nil, err
	}

	attrs := make(map[string]string, len(models))
	for _, m := range models {
		attrs[m.AttrKey] = m.Value
	}
	return json.Marshal(attrs)
}
