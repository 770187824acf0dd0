package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"consent-vault-service/internal/crypto"
	"consent-vault-service/internal/domain"
)

// ExportRepository はエクスポート記録へのアクセスのインターフェース。
type ExportRepository interface {
	Create(ctx context.Context, export *domain.DataExport) error
	FindByID(ctx context.Context, exportID string) (*domain.DataExport, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PlaintextSource はVault/ストレージ層から平文データを取得する
// インターフェース。エクスポーター自身は決して平文の取得方法を
// 構築しない。
type PlaintextSource interface {
	Plaintext(ctx context.Context, subjectID, domainName string) ([]byte, error)
}

// ExportService はゼロ知識エクスポートを提供する。
// データは使い捨てのエクスポート鍵で再暗号化され、サーバー側には
// 暗号文・ノンス・認証タグのみが保存される。鍵と暗号文が同一の
// 永続化レコードに揃うことは決してない。
type ExportService struct {
	tokens  *TokenService
	exports ExportRepository
	source  PlaintextSource
	ttl     time.Duration
	now     func() time.Time
}

// NewExportService は新しいExportServiceを生成する。
// ttlが0以下の場合はdomain.DefaultExportTTLを使用する。
func NewExportService(tokens *TokenService, exports ExportRepository, source PlaintextSource, ttl time.Duration) *ExportService {
	if ttl <= 0 {
		ttl = domain.DefaultExportTTL
	}
	return &ExportService{
		tokens:  tokens,
		exports: exports,
		source:  source,
		ttl:     ttl,
		now:     time.Now,
	}
}

// exportAAD は暗号文をエクスポート記録と認可トークンに束縛する。
func exportAAD(exportID, tokenID string) []byte {
	return []byte(exportID + "|" + tokenID)
}

// Prepare は指定ドメインのデータを使い捨て鍵で暗号化し、エクスポート
// 記録を作成する。エクスポート鍵は一度だけ返却され、永続化されない。
// 呼び出し元はサーバーが保持しない経路で取得者へ鍵を中継する。
func (s *ExportService) Prepare(ctx context.Context, tokenBytes []byte, domainName string) (*domain.DataExport, []byte, error) {
	requestedScope := string(domain.ScopeKindAttribute) + "." + domainName + ".*"
	if _, err := domain.ParseScope(requestedScope); err != nil {
		return nil, nil, err
	}

	token, err := s.tokens.Validate(ctx, tokenBytes, requestedScope)
	if err != nil {
		return nil, nil, err
	}

	plaintext, err := s.source.Plaintext(ctx, token.SubjectID, domainName)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching plaintext: %w", err)
	}

	exportKey, err := crypto.GenerateExportKey()
	if err != nil {
		return nil, nil, err
	}

	// AADにエクスポートIDを含めるため事前に採番する
	exportID := uuid.New().String()
	nonce, ciphertext, tag, err := crypto.SealExport(exportKey, plaintext, exportAAD(exportID, token.TokenID))
	if err != nil {
		return nil, nil, fmt.Errorf("sealing export: %w", err)
	}

	now := s.now().UTC()
	export := &domain.DataExport{
		ExportID:       exportID,
		ConsentTokenID: token.TokenID,
		SubjectID:      token.SubjectID,
		Scope:          requestedScope,
		Ciphertext:     ciphertext,
		Nonce:          nonce,
		AuthTag:        tag,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.exports.Create(ctx, export); err != nil {
		return nil, nil, fmt.Errorf("creating export record: %w", err)
	}
	return export, exportKey, nil
}

// Retrieve はエクスポート記録の暗号文を引き渡す前に、提示された
// トークンをエクスポート作成時のスコープに対して再検証する。
// 作成以降にトークンが失効していた場合などはErrExportUnauthorizedを返す。
func (s *ExportService) Retrieve(ctx context.Context, exportID string, tokenBytes []byte) (*domain.DataExport, error) {
	export, err := s.exports.FindByID(ctx, exportID)
	if err != nil {
		return nil, fmt.Errorf("finding export record: %w", err)
	}
	if export == nil {
		return nil, domain.ErrExportNotFound
	}
	if !s.now().Before(export.ExpiresAt) {
		return nil, domain.ErrExportExpired
	}

	token, err := s.tokens.Validate(ctx, tokenBytes, export.Scope)
	if err != nil {
		// 取得時点で許可範囲を満たさないトークンは理由を問わずUnauthorized
		if errors.Is(err, domain.ErrMalformedToken) ||
			errors.Is(err, domain.ErrBadSignature) ||
			errors.Is(err, domain.ErrTokenExpired) ||
			errors.Is(err, domain.ErrTokenRevoked) ||
			errors.Is(err, domain.ErrScopeMismatch) {
			return nil, domain.ErrExportUnauthorized
		}
		return nil, err
	}
	if token.SubjectID != export.SubjectID {
		return nil, domain.ErrExportUnauthorized
	}
	return export, nil
}
