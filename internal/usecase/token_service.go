// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"consent-vault-service/internal/crypto"
	"consent-vault-service/internal/domain"
)

// Signer は正規形バイト列の署名・検証のインターフェース。
type Signer interface {
	Sign(data []byte) []byte
	Verify(data, signature []byte) bool
}

// TokenRecordRepository は発行監査記録へのアクセスのインターフェース。
type TokenRecordRepository interface {
	Create(ctx context.Context, record *domain.TokenRecord) error
	FindActiveByGrant(ctx context.Context, subjectID, holderID string, now time.Time) ([]*domain.TokenRecord, error)
}

// RevocationRepository は失効セットへのアクセスのインターフェース。
type RevocationRepository interface {
	Put(ctx context.Context, entry *domain.RevocationEntry) error
	IsRevoked(ctx context.Context, token *domain.ConsentToken) (bool, error)
	ExistsByTokenID(ctx context.Context, tokenID string) (bool, error)
	ExistsByGrant(ctx context.Context, subjectID, holderID, scope string) (bool, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenService はConsent Tokenの発行・検証・失効のビジネスロジックを提供する。
type TokenService struct {
	signer      Signer
	revocations RevocationRepository
	records     TokenRecordRepository // nilの場合は監査記録を残さない
	defaultTTL  time.Duration
	now         func() time.Time
}

// NewTokenService は新しいTokenServiceを生成する。
// defaultTTLが0以下の場合はdomain.DefaultTokenTTLを使用する。
func NewTokenService(signer Signer, revocations RevocationRepository, records TokenRecordRepository, defaultTTL time.Duration) *TokenService {
	if defaultTTL <= 0 {
		defaultTTL = domain.DefaultTokenTTL
	}
	return &TokenService{
		signer:      signer,
		revocations: revocations,
		records:     records,
		defaultTTL:  defaultTTL,
		now:         time.Now,
	}
}

// Issue は新しいConsent Tokenを発行する。
// 発行されたトークンとそのワイヤ形式バイト列を返す。トークンは発行後
// 不変であり、更新は新しいトークンの発行として扱う。
func (s *TokenService) Issue(ctx context.Context, subjectID, holderID, scope string, ttl time.Duration) (*domain.ConsentToken, []byte, error) {
	if subjectID == "" || holderID == "" {
		return nil, nil, domain.ErrInvalidSubjectID
	}
	if _, err := domain.ParseScope(scope); err != nil {
		return nil, nil, err
	}
	// ワイヤ形式が秒精度のため、1秒未満の有効期間は表現できない
	if ttl < 0 || (ttl > 0 && ttl < time.Second) {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidTTL, ttl)
	}
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	// ワイヤ形式は秒精度のため切り捨てて保持する
	issued := s.now().UTC().Truncate(time.Second)
	token := &domain.ConsentToken{
		TokenID:   uuid.New().String(),
		SubjectID: subjectID,
		HolderID:  holderID,
		Scope:     scope,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
	}
	token.Signature = s.signer.Sign(crypto.TokenSigningBytes(token))

	data, err := crypto.EncodeToken(token)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding token: %w", err)
	}

	// 監査記録の書き込み失敗は発行を妨げない
	if s.records != nil {
		record := &domain.TokenRecord{
			TokenID:   token.TokenID,
			SubjectID: token.SubjectID,
			HolderID:  token.HolderID,
			Scope:     token.Scope,
			IssuedAt:  token.IssuedAt,
			ExpiresAt: token.ExpiresAt,
		}
		if err := s.records.Create(ctx, record); err != nil {
			slog.WarnContext(ctx, "failed to record token issuance",
				"operation", "issue_token",
				"token_id", token.TokenID,
				"error", err,
			)
		}
	}
	return token, data, nil
}

// Validate はワイヤ形式のトークンを検証する。
// デコード → 署名 → 期限 → 失効セット → スコープの順に確認し、
// 呼び出し元が失敗理由を区別できるよう対応するセンチネルエラーを返す。
func (s *TokenService) Validate(ctx context.Context, tokenBytes []byte, expectedScope string) (*domain.ConsentToken, error) {
	token, err := crypto.DecodeToken(tokenBytes)
	if err != nil {
		return nil, err
	}

	if !s.signer.Verify(crypto.TokenSigningBytes(token), token.Signature) {
		return nil, domain.ErrBadSignature
	}

	// 発行時の不変条件 expires_at > issued_at を満たさないトークンは
	// このサービスが発行したものではない
	if !token.ExpiresAt.After(token.IssuedAt) {
		return nil, domain.ErrMalformedToken
	}
	if !s.now().Before(token.ExpiresAt) {
		return nil, domain.ErrTokenExpired
	}

	revoked, err := s.revocations.IsRevoked(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("checking revocation set: %w", err)
	}
	if revoked {
		return nil, domain.ErrTokenRevoked
	}

	if _, err := domain.ParseScope(expectedScope); err != nil {
		return nil, err
	}
	if !domain.SatisfiesScope(token.Scope, expectedScope) {
		return nil, domain.ErrScopeMismatch
	}
	return token, nil
}

// Revoke はトークンを失効させる。冪等であり、二重の失効は成功として扱う。
func (s *TokenService) Revoke(ctx context.Context, token *domain.ConsentToken) error {
	exists, err := s.revocations.ExistsByTokenID(ctx, token.TokenID)
	if err != nil {
		return fmt.Errorf("checking revocation entry: %w", err)
	}
	if exists {
		return nil
	}

	entry := &domain.RevocationEntry{
		TokenID:   token.TokenID,
		SubjectID: token.SubjectID,
		HolderID:  token.HolderID,
		Scope:     token.Scope,
		RevokedAt: s.now().UTC(),
		ExpiresAt: token.ExpiresAt,
	}
	if err := s.revocations.Put(ctx, entry); err != nil {
		return fmt.Errorf("putting revocation entry: %w", err)
	}
	return nil
}

// RevokeByID はトークンIDのみを指定してトークンを失効させる。
// 元のトークンの期限が不明なため、ガベージコレクションの基準には
// デフォルトTTL分の保守的な期間を使用する。
func (s *TokenService) RevokeByID(ctx context.Context, tokenID string) error {
	if tokenID == "" {
		return domain.ErrMalformedToken
	}
	exists, err := s.revocations.ExistsByTokenID(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("checking revocation entry: %w", err)
	}
	if exists {
		return nil
	}

	now := s.now().UTC()
	entry := &domain.RevocationEntry{
		TokenID:   tokenID,
		RevokedAt: now,
		ExpiresAt: now.Add(s.defaultTTL),
	}
	if err := s.revocations.Put(ctx, entry); err != nil {
		return fmt.Errorf("putting revocation entry: %w", err)
	}
	return nil
}

// RevokeGrant は (SubjectID, HolderID, Scope) の組に対する全トークンを
// 一括で失効させる。冪等。
func (s *TokenService) RevokeGrant(ctx context.Context, subjectID, holderID, scope string) error {
	if subjectID == "" || holderID == "" {
		return domain.ErrInvalidSubjectID
	}
	if _, err := domain.ParseScope(scope); err != nil {
		return err
	}

	exists, err := s.revocations.ExistsByGrant(ctx, subjectID, holderID, scope)
	if err != nil {
		return fmt.Errorf("checking grant revocation: %w", err)
	}
	if exists {
		return nil
	}

	now := s.now().UTC()
	entry := &domain.RevocationEntry{
		SubjectID: subjectID,
		HolderID:  holderID,
		Scope:     scope,
		RevokedAt: now,
		ExpiresAt: now.Add(s.defaultTTL),
	}
	if err := s.revocations.Put(ctx, entry); err != nil {
		return fmt.Errorf("putting revocation entry: %w", err)
	}

	if s.records != nil {
		active, err := s.records.FindActiveByGrant(ctx, subjectID, holderID, now)
		if err == nil {
			affected := 0
			for _, rec := range active {
				if rec.Scope == scope {
					affected++
				}
			}
			slog.InfoContext(ctx, "grant revoked",
				"operation", "revoke_grant",
				"subject_id", subjectID,
				"holder_id", holderID,
				"scope", scope,
				"tokens_affected", affected,
			)
		}
	}
	return nil
}
