package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"consent-vault-service/internal/crypto"
	"consent-vault-service/internal/domain"
)

// TrustLinkService はエージェント間委譲証明の発行・検証を提供する。
type TrustLinkService struct {
	signer      Signer
	tokens      *TokenService
	revocations RevocationRepository
	now         func() time.Time
}

// NewTrustLinkService は新しいTrustLinkServiceを生成する。
func NewTrustLinkService(signer Signer, tokens *TokenService, revocations RevocationRepository) *TrustLinkService {
	return &TrustLinkService{
		signer:      signer,
		tokens:      tokens,
		revocations: revocations,
		now:         time.Now,
	}
}

// Create は有効な認可トークンを根拠としてTrustLinkを発行する。
// 委譲スコープが認可トークンのスコープに満たされない場合は
// ErrScopeMismatchで失敗する。期限は要求された期間と認可トークンの
// 残り有効期間の短い方にクランプされる。
func (s *TrustLinkService) Create(ctx context.Context, authorizingToken []byte, targetAgentID, delegatedScope string, requestedTTL time.Duration) (*domain.TrustLink, []byte, error) {
	if targetAgentID == "" {
		return nil, nil, domain.ErrInvalidSubjectID
	}

	// トークンの署名・期限・失効・スコープ包含をまとめて検証する
	token, err := s.tokens.Validate(ctx, authorizingToken, delegatedScope)
	if err != nil {
		return nil, nil, err
	}

	issued := s.now().UTC().Truncate(time.Second)
	expires := token.ExpiresAt
	if requestedTTL > 0 {
		requested := issued.Add(requestedTTL)
		if requested.Before(expires) {
			expires = requested
		}
	}

	link := &domain.TrustLink{
		LinkID:             uuid.New().String(),
		SourceAgentID:      token.HolderID,
		TargetAgentID:      targetAgentID,
		AuthorizingTokenID: token.TokenID,
		DelegatedScope:     delegatedScope,
		IssuedAt:           issued,
		ExpiresAt:          expires,
	}
	link.Signature = s.signer.Sign(crypto.LinkSigningBytes(link))

	data, err := crypto.EncodeLink(link)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding trust link: %w", err)
	}
	return link, data, nil
}

// Verify はワイヤ形式のTrustLinkを検証する。
// リンクは発行後自己完結であり、検証は署名と期限の確認で完結する。
// 防御の多層化として認可トークンの失効状態も確認し、失効済みの
// ルートトークンから派生した全リンクを無効化する。
func (s *TrustLinkService) Verify(ctx context.Context, linkBytes []byte) (*domain.TrustLink, error) {
	link, err := crypto.DecodeLink(linkBytes)
	if err != nil {
		return nil, err
	}

	if !s.signer.Verify(crypto.LinkSigningBytes(link), link.Signature) {
		return nil, domain.ErrBadSignature
	}
	if !link.ExpiresAt.After(link.IssuedAt) {
		return nil, domain.ErrMalformedToken
	}
	if !s.now().Before(link.ExpiresAt) {
		return nil, domain.ErrTokenExpired
	}

	revoked, err := s.revocations.ExistsByTokenID(ctx, link.AuthorizingTokenID)
	if err != nil {
		return nil, fmt.Errorf("checking root token revocation: %w", err)
	}
	if revoked {
		return nil, domain.ErrTokenRevoked
	}
	return link, nil
}
