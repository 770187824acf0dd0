package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"consent-vault-service/internal/domain"
)

// DefaultDecisionWindow は同意リクエストの決定期限のデフォルト値。
const DefaultDecisionWindow = 1 * time.Hour

// RequestRepository は同意リクエストへのアクセスのインターフェース。
type RequestRepository interface {
	Create(ctx context.Context, request *domain.ConsentRequest) error
	FindByID(ctx context.Context, requestID string) (*domain.ConsentRequest, error)
	FindGrantedBySubjectAndRequester(ctx context.Context, subjectID, requesterID string) ([]*domain.ConsentRequest, error)
	CompareAndSetStatus(ctx context.Context, requestID string, expected, next domain.RequestStatus, decidedAt *time.Time, tokenID string, tokenBytes []byte) (bool, error)
	ExpireStalePending(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteDecidedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Notifier はサブジェクトへの承認依頼通知のインターフェース。
// 通知はfire-and-forgetであり、失敗しても状態遷移を妨げてはならない。
type Notifier interface {
	NotifySubject(ctx context.Context, subjectID, requestID string) error
}

// ConsentService は人間の承認を介する同意リクエストの
// 状態機械（pending → granted/denied/expired）を管理する。
type ConsentService struct {
	requests       RequestRepository
	tokens         *TokenService
	notifier       Notifier
	decisionWindow time.Duration
	now            func() time.Time
}

// NewConsentService は新しいConsentServiceを生成する。
// decisionWindowが0以下の場合はDefaultDecisionWindowを使用する。
func NewConsentService(requests RequestRepository, tokens *TokenService, notifier Notifier, decisionWindow time.Duration) *ConsentService {
	if decisionWindow <= 0 {
		decisionWindow = DefaultDecisionWindow
	}
	return &ConsentService{
		requests:       requests,
		tokens:         tokens,
		notifier:       notifier,
		decisionWindow: decisionWindow,
		now:            time.Now,
	}
}

// Request は指定されたスコープへのアクセス要求を登録する。
//
// サブジェクト自身のセッション（requesterID == subjectID）は事前認可
// とみなし、即時にトークンを発行して承認済みリクエストを返す。
// それ以外の場合、まず既存の承認済みグラントを確認し、要求スコープを
// 満たす有効なトークンがあればそれを再利用する（reuse-if-satisfies）。
// どちらにも該当しなければpendingのリクエストを作成し、サブジェクトへ
// 承認依頼を通知する。
func (s *ConsentService) Request(ctx context.Context, subjectID, requesterID, requestedScope string) (*domain.ConsentRequest, error) {
	if subjectID == "" || requesterID == "" {
		return nil, domain.ErrInvalidSubjectID
	}
	if _, err := domain.ParseScope(requestedScope); err != nil {
		return nil, err
	}

	// サブジェクト自身のセッションは事前認可
	if requesterID == subjectID {
		return s.grantImmediately(ctx, subjectID, requesterID, requestedScope)
	}

	// 既存グラントの再利用を試みる
	if reused, err := s.findReusableGrant(ctx, subjectID, requesterID, requestedScope); err != nil {
		return nil, err
	} else if reused != nil {
		return reused, nil
	}

	request := &domain.ConsentRequest{
		SubjectID:      subjectID,
		RequesterID:    requesterID,
		RequestedScope: requestedScope,
		Status:         domain.RequestStatusPending,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, fmt.Errorf("creating consent request: %w", err)
	}

	// 通知の失敗はリクエスト登録を失敗させない
	if err := s.notifier.NotifySubject(ctx, subjectID, request.RequestID); err != nil {
		slog.WarnContext(ctx, "failed to notify subject of consent request",
			"operation", "request_consent",
			"subject_id", subjectID,
			"request_id", request.RequestID,
			"error", err,
		)
	}
	return request, nil
}

// grantImmediately は事前認可されたリクエストを即時に承認済みとして登録する。
func (s *ConsentService) grantImmediately(ctx context.Context, subjectID, requesterID, scope string) (*domain.ConsentRequest, error) {
	token, tokenBytes, err := s.tokens.Issue(ctx, subjectID, requesterID, scope, 0)
	if err != nil {
		return nil, err
	}

	decided := s.now().UTC()
	request := &domain.ConsentRequest{
		SubjectID:        subjectID,
		RequesterID:      requesterID,
		RequestedScope:   scope,
		Status:           domain.RequestStatusGranted,
		DecidedAt:        &decided,
		ResultingTokenID: token.TokenID,
		ResultingToken:   tokenBytes,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, fmt.Errorf("creating pre-authorized request: %w", err)
	}
	return request, nil
}

// findReusableGrant は要求スコープを満たす既存の有効なグラントを探す。
// より狭い再要求に対して新しいトークンを発行する代わりに、既存の広い
// トークンを再利用する。見つからない場合はnilを返す。
func (s *ConsentService) findReusableGrant(ctx context.Context, subjectID, requesterID, requestedScope string) (*domain.ConsentRequest, error) {
	granted, err := s.requests.FindGrantedBySubjectAndRequester(ctx, subjectID, requesterID)
	if err != nil {
		return nil, fmt.Errorf("finding granted requests: %w", err)
	}

	for _, prior := range granted {
		if len(prior.ResultingToken) == 0 {
			continue
		}
		// 署名・期限・失効・スコープ包含が全て通るトークンのみ再利用できる
		if _, err := s.tokens.Validate(ctx, prior.ResultingToken, requestedScope); err != nil {
			continue
		}
		return prior, nil
	}
	return nil, nil
}

// Approve は同意リクエストを承認し、要求スコープのトークンを発行する。
// サブジェクト本人による明示的な呼び出しのみが承認となる。
// 決定期限を過ぎたリクエストへの承認はErrRequestTimeout。それ以外の
// 終端状態に対しては現在の状態をそのまま返し、競合の敗者は勝者の
// 結果を観測する。
func (s *ConsentService) Approve(ctx context.Context, requestID string) (*domain.ConsentRequest, error) {
	request, err := s.loadWithLazyExpiry(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status == domain.RequestStatusExpired {
		return nil, domain.ErrRequestTimeout
	}
	if request.Status.IsTerminal() {
		return request, nil
	}

	token, tokenBytes, err := s.tokens.Issue(ctx, request.SubjectID, request.RequesterID, request.RequestedScope, 0)
	if err != nil {
		return nil, err
	}

	decided := s.now().UTC()
	won, err := s.requests.CompareAndSetStatus(ctx, requestID,
		domain.RequestStatusPending, domain.RequestStatusGranted,
		&decided, token.TokenID, tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("transitioning request to granted: %w", err)
	}
	if !won {
		// 競合に敗れた場合、発行済みトークンを失効させて勝者の結果を返す
		if revokeErr := s.tokens.Revoke(ctx, token); revokeErr != nil {
			slog.ErrorContext(ctx, "failed to revoke orphaned token after lost race",
				"operation", "approve_consent",
				"request_id", requestID,
				"token_id", token.TokenID,
				"error", revokeErr,
			)
		}
		return s.reload(ctx, requestID)
	}

	request.Status = domain.RequestStatusGranted
	request.DecidedAt = &decided
	request.ResultingTokenID = token.TokenID
	request.ResultingToken = tokenBytes
	return request, nil
}

// Deny は同意リクエストを拒否する。pendingからの呼び出し側協調的な
// キャンセルとしても機能する。決定期限を過ぎたリクエストへの拒否は
// ErrRequestTimeout。それ以外の終端状態の場合は現在の状態を返す。
func (s *ConsentService) Deny(ctx context.Context, requestID string) (*domain.ConsentRequest, error) {
	request, err := s.loadWithLazyExpiry(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status == domain.RequestStatusExpired {
		return nil, domain.ErrRequestTimeout
	}
	if request.Status.IsTerminal() {
		return request, nil
	}

	decided := s.now().UTC()
	won, err := s.requests.CompareAndSetStatus(ctx, requestID,
		domain.RequestStatusPending, domain.RequestStatusDenied,
		&decided, "", nil)
	if err != nil {
		return nil, fmt.Errorf("transitioning request to denied: %w", err)
	}
	if !won {
		return s.reload(ctx, requestID)
	}

	request.Status = domain.RequestStatusDenied
	request.DecidedAt = &decided
	return request, nil
}

// Status は同意リクエストの現在状態を返す。遅延期限判定を除いて
// 副作用を持たず、冪等である。決定期限を過ぎたポーリングは
// 決定的にexpiredを返し、それ以上の状態変化は起きない。
func (s *ConsentService) Status(ctx context.Context, requestID string) (*domain.ConsentRequest, error) {
	return s.loadWithLazyExpiry(ctx, requestID)
}

// loadWithLazyExpiry はリクエストを取得し、決定期限を過ぎたpendingを
// expiredへ遷移させる。バックグラウンドの掃除は不要で、読み取り時に
// 遅延評価する。
func (s *ConsentService) loadWithLazyExpiry(ctx context.Context, requestID string) (*domain.ConsentRequest, error) {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("finding consent request: %w", err)
	}
	if request == nil {
		return nil, domain.ErrRequestNotFound
	}

	if request.Status == domain.RequestStatusPending &&
		s.now().Sub(request.CreatedAt) > s.decisionWindow {
		won, err := s.requests.CompareAndSetStatus(ctx, requestID,
			domain.RequestStatusPending, domain.RequestStatusExpired,
			nil, "", nil)
		if err != nil {
			return nil, fmt.Errorf("transitioning request to expired: %w", err)
		}
		if !won {
			return s.reload(ctx, requestID)
		}
		request.Status = domain.RequestStatusExpired
	}
	return request, nil
}

// reload は競合敗者のためにリクエストを読み直す。
func (s *ConsentService) reload(ctx context.Context, requestID string) (*domain.ConsentRequest, error) {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("reloading consent request: %w", err)
	}
	if request == nil {
		return nil, domain.ErrRequestNotFound
	}
	return request, nil
}
