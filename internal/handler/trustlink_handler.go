package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"consent-vault-service/internal/domain"
	"consent-vault-service/internal/middleware"
	"consent-vault-service/internal/usecase"
	"consent-vault-service/pkg/httputil"
)

// TrustLinkHandler はTrustLinkのHTTPハンドラを提供する。
type TrustLinkHandler struct {
	service *usecase.TrustLinkService
}

// NewTrustLinkHandler は新しいTrustLinkHandlerを生成する。
func NewTrustLinkHandler(service *usecase.TrustLinkService) *TrustLinkHandler {
	return &TrustLinkHandler{service: service}
}

// CreateTrustLinkBody はTrustLink発行のリクエスト形式。
type CreateTrustLinkBody struct {
	AuthorizingToken string `json:"authorizing_token"`
	TargetAgentID    string `json:"target_agent_id"`
	DelegatedScope   string `json:"delegated_scope"`
	TTLSeconds       int64  `json:"ttl_seconds,omitempty"`
}

// VerifyTrustLinkBody はTrustLink検証のリクエスト形式。
type VerifyTrustLinkBody struct {
	Link string `json:"link"`
}

// TrustLinkResponse はTrustLinkのレスポンス形式。
type TrustLinkResponse struct {
	LinkID             string `json:"link_id"`
	SourceAgentID      string `json:"source_agent_id"`
	TargetAgentID      string `json:"target_agent_id"`
	AuthorizingTokenID string `json:"authorizing_token_id"`
	DelegatedScope     string `json:"delegated_scope"`
	IssuedAt           string `json:"issued_at"`
	ExpiresAt          string `json:"expires_at"`
	Link               string `json:"link,omitempty"`
}

func toTrustLinkResponse(link *domain.TrustLink, linkBytes []byte) TrustLinkResponse {
	resp := TrustLinkResponse{
		LinkID:             link.LinkID,
		SourceAgentID:      link.SourceAgentID,
		TargetAgentID:      link.TargetAgentID,
		AuthorizingTokenID: link.AuthorizingTokenID,
		DelegatedScope:     link.DelegatedScope,
		IssuedAt:           link.IssuedAt.UTC().Format(time.RFC3339),
		ExpiresAt:          link.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if len(linkBytes) > 0 {
		resp.Link = base64.StdEncoding.EncodeToString(linkBytes)
	}
	return resp
}

// CreateTrustLink は認可トークンを根拠にTrustLinkを発行する。
func (h *TrustLinkHandler) CreateTrustLink(w http.ResponseWriter, r *http.Request) {
	var body CreateTrustLinkBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	if err := validateActorID(body.TargetAgentID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TARGET_AGENT_ID", "invalid target agent ID format")
		return
	}

	tokenBytes, err := base64.StdEncoding.DecodeString(body.AuthorizingToken)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "MALFORMED_TOKEN", "authorizing token must be base64 encoded")
		return
	}

	link, linkBytes, err := h.service.Create(r.Context(), tokenBytes,
		body.TargetAgentID, body.DelegatedScope, time.Duration(body.TTLSeconds)*time.Second)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "CREATE_TRUST_LINK", "", body.DelegatedScope, "FAILED")
		writeTokenError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "CREATE_TRUST_LINK", link.SourceAgentID, body.DelegatedScope, "SUCCESS")
	httputil.JSON(w, http.StatusCreated, toTrustLinkResponse(link, linkBytes))
}

// VerifyTrustLink はワイヤ形式のTrustLinkを検証する。
func (h *TrustLinkHandler) VerifyTrustLink(w http.ResponseWriter, r *http.Request) {
	var body VerifyTrustLinkBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	linkBytes, err := base64.StdEncoding.DecodeString(body.Link)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "MALFORMED_TOKEN", "link must be base64 encoded")
		return
	}

	link, err := h.service.Verify(r.Context(), linkBytes)
	if err != nil {
		if errors.Is(err, domain.ErrTokenRevoked) {
			middleware.WriteAuditLog(r.Context(), "VERIFY_TRUST_LINK", "", "", "FAILED")
			httputil.Error(w, http.StatusUnauthorized, "TOKEN_REVOKED", "authorizing token has been revoked")
			return
		}
		middleware.WriteAuditLog(r.Context(), "VERIFY_TRUST_LINK", "", "", "FAILED")
		writeTokenError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "VERIFY_TRUST_LINK", link.SourceAgentID, link.DelegatedScope, "SUCCESS")
	httputil.JSON(w, http.StatusOK, toTrustLinkResponse(link, nil))
}
