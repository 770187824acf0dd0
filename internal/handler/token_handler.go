package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"consent-vault-service/internal/crypto"
	"consent-vault-service/internal/domain"
	"consent-vault-service/internal/middleware"
	"consent-vault-service/internal/usecase"
	"consent-vault-service/pkg/httputil"
)

// TokenHandler はConsent TokenのHTTPハンドラを提供する。
type TokenHandler struct {
	service *usecase.TokenService
}

// NewTokenHandler は新しいTokenHandlerを生成する。
func NewTokenHandler(service *usecase.TokenService) *TokenHandler {
	return &TokenHandler{service: service}
}

// ValidateTokenBody はトークン検証のリクエスト形式。
type ValidateTokenBody struct {
	Token         string `json:"token"`
	ExpectedScope string `json:"expected_scope"`
}

// TokenResponse は検証済みトークンのレスポンス形式。
type TokenResponse struct {
	TokenID   string `json:"token_id"`
	SubjectID string `json:"subject_id"`
	HolderID  string `json:"holder_id"`
	Scope     string `json:"scope"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
}

// RevokeTokenBody はトークン失効のリクエスト形式。
// token、token_id、(subject_id, holder_id, scope) の3形式のいずれかを受け付ける。
type RevokeTokenBody struct {
	Token     string `json:"token,omitempty"`
	TokenID   string `json:"token_id,omitempty"`
	SubjectID string `json:"subject_id,omitempty"`
	HolderID  string `json:"holder_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
}

// writeTokenError はトークン検証の失敗理由をHTTPステータスに対応付ける。
func writeTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMalformedToken):
		httputil.Error(w, http.StatusBadRequest, "MALFORMED_TOKEN", "token is malformed")
	case errors.Is(err, domain.ErrBadSignature):
		httputil.Error(w, http.StatusUnauthorized, "BAD_SIGNATURE", "token signature verification failed")
	case errors.Is(err, domain.ErrTokenExpired):
		httputil.Error(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "token has expired")
	case errors.Is(err, domain.ErrTokenRevoked):
		httputil.Error(w, http.StatusUnauthorized, "TOKEN_REVOKED", "token has been revoked")
	case errors.Is(err, domain.ErrScopeMismatch):
		httputil.Error(w, http.StatusForbidden, "SCOPE_MISMATCH", "token scope does not satisfy expected scope")
	case errors.Is(err, domain.ErrInvalidScope):
		httputil.Error(w, http.StatusBadRequest, "INVALID_SCOPE", "invalid scope format")
	default:
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// ValidateToken はワイヤ形式のトークンを期待スコープに対して検証する。
func (h *TokenHandler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	var body ValidateTokenBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	tokenBytes, err := base64.StdEncoding.DecodeString(body.Token)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "MALFORMED_TOKEN", "token must be base64 encoded")
		return
	}

	token, err := h.service.Validate(r.Context(), tokenBytes, body.ExpectedScope)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "VALIDATE_TOKEN", "", body.ExpectedScope, "FAILED")
		writeTokenError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "VALIDATE_TOKEN", token.SubjectID, body.ExpectedScope, "SUCCESS")
	httputil.JSON(w, http.StatusOK, TokenResponse{
		TokenID:   token.TokenID,
		SubjectID: token.SubjectID,
		HolderID:  token.HolderID,
		Scope:     token.Scope,
		IssuedAt:  token.IssuedAt.UTC().Format(time.RFC3339),
		ExpiresAt: token.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// RevokeToken はトークンを失効させる。冪等であり、完了後は202を返す。
func (h *TokenHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	var body RevokeTokenBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	var err error
	switch {
	case body.Token != "":
		var tokenBytes []byte
		tokenBytes, err = base64.StdEncoding.DecodeString(body.Token)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "MALFORMED_TOKEN", "token must be base64 encoded")
			return
		}
		var token *domain.ConsentToken
		token, err = crypto.DecodeToken(tokenBytes)
		if err == nil {
			err = h.service.Revoke(r.Context(), token)
		}
	case body.TokenID != "":
		err = h.service.RevokeByID(r.Context(), body.TokenID)
	case body.SubjectID != "" && body.HolderID != "" && body.Scope != "":
		err = h.service.RevokeGrant(r.Context(), body.SubjectID, body.HolderID, body.Scope)
	default:
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "token, token_id, or (subject_id, holder_id, scope) is required")
		return
	}

	if err != nil {
		if errors.Is(err, domain.ErrMalformedToken) || errors.Is(err, domain.ErrInvalidScope) ||
			errors.Is(err, domain.ErrInvalidSubjectID) {
			middleware.WriteAuditLog(r.Context(), "REVOKE_TOKEN", body.SubjectID, body.Scope, "FAILED")
			httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid revocation target")
			return
		}
		middleware.WriteAuditLog(r.Context(), "REVOKE_TOKEN", body.SubjectID, body.Scope, "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "REVOKE_TOKEN", body.SubjectID, body.Scope, "SUCCESS")
	w.WriteHeader(http.StatusAccepted)
}
