// Package handler はHTTPハンドラを提供する。
package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"consent-vault-service/internal/domain"
	"consent-vault-service/internal/middleware"
	"consent-vault-service/internal/usecase"
	"consent-vault-service/pkg/httputil"
)

var actorIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// ConsentHandler は同意リクエストのHTTPハンドラを提供する。
type ConsentHandler struct {
	service *usecase.ConsentService
}

// NewConsentHandler は新しいConsentHandlerを生成する。
func NewConsentHandler(service *usecase.ConsentService) *ConsentHandler {
	return &ConsentHandler{service: service}
}

func validateActorID(actorID string) error {
	if actorID == "" {
		return domain.ErrInvalidSubjectID
	}
	if len(actorID) > 128 {
		return domain.ErrInvalidSubjectID
	}
	if !actorIDRegex.MatchString(actorID) {
		return domain.ErrInvalidSubjectID
	}
	return nil
}

// ConsentRequestBody は同意リクエスト作成のリクエスト形式。
type ConsentRequestBody struct {
	RequesterID    string `json:"requester_id"`
	RequestedScope string `json:"requested_scope"`
}

// ConsentRequestResponse は同意リクエストのレスポンス形式。
type ConsentRequestResponse struct {
	RequestID      string `json:"request_id"`
	SubjectID      string `json:"subject_id"`
	RequesterID    string `json:"requester_id"`
	RequestedScope string `json:"requested_scope"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	DecidedAt      string `json:"decided_at,omitempty"`
	TokenID        string `json:"token_id,omitempty"`
	Token          string `json:"token,omitempty"`
}

func toConsentRequestResponse(req *domain.ConsentRequest) ConsentRequestResponse {
	resp := ConsentRequestResponse{
		RequestID:      req.RequestID,
		SubjectID:      req.SubjectID,
		RequesterID:    req.RequesterID,
		RequestedScope: req.RequestedScope,
		Status:         string(req.Status),
		CreatedAt:      req.CreatedAt.UTC().Format(time.RFC3339),
		TokenID:        req.ResultingTokenID,
	}
	if req.DecidedAt != nil {
		resp.DecidedAt = req.DecidedAt.UTC().Format(time.RFC3339)
	}
	if len(req.ResultingToken) > 0 {
		resp.Token = base64.StdEncoding.EncodeToString(req.ResultingToken)
	}
	return resp
}

// RequestConsent は同意リクエストを登録する。
// 事前認可または既存グラントの再利用で即時に承認された場合は201、
// サブジェクトの決定待ちとなった場合は202を返す。
func (h *ConsentHandler) RequestConsent(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subject_id")
	if err := validateActorID(subjectID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_SUBJECT_ID", "invalid subject ID format")
		return
	}

	var body ConsentRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	if err := validateActorID(body.RequesterID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUESTER_ID", "invalid requester ID format")
		return
	}

	request, err := h.service.Request(r.Context(), subjectID, body.RequesterID, body.RequestedScope)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidScope) {
			httputil.Error(w, http.StatusBadRequest, "INVALID_SCOPE", "invalid scope format")
			return
		}
		middleware.WriteAuditLog(r.Context(), "REQUEST_CONSENT", subjectID, body.RequestedScope, "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "REQUEST_CONSENT", subjectID, body.RequestedScope, string(request.Status))
	status := http.StatusAccepted
	if request.Status == domain.RequestStatusGranted {
		status = http.StatusCreated
	}
	httputil.JSON(w, status, toConsentRequestResponse(request))
}

// GetConsentStatus は同意リクエストの現在状態を返す。
func (h *ConsentHandler) GetConsentStatus(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")

	request, err := h.service.Status(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, domain.ErrRequestNotFound) {
			httputil.Error(w, http.StatusNotFound, "REQUEST_NOT_FOUND", "consent request not found")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	httputil.JSON(w, http.StatusOK, toConsentRequestResponse(request))
}

// ApproveConsent は同意リクエストを承認し、トークンを発行する。
func (h *ConsentHandler) ApproveConsent(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")

	request, err := h.service.Approve(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, domain.ErrRequestNotFound) {
			httputil.Error(w, http.StatusNotFound, "REQUEST_NOT_FOUND", "consent request not found")
			return
		}
		if errors.Is(err, domain.ErrRequestTimeout) {
			httputil.Error(w, http.StatusConflict, "REQUEST_TIMEOUT", "consent request exceeded its decision window")
			return
		}
		middleware.WriteAuditLog(r.Context(), "APPROVE_CONSENT", "", "", "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "APPROVE_CONSENT", request.SubjectID, request.RequestedScope, string(request.Status))
	httputil.JSON(w, http.StatusOK, toConsentRequestResponse(request))
}

// DenyConsent は同意リクエストを拒否する。
func (h *ConsentHandler) DenyConsent(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")

	request, err := h.service.Deny(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, domain.ErrRequestNotFound) {
			httputil.Error(w, http.StatusNotFound, "REQUEST_NOT_FOUND", "consent request not found")
			return
		}
		if errors.Is(err, domain.ErrRequestTimeout) {
			httputil.Error(w, http.StatusConflict, "REQUEST_TIMEOUT", "consent request exceeded its decision window")
			return
		}
		middleware.WriteAuditLog(r.Context(), "DENY_CONSENT", "", "", "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "DENY_CONSENT", request.SubjectID, request.RequestedScope, string(request.Status))
	httputil.JSON(w, http.StatusOK, toConsentRequestResponse(request))
}
