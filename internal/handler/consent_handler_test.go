package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestRequestConsent_Pending(t *testing.T) {
	env := newTestEnv(t)

	body := `{"requester_id":"agent.assistant.v1","requested_scope":"attr.food.*"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/subjects/subject-001/consents", strings.NewReader(body))
	req = withURLParam(req, "subject_id", "subject-001")

	rec := httptest.NewRecorder()
	env.consent.RequestConsent(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("want status 202, got %d", rec.Code)
	}

	var resp map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["status"] != "pending" {
		t.Errorf("want status pending, got %v", resp["status"])
	}
	if resp["request_id"] == "" {
		t.Error("want request_id to be set")
	}
	if _, ok := resp["token"]; ok {
		t.Error("pending request must not carry a token")
	}
}

func TestRequestConsent_OwnerPreAuthorized(t *testing.T) {
	env := newTestEnv(t)

	body := `{"requester_id":"subject-001","requested_scope":"attr.food.*"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/subjects/subject-001/consents", strings.NewReader(body))
	req = withURLParam(req, "subject_id", "subject-001")

	rec := httptest.NewRecorder()
	env.consent.RequestConsent(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("want status 201, got %d", rec.Code)
	}

	var resp map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["status"] != "granted" {
		t.Errorf("want status granted, got %v", resp["status"])
	}
	if resp["token"] == nil || resp["token"] == "" {
		t.Error("want granted request to carry a token")
	}
}

func TestRequestConsent_InvalidScope(t *testing.T) {
	env := newTestEnv(t)

	body := `{"requester_id":"agent.assistant.v1","requested_scope":"attr.*.cuisine"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/subjects/subject-001/consents", strings.NewReader(body))
	req = withURLParam(req, "subject_id", "subject-001")

	rec := httptest.NewRecorder()
	env.consent.RequestConsent(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}
}

func TestRequestConsent_InvalidSubjectID(t *testing.T) {
	env := newTestEnv(t)

	body := `{"requester_id":"agent.assistant.v1","requested_scope":"attr.food.*"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/subjects/bad@subject/consents", strings.NewReader(body))
	req = withURLParam(req, "subject_id", "bad@subject")

	rec := httptest.NewRecorder()
	env.consent.RequestConsent(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}
}

// 依頼から承認、状態取得までの一連の流れを確認する。
func TestApproveConsent_Flow(t *testing.T) {
	env := newTestEnv(t)

	body := `{"requester_id":"agent.assistant.v1","requested_scope":"attr.food.cuisine"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/subjects/subject-001/consents", strings.NewReader(body))
	req = withURLParam(req, "subject_id", "subject-001")
	rec := httptest.NewRecorder()
	env.consent.RequestConsent(rec, req)

	var created map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&created)
	requestID, _ := created["request_id"].(string)
	if requestID == "" {
		t.Fatal("want request_id to be set")
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/consents/"+requestID+"/approve", nil)
	req = withURLParam(req, "request_id", requestID)
	rec = httptest.NewRecorder()
	env.consent.ApproveConsent(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("want status 200, got %d", rec.Code)
	}
	var approved map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&approved)
	if approved["status"] != "granted" {
		t.Errorf("want status granted, got %v", approved["status"])
	}
	if approved["token"] == nil || approved["token"] == "" {
		t.Error("want approved request to carry a token")
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/consents/"+requestID, nil)
	req = withURLParam(req, "request_id", requestID)
	rec = httptest.NewRecorder()
	env.consent.GetConsentStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("want status 200, got %d", rec.Code)
	}
	var status map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&status)
	if status["status"] != "granted" {
		t.Errorf("want status granted, got %v", status["status"])
	}
}

func TestDenyConsent(t *testing.T) {
	env := newTestEnv(t)

	body := `{"requester_id":"agent.assistant.v1","requested_scope":"attr.food.cuisine"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/subjects/subject-001/consents", strings.NewReader(body))
	req = withURLParam(req, "subject_id", "subject-001")
	rec := httptest.NewRecorder()
	env.consent.RequestConsent(rec, req)

	var created map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&created)
	requestID, _ := created["request_id"].(string)

	req = httptest.NewRequest(http.MethodPost, "/v1/consents/"+requestID+"/deny", nil)
	req = withURLParam(req, "request_id", requestID)
	rec = httptest.NewRecorder()
	env.consent.DenyConsent(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("want status 200, got %d", rec.Code)
	}
	var denied map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&denied)
	if denied["status"] != "denied" {
		t.Errorf("want status denied, got %v", denied["status"])
	}
	if _, ok := denied["token"]; ok {
		t.Error("denied request must not carry a token")
	}
}

func TestGetConsentStatus_NotFound(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/consents/nonexistent", nil)
	req = withURLParam(req, "request_id", "nonexistent")
	rec := httptest.NewRecorder()
	env.consent.GetConsentStatus(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}
}
