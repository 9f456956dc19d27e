package generate

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/image-forge/internal/store"
)

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/generate", SubmitHandler(svc))
	router.GET("/api/generate", ListHandler(svc))
	router.GET("/api/generate/:id", StatusHandler(svc))
	router.POST("/api/generate/:id/cancel", CancelHandler(svc))
	router.POST("/api/generate/:id/retry", RetryHandler(svc))
	return router
}

func TestSubmitHandlerAccepted(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := newTestRouter(svc)

	body, _ := json.Marshal(SubmitRequest{Prompt: "a cat", ConsentConfirmed: true})
	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp SubmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.JobID == "" || resp.TaskID == "" {
		t.Fatalf("missing handles: %#v", resp)
	}
}

func TestSubmitHandlerRejectsInvalidBody(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewBufferString("not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSubmitHandlerRequiresConsent(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := newTestRouter(svc)

	body, _ := json.Marshal(SubmitRequest{Prompt: "a cat"})
	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if payload["code"] != CodeInvalidArgument {
		t.Fatalf("code = %q", payload["code"])
	}
}

func TestStatusHandlerNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/generate/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListHandlerRejectsTooLargeLimit(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/generate?limit=201", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListHandlerRejectsUnknownStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/generate?status=finished", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListHandlerFiltersByStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := newTestRouter(svc)

	for i := 0; i < 3; i++ {
		body, _ := json.Marshal(SubmitRequest{Prompt: "a cat", ConsentConfirmed: true})
		req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("submit %d failed: %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/generate?status=queued", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Jobs []*JobView `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(payload.Jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(payload.Jobs))
	}
	for _, job := range payload.Jobs {
		if job.Status != string(store.StatusQueued) {
			t.Fatalf("unexpected status in filtered list: %q", job.Status)
		}
	}
}

func TestCancelHandler(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := newTestRouter(svc)

	body, _ := json.Marshal(SubmitRequest{Prompt: "a cat", ConsentConfirmed: true})
	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var submitted SubmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("failed to decode submit response: %v", err)
	}

	cancelReq := httptest.NewRequest(http.MethodPost, "/api/generate/"+submitted.JobID+"/cancel", nil)
	cancelRec := httptest.NewRecorder()
	router.ServeHTTP(cancelRec, cancelReq)

	if cancelRec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", cancelRec.Code, cancelRec.Body.String())
	}
	var view JobView
	if err := json.Unmarshal(cancelRec.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode cancel response: %v", err)
	}
	if view.Status != string(store.StatusCancelled) {
		t.Fatalf("Status = %q, want cancelled", view.Status)
	}
}

func TestRetryHandlerCreated(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := newTestRouter(svc)

	body, _ := json.Marshal(SubmitRequest{Prompt: "a cat", ConsentConfirmed: true})
	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var submitted SubmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("failed to decode submit response: %v", err)
	}

	retryReq := httptest.NewRequest(http.MethodPost, "/api/generate/"+submitted.JobID+"/retry", nil)
	retryRec := httptest.NewRecorder()
	router.ServeHTTP(retryRec, retryReq)

	if retryRec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", retryRec.Code, retryRec.Body.String())
	}
	var view JobView
	if err := json.Unmarshal(retryRec.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode retry response: %v", err)
	}
	if view.ID == submitted.JobID {
		t.Fatal("retry must return a new job id")
	}
}
