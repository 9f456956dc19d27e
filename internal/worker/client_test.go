package worker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(transient []int, maxAttempts int) (*Client, *[]time.Duration) {
	client := NewClient("test-key", 30*time.Second, maxAttempts, transient)
	slept := &[]time.Duration{}
	client.sleep = func(d time.Duration) {
		*slept = append(*slept, d)
	}
	return client, slept
}

func TestGenerateSuccess(t *testing.T) {
	var gotPrompt string
	var gotImages int
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/generate" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		gotPrompt = r.FormValue("prompt")
		gotImages = len(r.MultipartForm.File["images"])
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(srv.Close)

	client, slept := newTestClient(nil, 3)
	refs := []ReferenceImage{
		{Filename: "a.jpg", Data: []byte("aaa")},
		{Data: []byte("bbb")}, // 無名はクライアント側で補完される
	}
	resp, err := client.Generate(context.Background(), srv.URL, "a cat", refs, nil)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if string(resp.Data) != "png-bytes" || resp.ContentType != "image/png" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if gotPrompt != "a cat" || gotImages != 2 {
		t.Fatalf("server saw prompt=%q images=%d", gotPrompt, gotImages)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(*slept) != 0 {
		t.Fatalf("unexpected backoff on first attempt: %#v", *slept)
	}
}

func TestGenerateRetriesTransientStatus(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	t.Cleanup(srv.Close)

	client, slept := newTestClient([]int{502, 503, 504}, 3)
	var reports []string
	resp, err := client.Generate(context.Background(), srv.URL, "a cat", nil, func(message string) {
		reports = append(reports, message)
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if string(resp.Data) != "jpeg-bytes" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	// バックオフは 2秒, 4秒
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*slept) != len(want) || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Fatalf("unexpected backoff: %#v", *slept)
	}
	if len(reports) != 2 {
		t.Fatalf("unexpected retry reports: %#v", reports)
	}
}

func TestGenerateNonTransientFailsImmediately(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad prompt"))
	}))
	t.Cleanup(srv.Close)

	client, slept := newTestClient([]int{502, 503, 504}, 3)
	_, err := client.Generate(context.Background(), srv.URL, "a cat", nil, nil)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if len(*slept) != 0 {
		t.Fatalf("unexpected backoff: %#v", *slept)
	}
}

func TestGenerateExhaustsAttempts(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client, _ := newTestClient([]int{502}, 3)
	_, err := client.Generate(context.Background(), srv.URL, "a cat", nil, nil)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestGenerateBodyReadTimeoutIsTransient(t *testing.T) {
	// ヘッダーを返した後にボディを止め、読み取り中のタイムアウトを起こす
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(300 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	client := NewClient("", 50*time.Millisecond, 3, nil)
	var slept []time.Duration
	client.sleep = func(d time.Duration) {
		slept = append(slept, d)
	}

	_, err := client.Generate(context.Background(), srv.URL, "a cat", nil, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (body-read timeout must be retried)", calls)
	}
	if len(slept) != 2 {
		t.Fatalf("unexpected backoff count: %#v", slept)
	}
}

func TestGenerateConnectionFailureIsTransient(t *testing.T) {
	// 接続先のないURLで即座に失敗させる
	client, slept := newTestClient(nil, 2)
	_, err := client.Generate(context.Background(), "http://127.0.0.1:1", "a cat", nil, nil)
	if err == nil {
		t.Fatal("expected error for unreachable backend")
	}
	if len(*slept) != 1 {
		t.Fatalf("expected one retry, slept %#v", *slept)
	}
}
