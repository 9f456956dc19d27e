package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"time"
)

const connectTimeout = 5 * time.Second

// ReferenceImage は生成リクエストに添付する参照画像1枚です。
type ReferenceImage struct {
	Filename string
	Data     []byte
}

// GenerateResponse はバックエンドが返した生成物です。
type GenerateResponse struct {
	Data        []byte
	ContentType string
}

// statusError はバックエンドがエラーステータスを返した場合のエラーです。
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GPU server error %d: %s", e.Status, e.Body)
}

// Client は推論バックエンドの /generate を呼び出します。
// 一時的な失敗（タイムアウト・接続失敗・設定されたHTTPステータス）は
// バックオフ付きで再試行し、それ以外は即座に失敗します。
type Client struct {
	APIKey      string
	MaxAttempts int
	Transient   map[int]bool // 再試行対象のHTTPステータス

	httpClient *http.Client
	sleep      func(time.Duration) // テストで差し替える
}

// NewClient は Client を作成します。readTimeout は生成リクエスト全体の
// 読み取りタイムアウト、transientStatus は再試行対象ステータスの一覧です。
func NewClient(apiKey string, readTimeout time.Duration, maxAttempts int, transientStatus []int) *Client {
	transient := make(map[int]bool, len(transientStatus))
	for _, code := range transientStatus {
		transient[code] = true
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Client{
		APIKey:      apiKey,
		MaxAttempts: maxAttempts,
		Transient:   transient,
		httpClient: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext:           dialContextWithTimeout(connectTimeout),
				TLSHandshakeTimeout:   connectTimeout,
				ResponseHeaderTimeout: readTimeout,
			},
		},
		sleep: time.Sleep,
	}
}

// Generate はプロンプトと参照画像を multipart で送信し、生成物のバイト列を返します。
// report は再試行のたびに呼ばれる進捗通知です（nil 可）。
func (c *Client) Generate(ctx context.Context, baseURL, prompt string, refs []ReferenceImage, report func(message string)) (*GenerateResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		if attempt > 1 {
			if report != nil {
				report(fmt.Sprintf("retrying GPU request (%d/%d)", attempt, c.MaxAttempts))
			}
			c.sleep(time.Duration(2*(attempt-1)) * time.Second)
		}

		resp, err := c.attempt(ctx, baseURL, prompt, refs)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !c.isTransient(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("GPU request failed after retries: %w", lastErr)
}

func (c *Client) attempt(ctx context.Context, baseURL, prompt string, refs []ReferenceImage) (*GenerateResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("prompt", prompt); err != nil {
		return nil, err
	}
	for i, ref := range refs {
		name := ref.Filename
		if name == "" {
			name = fmt.Sprintf("image%d.jpg", i+1)
		}
		part, err := writer.CreateFormFile("images", name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(ref.Data); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/generate", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2000))
		return nil, &statusError{Status: resp.StatusCode, Body: string(detail)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &GenerateResponse{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func dialContextWithTimeout(timeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	return dialer.DialContext
}

// isTransient は再試行すべき失敗かどうかを判定します。
// トランスポート層の失敗（タイムアウト・接続不可）は一時的とみなし、
// HTTPステータスは設定された一覧にある場合のみ一時的とみなします。
// Client.Timeout がボディ読み取り中に切れた場合は *url.Error にならないため、
// net.Error のタイムアウト判定も見ます。
func (c *Client) isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return c.Transient[se.Status]
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
