// Package worker はキューから受け取った生成タスクの実行エンジンを提供します。
// 推論バックエンドの解決・呼び出しと、バックエンド不在時の代替生成を含みます。
package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// 解決理由の一覧。Resolution.Reason に入ります。
const (
	ReasonExplicitOverride   = "explicit_gpu_server_url"
	ReasonAutoDisabled       = "auto_gpu_server_disabled"
	ReasonAutoDiscovered     = "auto_discovered"
	ReasonNoHealthyCandidate = "no_healthy_candidates"
)

const healthProbeTimeout = 2 * time.Second

// Resolution はバックエンド解決の結果です。URL が空の場合はバックエンドなしを意味します。
type Resolution struct {
	URL     string `json:"url"`
	Reason  string `json:"reason"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"` // 不健康時の診断情報
}

// Resolver は呼び出しごとに使用すべきバックエンドURLを決定します。
// キャッシュは持たず、毎回現在の可用性を反映します。
type Resolver struct {
	Override   string   // 明示的な上書きURL（健康状態に関わらず採用される）
	Auto       bool     // 自動探索を有効にするか
	Candidates []string // 探索候補（順序維持・重複除去済み）
	APIKey     string   // Bearer トークン（空なら付与しない）

	client *http.Client
}

// NewResolver は Resolver を作成します。
func NewResolver(override string, auto bool, candidates []string, apiKey string) *Resolver {
	return &Resolver{
		Override:   override,
		Auto:       auto,
		Candidates: candidates,
		APIKey:     apiKey,
		client:     &http.Client{Timeout: healthProbeTimeout},
	}
}

// Resolve は優先順位（上書き → 自動探索 → なし）に従ってバックエンドを決定します。
// 上書きURLは到達性を診断した上で、健康状態に関わらずそのまま返します。
func (r *Resolver) Resolve(ctx context.Context) Resolution {
	if r.Override != "" {
		healthy, detail := r.probe(ctx, r.Override)
		return Resolution{
			URL:     r.Override,
			Reason:  ReasonExplicitOverride,
			Healthy: healthy,
			Detail:  detail,
		}
	}

	if !r.Auto {
		return Resolution{Reason: ReasonAutoDisabled}
	}

	for _, candidate := range r.Candidates {
		if healthy, _ := r.probe(ctx, candidate); healthy {
			return Resolution{
				URL:     candidate,
				Reason:  ReasonAutoDiscovered,
				Healthy: true,
			}
		}
	}

	return Resolution{Reason: ReasonNoHealthyCandidate}
}

// probe は GET {base}/health を実行します。200 のみを健康とみなし、
// 例外はすべて不健康として診断文字列を返します。
func (r *Resolver) probe(ctx context.Context, base string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false, err.Error()
	}
	if r.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2000))
		return false, fmt.Sprintf("health %d: %s", resp.StatusCode, string(body))
	}
	return true, ""
}
