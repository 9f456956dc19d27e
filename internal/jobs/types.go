// Package jobs は分散タスクキューへの投入と実行状態（run-state）の管理を提供します。
package jobs

import "time"

// State はタスクキュー側から見た実行単位の一時的な状態を表します。
// 永続化されたジョブレコードの状態とは独立しており、Reconciler が突き合わせます。
type State string

const (
	StatePending     State = "pending"     // 投入済みだがワーカー未着手
	StateStarted     State = "started"     // ワーカーが実行を開始
	StateProgressing State = "progressing" // 進捗報告あり
	StateSucceeded   State = "succeeded"   // 正常終了（Result あり）
	StateFailed      State = "failed"      // 異常終了（Failure あり）
)

// Finished は実行が終了した状態かどうかを返します。
func (s State) Finished() bool {
	return s == StateSucceeded || s == StateFailed
}

// ResultPayload はワーカーが成功時に残す結果です。
type ResultPayload struct {
	JobID          string `json:"job_id"`
	OutputURL      string `json:"output_url"`
	ReferenceCount int    `json:"reference_count"`
}

// RunState はタスクハンドルごとの実行状態レコードです。
// Meta はワーカーが報告する進捗メタデータ（progress / message）で、
// 値の型は保証されません。欠落や不正値は読み手が無視します。
type RunState struct {
	TaskID    string         `json:"taskId"`
	State     State          `json:"state"`
	Meta      map[string]any `json:"meta,omitempty"`
	Result    *ResultPayload `json:"result,omitempty"`
	Failure   string         `json:"failure,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// ProgressPercent は Meta から進捗率を取り出します。不正値は ok=false を返します。
func (r *RunState) ProgressPercent() (int, bool) {
	if r == nil || r.Meta == nil {
		return 0, false
	}
	switch v := r.Meta["progress"].(type) {
	case float64:
		percent := int(v)
		if percent < 0 || percent > 100 {
			return 0, false
		}
		return percent, true
	case int:
		if v < 0 || v > 100 {
			return 0, false
		}
		return v, true
	default:
		return 0, false
	}
}

// ProgressMessage は Meta から進捗メッセージを取り出します。
func (r *RunState) ProgressMessage() (string, bool) {
	if r == nil || r.Meta == nil {
		return "", false
	}
	message, ok := r.Meta["message"].(string)
	return message, ok
}

// GenerateTask は画像生成タスクのペイロードです。
type GenerateTask struct {
	JobID          string   `json:"jobId"`
	Prompt         string   `json:"prompt"`
	ReferencePaths []string `json:"referencePaths"`
}
