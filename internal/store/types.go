// Package store は生成ジョブとモデルの永続化レイヤーを提供します。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound は対象レコードが存在しない場合に返されます。
var ErrNotFound = errors.New("resource not found")

// ErrDuplicate は一意制約に違反した場合に返されます。
var ErrDuplicate = errors.New("resource already exists")

// TextToImageModelID は参照画像なし（テキストのみ）の生成を表す番兵モデルIDです。
const TextToImageModelID = "t2i"

// Status は生成ジョブの状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Valid は既知の状態かどうかを返します。
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusComplete, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal は終端状態（以後不変）かどうかを返します。
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo は s から next への遷移が許可されているかを返します。
// 許可される辺: queued→running→{complete,error,cancelled} と {queued,running}→cancelled、
// および queued からの直接の終端遷移（ワーカーが即座に完了/失敗した場合）。
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return false
	}
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusComplete || next == StatusError || next == StatusCancelled
	case StatusRunning:
		return next == StatusComplete || next == StatusError || next == StatusCancelled
	default:
		return false
	}
}

// GenerationJob は1回の画像生成リクエストの永続レコードです。
// クライアントから見た正式な記録であり、タスクキュー側の一時的な実行状態とは独立しています。
type GenerationJob struct {
	ID               string
	ModelID          string
	Prompt           string
	Source           string
	PromptTemplateID string
	Params           json.RawMessage
	ImageIDs         []string // 投入時に確定した参照画像ID（以後不変）
	ImagePaths       []string // 参照画像のストレージ相対パスのスナップショット
	TaskID           string   // タスクキューとの対応付けID（投入成功まで空）
	Status           Status
	Progress         int
	Message          string
	OutputURL        string
	ErrorCode        string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// JobFilter は一覧取得の絞り込み条件です。
type JobFilter struct {
	Status  Status
	ModelID string
	Source  string
	Limit   int
	Offset  int
}

// MaxListLimit は一覧取得の最大件数です。
const MaxListLimit = 200

// Model は参照画像の集合（人物・被写体）を表します。
type Model struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// ModelImage はモデルに属する参照画像1枚のレコードです。
type ModelImage struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"model_id"`
	Filename  string    `json:"filename"`
	RelPath   string    `json:"rel_path"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"created_at"`
}

// JobStore は生成ジョブの永続化操作を定義します。
type JobStore interface {
	CreateJob(ctx context.Context, job *GenerationJob) error
	UpdateJob(ctx context.Context, job *GenerationJob) error
	GetJob(ctx context.Context, jobID string) (*GenerationJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*GenerationJob, error)
}

// ModelStore はモデルと参照画像の操作を定義します。
// 画像のアップロード・正規化そのものは別サービスの責務であり、ここではレコードのみを扱います。
type ModelStore interface {
	CreateModel(ctx context.Context, model *Model) error
	GetModel(ctx context.Context, modelID string) (*Model, error)
	ListModels(ctx context.Context) ([]*Model, error)
	ListModelImages(ctx context.Context, modelID string) ([]*ModelImage, error)
	AddModelImage(ctx context.Context, image *ModelImage) error
}
