package generate

import (
	"encoding/json"
	"time"

	"github.com/yourusername/image-forge/internal/store"
)

// SubmitRequest はジョブ投入リクエストです。
type SubmitRequest struct {
	ModelID          string          `json:"model_id"`
	Prompt           string          `json:"prompt"`
	ImageIDs         []string        `json:"image_ids"`
	ConsentConfirmed bool            `json:"consent_confirmed"`
	Source           string          `json:"source"`
	PromptTemplateID string          `json:"prompt_template_id"`
	Params           json.RawMessage `json:"params"`
}

// SubmitResponse は投入直後の応答です。処理は非同期で継続します。
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	TaskID string `json:"task_id"`
}

// JobView はクライアントに公開するジョブの表現です。
// タイムスタンプは ISO-8601 文字列で、同じレコードからは常に同一のバイト列に
// 直列化されます（ストリーミングの差分判定に利用）。
type JobView struct {
	ID               string   `json:"id"`
	ModelID          string   `json:"model_id"`
	Source           string   `json:"source"`
	PromptTemplateID string   `json:"prompt_template_id"`
	Status           string   `json:"status"`
	Progress         int      `json:"progress"`
	Message          string   `json:"message"`
	Prompt           string   `json:"prompt"`
	ImageIDs         []string `json:"image_ids"`
	OutputURL        string   `json:"output_url"`
	ErrorCode        string   `json:"error_code"`
	ErrorMessage     string   `json:"error_message"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

func viewFromJob(job *store.GenerationJob) *JobView {
	imageIDs := job.ImageIDs
	if imageIDs == nil {
		imageIDs = []string{}
	}
	return &JobView{
		ID:               job.ID,
		ModelID:          job.ModelID,
		Source:           job.Source,
		PromptTemplateID: job.PromptTemplateID,
		Status:           string(job.Status),
		Progress:         job.Progress,
		Message:          job.Message,
		Prompt:           job.Prompt,
		ImageIDs:         imageIDs,
		OutputURL:        job.OutputURL,
		ErrorCode:        job.ErrorCode,
		ErrorMessage:     job.ErrorMessage,
		CreatedAt:        job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
