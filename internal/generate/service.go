package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/image-forge/internal/jobs"
	"github.com/yourusername/image-forge/internal/store"
)

const defaultSource = "api"

// Dispatcher はタスクキューへの投入・実行状態照会・取消要求を抽象化します。
// 本番では *jobs.Manager が実装します。
type Dispatcher interface {
	Enqueue(ctx context.Context, payload *jobs.GenerateTask) (string, error)
	GetRunState(ctx context.Context, taskID string) (*jobs.RunState, error)
	Revoke(ctx context.Context, taskID string)
}

// PathResolver はストレージ相対パスをワーカーが読める絶対パスへ変換します。
type PathResolver interface {
	AbsPath(relPath string) string
}

// Limits は投入リクエストに適用する上限値です。
type Limits struct {
	MaxPromptLength    int // プロンプトの最大文字数（rune単位）
	MaxReferenceImages int // 1ジョブあたりの参照画像の最大枚数
}

// Service は生成ジョブのユースケースをまとめたサービスです。
type Service struct {
	jobs   store.JobStore
	models store.ModelStore
	queue  Dispatcher
	paths  PathResolver
	limits Limits
	logger *log.Logger
}

// NewService は Service を作成します。
func NewService(jobStore store.JobStore, modelStore store.ModelStore, queue Dispatcher, paths PathResolver, limits Limits, logger *log.Logger) (*Service, error) {
	if jobStore == nil {
		return nil, errors.New("jobStore is nil")
	}
	if modelStore == nil {
		return nil, errors.New("modelStore is nil")
	}
	if queue == nil {
		return nil, errors.New("queue is nil")
	}
	if paths == nil {
		return nil, errors.New("paths is nil")
	}
	if limits.MaxPromptLength <= 0 {
		limits.MaxPromptLength = 4000
	}
	if limits.MaxReferenceImages <= 0 {
		limits.MaxReferenceImages = 10
	}
	return &Service{
		jobs:   jobStore,
		models: modelStore,
		queue:  queue,
		paths:  paths,
		limits: limits,
		logger: logger,
	}, nil
}

// Submit はリクエストを検証し、ジョブを永続化した上でタスクキューへ投入します。
// 投入に失敗した場合、ジョブはタスクハンドルなしの queued のまま残ります。
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req == nil {
		return nil, newError(CodeInvalidArgument, "request body is required", nil)
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, newError(CodeInvalidArgument, "prompt is required", nil)
	}
	if len([]rune(prompt)) > s.limits.MaxPromptLength {
		return nil, newError(CodeInvalidArgument, fmt.Sprintf("prompt exceeds %d characters", s.limits.MaxPromptLength), nil)
	}
	if !req.ConsentConfirmed {
		return nil, newError(CodeInvalidArgument, "consent_confirmed must be true", nil)
	}

	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" && len(req.ImageIDs) > 0 {
		return nil, newError(CodeInvalidArgument, "image_ids requires model_id", nil)
	}
	if len(req.ImageIDs) > s.limits.MaxReferenceImages {
		return nil, newError(CodeInvalidArgument, fmt.Sprintf("too many reference images (max %d)", s.limits.MaxReferenceImages), nil)
	}

	imageIDs, imagePaths, err := s.resolveReferences(ctx, modelID, req.ImageIDs)
	if err != nil {
		return nil, err
	}
	if modelID == "" {
		modelID = store.TextToImageModelID
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = defaultSource
	}

	now := time.Now().UTC()
	job := &store.GenerationJob{
		ID:               uuid.NewString(),
		ModelID:          modelID,
		Prompt:           prompt,
		Source:           source,
		PromptTemplateID: strings.TrimSpace(req.PromptTemplateID),
		Params:           normalizeParams(req.Params),
		ImageIDs:         imageIDs,
		ImagePaths:       imagePaths,
		Status:           store.StatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, newError(CodeConflict, "job id already exists", err)
		}
		return nil, newError(CodeInternal, "failed to persist job", err)
	}

	taskID, err := s.dispatch(ctx, job)
	if err != nil {
		// ジョブ行は残す。タスクハンドルなしの queued は Reconciler が扱う。
		if s.logger != nil {
			s.logger.Printf("dispatch failed job=%s: %v", job.ID, err)
		}
		return nil, newError(CodeInternal, "failed to dispatch job", err)
	}

	return &SubmitResponse{JobID: job.ID, TaskID: taskID}, nil
}

// Get はジョブを取得し、実行状態を突き合わせた最新のビューを返します。
func (s *Service) Get(ctx context.Context, jobID string) (*JobView, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job = s.reconcile(ctx, job)
	return viewFromJob(job), nil
}

// List は条件に合致するジョブを照合済みのビューで返します。
func (s *Service) List(ctx context.Context, filter store.JobFilter) ([]*JobView, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, newError(CodeInvalidArgument, "unknown status filter", nil)
	}
	listed, err := s.jobs.ListJobs(ctx, filter)
	if err != nil {
		return nil, newError(CodeInternal, "failed to list jobs", err)
	}
	views := make([]*JobView, 0, len(listed))
	for _, job := range listed {
		views = append(views, viewFromJob(s.reconcile(ctx, job)))
	}
	return views, nil
}

// Cancel はジョブの取消を行います。冪等であり、終端状態のジョブには何もしません。
// キューへの取消要求はベストエフォートで、永続レコードの cancelled が正です。
func (s *Service) Cancel(ctx context.Context, jobID string) (*JobView, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job = s.reconcile(ctx, job)
	if job.Status.Terminal() {
		return viewFromJob(job), nil
	}

	if job.TaskID != "" {
		s.queue.Revoke(ctx, job.TaskID)
	}

	job.Status = store.StatusCancelled
	job.Message = "cancelled"
	job.UpdatedAt = time.Now().UTC()
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, newError(CodeInternal, "failed to cancel job", err)
	}
	return viewFromJob(job), nil
}

// Retry は元のジョブの入力を複製した新しいジョブを作成して投入します。
// 元のジョブには一切手を加えません。
func (s *Service) Retry(ctx context.Context, jobID string) (*JobView, error) {
	original, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &store.GenerationJob{
		ID:               uuid.NewString(),
		ModelID:          original.ModelID,
		Prompt:           original.Prompt,
		Source:           original.Source,
		PromptTemplateID: original.PromptTemplateID,
		Params:           append([]byte(nil), original.Params...),
		ImageIDs:         append([]string(nil), original.ImageIDs...),
		ImagePaths:       append([]string(nil), original.ImagePaths...),
		Status:           store.StatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, newError(CodeInternal, "failed to persist job", err)
	}

	if _, err := s.dispatch(ctx, job); err != nil {
		if s.logger != nil {
			s.logger.Printf("dispatch failed job=%s: %v", job.ID, err)
		}
		return nil, newError(CodeInternal, "failed to dispatch job", err)
	}
	return viewFromJob(job), nil
}

func (s *Service) getJob(ctx context.Context, jobID string) (*store.GenerationJob, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, newError(CodeInvalidArgument, "job id is required", nil)
	}
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(CodeNotFound, "job not found", err)
		}
		return nil, newError(CodeInternal, "failed to load job", err)
	}
	return job, nil
}

// resolveReferences は投入時点の参照画像集合を確定します。
// 返り値のIDとパスは以後変更されないスナップショットです。
func (s *Service) resolveReferences(ctx context.Context, modelID string, requested []string) ([]string, []string, error) {
	if modelID == "" {
		return []string{}, []string{}, nil
	}

	if _, err := s.models.GetModel(ctx, modelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, newError(CodeNotFound, "model not found", err)
		}
		return nil, nil, newError(CodeInternal, "failed to load model", err)
	}

	images, err := s.models.ListModelImages(ctx, modelID)
	if err != nil {
		return nil, nil, newError(CodeInternal, "failed to load model images", err)
	}

	selected := images
	if len(requested) > 0 {
		byID := make(map[string]*store.ModelImage, len(images))
		for _, image := range images {
			byID[image.ID] = image
		}
		selected = make([]*store.ModelImage, 0, len(requested))
		for _, id := range requested {
			image, ok := byID[id]
			if !ok {
				return nil, nil, newError(CodeNotFound, fmt.Sprintf("reference image not found: %s", id), nil)
			}
			selected = append(selected, image)
		}
	}
	if len(selected) == 0 {
		return nil, nil, newError(CodeNotFound, "model has no reference images", nil)
	}

	ids := make([]string, len(selected))
	paths := make([]string, len(selected))
	for i, image := range selected {
		ids[i] = image.ID
		paths[i] = image.RelPath
	}
	return ids, paths, nil
}

func (s *Service) dispatch(ctx context.Context, job *store.GenerationJob) (string, error) {
	absPaths := make([]string, len(job.ImagePaths))
	for i, rel := range job.ImagePaths {
		absPaths[i] = s.paths.AbsPath(rel)
	}
	taskID, err := s.queue.Enqueue(ctx, &jobs.GenerateTask{
		JobID:          job.ID,
		Prompt:         job.Prompt,
		ReferencePaths: absPaths,
	})
	if err != nil {
		return "", err
	}

	job.TaskID = taskID
	job.UpdatedAt = time.Now().UTC()
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return "", fmt.Errorf("attach task handle: %w", err)
	}
	return taskID, nil
}

// normalizeParams は欠落・不正な params を空オブジェクトに正規化します。
func normalizeParams(params json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(params))
	if trimmed == "" || !json.Valid([]byte(trimmed)) || trimmed[0] != '{' {
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}
