package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore は JobStore と ModelStore のメモリ実装です。
// DATABASE_URL 未設定のローカル開発とテストで使用します。
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*GenerationJob
	models map[string]*Model
	images map[string][]*ModelImage // モデルID → 登録順の参照画像
}

// NewMemoryStore は空の MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*GenerationJob),
		models: make(map[string]*Model),
		images: make(map[string][]*ModelImage),
	}
}

// CreateJob はジョブを新規作成します。
func (s *MemoryStore) CreateJob(_ context.Context, job *GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicate
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// UpdateJob はジョブを更新します。
func (s *MemoryStore) UpdateJob(_ context.Context, job *GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob はジョブを1件取得します。
func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

// ListJobs は条件に合致するジョブを新しい順に返します。
func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*GenerationJob, 0)
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.ModelID != "" && job.ModelID != filter.ModelID {
			continue
		}
		if filter.Source != "" && job.Source != filter.Source {
			continue
		}
		matched = append(matched, cloneJob(job))
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	offset := maxInt(filter.Offset, 0)
	if offset >= len(matched) {
		return []*GenerationJob{}, nil
	}
	end := offset + clampLimit(filter.Limit)
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// CreateModel はモデルを作成します。
func (s *MemoryStore) CreateModel(_ context.Context, model *Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.models[model.ID]; ok {
		return ErrDuplicate
	}
	clone := *model
	s.models[model.ID] = &clone
	return nil
}

// GetModel はモデルを1件取得します。
func (s *MemoryStore) GetModel(_ context.Context, modelID string) (*Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	model, ok := s.models[modelID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *model
	return &clone, nil
}

// ListModels はモデルを新しい順に返します。
func (s *MemoryStore) ListModels(_ context.Context) ([]*Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	models := make([]*Model, 0, len(s.models))
	for _, model := range s.models {
		clone := *model
		models = append(models, &clone)
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].CreatedAt.Equal(models[j].CreatedAt) {
			return models[i].ID > models[j].ID
		}
		return models[i].CreatedAt.After(models[j].CreatedAt)
	})
	return models, nil
}

// ListModelImages はモデルに属する参照画像を登録順に返します。
func (s *MemoryStore) ListModelImages(_ context.Context, modelID string) ([]*ModelImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	images := s.images[modelID]
	out := make([]*ModelImage, 0, len(images))
	for _, image := range images {
		clone := *image
		out = append(out, &clone)
	}
	return out, nil
}

// AddModelImage は参照画像レコードを追加します。
func (s *MemoryStore) AddModelImage(_ context.Context, image *ModelImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.images[image.ModelID] {
		if existing.ID == image.ID {
			return ErrDuplicate
		}
	}
	clone := *image
	s.images[image.ModelID] = append(s.images[image.ModelID], &clone)
	return nil
}

func cloneJob(job *GenerationJob) *GenerationJob {
	clone := *job
	clone.ImageIDs = append([]string(nil), job.ImageIDs...)
	clone.ImagePaths = append([]string(nil), job.ImagePaths...)
	clone.Params = append([]byte(nil), job.Params...)
	return &clone
}
