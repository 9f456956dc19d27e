package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yourusername/image-forge/internal/config"
)

const (
	taskTypeGenerate = "generate:image"
	queueGenerate    = "generate"
)

// ProgressFunc はワーカーから呼ばれる進捗報告コールバックです。
type ProgressFunc func(percent int, message string)

// TaskRunner は生成タスクを実行できるエンジンが実装します。
type TaskRunner interface {
	Run(ctx context.Context, task *GenerateTask, report ProgressFunc) (*ResultPayload, error)
}

// Manager はタスクの投入・実行・実行状態の管理を担います。
type Manager struct {
	cfg       *config.Config
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
	store     *Store
	runner    TaskRunner
	logger    *log.Logger
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, runner TaskRunner, store *Store, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				queueGenerate: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:       cfg,
		client:    client,
		server:    server,
		mux:       mux,
		inspector: asynq.NewInspector(opt),
		store:     store,
		runner:    runner,
		logger:    logger,
	}
	mux.HandleFunc(taskTypeGenerate, manager.handleGenerateTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			if m.logger != nil {
				m.logger.Printf("asynq server stopped with error: %v", err)
			} else {
				log.Printf("asynq server stopped with error: %v", err)
			}
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	m.client.Close()
	return nil
}

// Enqueue は生成タスクをキューに投入し、タスクハンドルを返します。
// 投入に成功した時点で pending の実行状態レコードが存在します。
func (m *Manager) Enqueue(ctx context.Context, payload *GenerateTask) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("payload.JobID is required")
	}

	taskID := uuid.NewString()
	if err := m.store.Init(ctx, taskID); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(taskTypeGenerate, body, asynq.Queue(queueGenerate))
	info, err := m.client.EnqueueContext(ctx, task,
		asynq.TaskID(taskID),
		asynq.MaxRetry(0),
		asynq.Timeout(m.taskTimeout()),
	)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// GetRunState は実行状態を取得します。レコードが無い場合は nil を返します。
func (m *Manager) GetRunState(ctx context.Context, taskID string) (*RunState, error) {
	return m.store.Get(ctx, taskID)
}

// Revoke はタスクの取り消しを試みます。ベストエフォートであり、
// 失敗してもエラーは返さずログに残すだけです（ワーカーが完走する可能性は残ります）。
func (m *Manager) Revoke(ctx context.Context, taskID string) {
	if taskID == "" {
		return
	}
	if err := m.inspector.CancelProcessing(taskID); err != nil && m.logger != nil {
		m.logger.Printf("cancel processing task=%s: %v", taskID, err)
	}
	if err := m.inspector.DeleteTask(queueGenerate, taskID); err != nil && m.logger != nil {
		m.logger.Printf("delete queued task=%s: %v", taskID, err)
	}
}

func (m *Manager) handleGenerateTask(ctx context.Context, task *asynq.Task) error {
	var payload GenerateTask
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload")
	}

	taskID, ok := asynq.GetTaskID(ctx)
	if !ok {
		return fmt.Errorf("missing task id in context")
	}

	if err := m.store.MarkStarted(ctx, taskID); err != nil {
		return err
	}

	result, err := m.runner.Run(ctx, &payload, func(percent int, message string) {
		if err := m.store.UpdateProgress(ctx, taskID, percent, message); err != nil && m.logger != nil {
			m.logger.Printf("failed to update progress task=%s: %v", taskID, err)
		}
	})
	if err != nil {
		// 失敗は実行状態レコードに記録して完了扱いにする。
		// ここでエラーを返すとキュー側の再試行・アーカイブと二重管理になる。
		if markErr := m.store.MarkFailed(ctx, taskID, err.Error()); markErr != nil {
			return markErr
		}
		return nil
	}
	return m.store.MarkSucceeded(ctx, taskID, result)
}

func (m *Manager) taskTimeout() time.Duration {
	perAttempt := time.Duration(m.cfg.GPUTimeoutSeconds) * time.Second
	attempts := time.Duration(m.cfg.GPUMaxAttempts)
	// 全試行とバックオフ、モック生成の余裕を見込む
	return perAttempt*attempts + 2*time.Minute
}
