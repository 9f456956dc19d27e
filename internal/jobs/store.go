package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	taskKeyPrefix = "task:"
)

// Store は実行状態レコードを Redis に保存します。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get は実行状態を取得します。レコードが存在しない場合は nil を返します。
func (s *Store) Get(ctx context.Context, taskID string) (*RunState, error) {
	if taskID == "" {
		return nil, fmt.Errorf("taskID is required")
	}
	data, err := s.rdb.Get(ctx, taskKey(taskID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Init は投入直後の pending レコードを作成します。
func (s *Store) Init(ctx context.Context, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("taskID is required")
	}
	now := time.Now().UTC()
	state := &RunState{
		TaskID:    taskID,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, taskKey(taskID), payload, s.ttl).Err()
}

// MarkStarted はワーカーの実行開始を記録します。
func (s *Store) MarkStarted(ctx context.Context, taskID string) error {
	return s.updatePartial(ctx, taskID, func(state *RunState) {
		state.State = StateStarted
	})
}

// UpdateProgress は進捗メタデータを記録します。
func (s *Store) UpdateProgress(ctx context.Context, taskID string, percent int, message string) error {
	return s.updatePartial(ctx, taskID, func(state *RunState) {
		state.State = StateProgressing
		state.Meta = map[string]any{
			"progress": percent,
			"message":  message,
		}
	})
}

// MarkSucceeded は正常終了と結果を記録します。
func (s *Store) MarkSucceeded(ctx context.Context, taskID string, result *ResultPayload) error {
	return s.updatePartial(ctx, taskID, func(state *RunState) {
		state.State = StateSucceeded
		state.Result = result
		state.Failure = ""
	})
}

// MarkFailed は異常終了と失敗内容を記録します。
func (s *Store) MarkFailed(ctx context.Context, taskID string, detail string) error {
	return s.updatePartial(ctx, taskID, func(state *RunState) {
		state.State = StateFailed
		state.Failure = detail
	})
}

func (s *Store) updatePartial(ctx context.Context, taskID string, mutate func(*RunState)) error {
	key := taskKey(taskID)
	for {
		tx := s.rdb.TxPipeline()
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return fmt.Errorf("run-state not found: %s", taskID)
			}
			return err
		}
		var state RunState
		if err := json.Unmarshal(data, &state); err != nil {
			return err
		}
		mutate(&state)
		state.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(&state)
		if err != nil {
			return err
		}
		tx.Set(ctx, key, payload, s.ttl)
		_, err = tx.Exec(ctx)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
}

func taskKey(id string) string {
	return taskKeyPrefix + id
}
