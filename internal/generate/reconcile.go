package generate

import (
	"context"
	"time"

	"github.com/yourusername/image-forge/internal/jobs"
	"github.com/yourusername/image-forge/internal/store"
)

// reconcile はタスクキューの実行状態を永続レコードに畳み込みます。
// 読み取りのたびに遅延実行され、同じ実行状態に対して何度呼んでも結果は変わりません。
// 実行状態の取得に失敗した場合はレコードを変更せずそのまま返します
// （進捗は助言的な情報であり、状態判定を妨げてはならないため）。
func (s *Service) reconcile(ctx context.Context, job *store.GenerationJob) *store.GenerationJob {
	if job == nil {
		return nil
	}
	// タスクハンドルなし（投入失敗で queued のまま）や終端状態は対象外
	if job.TaskID == "" || job.Status.Terminal() {
		return job
	}

	state, err := s.queue.GetRunState(ctx, job.TaskID)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("failed to fetch run-state job=%s task=%s: %v", job.ID, job.TaskID, err)
		}
		return job
	}

	changed := false
	switch {
	case state == nil || state.State == jobs.StatePending:
		// 投入済みだが未着手。レコードの期限切れで消えた場合も同じ扱いにする。

	case state.State == jobs.StateStarted || state.State == jobs.StateProgressing:
		if job.Status == store.StatusQueued && job.Status.CanTransitionTo(store.StatusRunning) {
			job.Status = store.StatusRunning
			changed = true
		}
		// 進捗メタデータは欠落・不正値を無視し、進捗率は後退させない
		if percent, ok := state.ProgressPercent(); ok && percent > job.Progress {
			job.Progress = percent
			changed = true
		}
		if message, ok := state.ProgressMessage(); ok && message != job.Message {
			job.Message = message
			changed = true
		}

	case state.State == jobs.StateSucceeded:
		if state.Result == nil {
			// 成功と報告されたが結果が読み出せない
			job.Status = store.StatusError
			job.ErrorCode = ErrCodeResultFetchFailed
			job.ErrorMessage = "task finished but result payload could not be read"
		} else {
			job.Status = store.StatusComplete
			job.Progress = 100
			job.Message = "done"
			job.OutputURL = state.Result.OutputURL
		}
		changed = true

	case state.State == jobs.StateFailed:
		job.Status = store.StatusError
		job.ErrorCode = ErrCodeWorkerFailed
		job.ErrorMessage = state.Failure
		// 進捗メッセージも失敗内容で上書きし、最後の進捗表示を残さない
		job.Message = state.Failure
		changed = true
	}

	if !changed {
		return job
	}

	job.UpdatedAt = time.Now().UTC()
	if err := s.jobs.UpdateJob(ctx, job); err != nil && s.logger != nil {
		// 並行する読み手との競合は last-writer-wins で構わない（遷移は単調）
		s.logger.Printf("failed to persist reconciled job=%s: %v", job.ID, err)
	}
	return job
}
