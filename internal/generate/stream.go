package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/yourusername/image-forge/internal/store"
)

// PollInterval はストリーミング時の照合間隔です。
const PollInterval = time.Second

// StreamEvent はストリームで配信されるイベントです。
type StreamEvent struct {
	Type    string   `json:"type"` // "job" または "error"
	Job     *JobView `json:"job,omitempty"`
	Message string   `json:"message,omitempty"`
}

// Watch はジョブの現在ビューを一定間隔で照合し、前回配信と内容が変わった場合
// のみ emit を呼び出します。終端状態のビューを配信した時点、またはジョブが
// 存在せずエラーイベントを配信した時点でストリームを終了します。
// ctx のキャンセル（クライアント切断）はエラーなしで終了します。
func (s *Service) Watch(ctx context.Context, jobID string, interval time.Duration, emit func(event *StreamEvent) error) error {
	if interval <= 0 {
		interval = PollInterval
	}

	var lastPayload []byte
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := s.Get(ctx, jobID)
		if err != nil {
			var apiErr *Error
			if errors.As(err, &apiErr) && apiErr.Code == CodeNotFound {
				_ = emit(&StreamEvent{Type: "error", Message: "job not found"})
				return nil
			}
			// 一時的な取得失敗はストリームを切らず次の周期で再試行する
			if s.logger != nil {
				s.logger.Printf("stream poll failed job=%s: %v", jobID, err)
			}
		} else {
			payload, marshalErr := json.Marshal(view)
			if marshalErr != nil {
				return marshalErr
			}
			if !bytes.Equal(payload, lastPayload) {
				if err := emit(&StreamEvent{Type: "job", Job: view}); err != nil {
					return err
				}
				lastPayload = payload
			}
			if store.Status(view.Status).Terminal() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
