package generate

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// オリジン検証はCORSミドルウェア側の設定に委ねる
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler は /ws/generate のハンドラーを返します。
// クライアントは投入リクエストを送りっぱなしにでき、サーバーは投入応答に続けて
// ジョブが終端状態に達するまで更新イベントを配信します。その後は次の投入を待ちます。
func WSHandler(svc *Service, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx := c.Request.Context()
		for {
			var req SubmitRequest
			if err := conn.ReadJSON(&req); err != nil {
				// 切断は正常終了。サーバー側リソースは defer で解放される。
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && logger != nil {
					logger.Printf("websocket read failed: %v", err)
				}
				return
			}

			resp, err := svc.Submit(ctx, &req)
			if err != nil {
				var apiErr *Error
				message := "サーバー内部でエラーが発生しました。"
				if errors.As(err, &apiErr) {
					message = apiErr.Message
				}
				if writeErr := conn.WriteJSON(&StreamEvent{Type: "error", Message: message}); writeErr != nil {
					return
				}
				continue
			}

			if err := conn.WriteJSON(gin.H{"type": "queued", "job_id": resp.JobID, "task_id": resp.TaskID}); err != nil {
				return
			}

			watchErr := svc.Watch(ctx, resp.JobID, PollInterval, func(event *StreamEvent) error {
				return conn.WriteJSON(event)
			})
			if watchErr != nil {
				// 書き込み失敗は切断とみなす
				return
			}
		}
	}
}
