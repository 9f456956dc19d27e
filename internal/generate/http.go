package generate

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/image-forge/internal/store"
)

// SubmitHandler は POST /api/generate のハンドラーを返します。
func SubmitHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidArgument,
				"message": "リクエストボディをJSONで送信してください。",
			})
			return
		}

		resp, err := svc.Submit(c.Request.Context(), &req)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, resp)
	}
}

// StatusHandler は GET /api/generate/:id のハンドラーを返します。
// 読み取りのたびに実行状態との照合が行われます。
func StatusHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// ListHandler は GET /api/generate のハンドラーを返します。
func ListHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseJobFilter(c)
		if err != nil {
			respondWithError(c, err)
			return
		}

		views, err := svc.List(c.Request.Context(), filter)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": views})
	}
}

// CancelHandler は POST /api/generate/:id/cancel のハンドラーを返します。
func CancelHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.Cancel(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// RetryHandler は POST /api/generate/:id/retry のハンドラーを返します。
// 元のジョブには触れず、新しいジョブのビューを返します。
func RetryHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.Retry(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, view)
	}
}

func parseJobFilter(c *gin.Context) (store.JobFilter, error) {
	filter := store.JobFilter{
		Status:  store.Status(strings.TrimSpace(c.Query("status"))),
		ModelID: strings.TrimSpace(c.Query("model_id")),
		Source:  strings.TrimSpace(c.Query("source")),
	}

	var err error
	filter.Limit, err = parseQueryInt(c, "limit", 50)
	if err != nil {
		return filter, err
	}
	if filter.Limit > store.MaxListLimit {
		return filter, newError(CodeInvalidArgument, "limit must be 200 or less", nil)
	}
	filter.Offset, err = parseQueryInt(c, "offset", 0)
	if err != nil {
		return filter, err
	}
	return filter, nil
}

func parseQueryInt(c *gin.Context, name string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, newError(CodeInvalidArgument, name+" must be a non-negative integer", nil)
	}
	return value, nil
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		c.JSON(statusForCode(apiErr.Code), gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    CodeInternal,
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func statusForCode(code string) int {
	switch code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
