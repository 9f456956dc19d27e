// Package models は参照画像セット（モデル）の登録・照会APIを提供します。
// 画像バイナリのアップロードと正規化は別サービスの責務です。
package models

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/image-forge/internal/store"
)

// CreateHandler は POST /api/models のハンドラーを返します。
func CreateHandler(modelStore store.ModelStore) gin.HandlerFunc {
	type createRequest struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	}
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_ARGUMENT",
				"message": "リクエストボディをJSONで送信してください。",
			})
			return
		}

		id := strings.TrimSpace(req.ID)
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_ARGUMENT",
				"message": "モデルIDを指定してください。",
			})
			return
		}
		displayName := strings.TrimSpace(req.DisplayName)
		if displayName == "" {
			displayName = id
		}

		model := &store.Model{
			ID:          id,
			DisplayName: displayName,
			CreatedAt:   time.Now().UTC(),
		}
		if err := modelStore.CreateModel(c.Request.Context(), model); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				c.JSON(http.StatusConflict, gin.H{
					"code":    "CONFLICT",
					"message": "同じIDのモデルが既に存在します。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "モデルの保存に失敗しました。",
			})
			return
		}
		c.JSON(http.StatusCreated, model)
	}
}

// ListHandler は GET /api/models のハンドラーを返します。
func ListHandler(modelStore store.ModelStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		listed, err := modelStore.ListModels(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "モデル一覧の取得に失敗しました。",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"models": listed})
	}
}

// GetHandler は GET /api/models/:id のハンドラーを返します。
func GetHandler(modelStore store.ModelStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelID := strings.TrimSpace(c.Param("id"))
		model, err := modelStore.GetModel(c.Request.Context(), modelID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "NOT_FOUND",
					"message": "指定されたモデルは存在しません。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "モデルの取得に失敗しました。",
			})
			return
		}

		images, err := modelStore.ListModelImages(c.Request.Context(), modelID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "参照画像の取得に失敗しました。",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"model": model, "images": images})
	}
}
