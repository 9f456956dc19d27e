package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/image-forge/internal/config"
	"github.com/yourusername/image-forge/internal/jobs"
	"github.com/yourusername/image-forge/internal/store"
	"github.com/yourusername/image-forge/internal/worker"
)

// setupStores は永続ストアを初期化します。
// DATABASE_URL が設定されていれば PostgreSQL、なければインメモリで起動します。
func setupStores(ctx context.Context, cfg *config.Config) (store.JobStore, store.ModelStore, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Printf("DATABASE_URL is empty; using in-memory job store")
		mem := store.NewMemoryStore()
		return mem, mem, func() {}, nil
	}

	pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	return pg, pg, pg.Close, nil
}

func setupJobs(cfg *config.Config, engine *worker.Engine) (*jobs.Manager, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opt)
	ttlMinutes := cfg.JobRecordMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	runStore := jobs.NewStore(redisClient, time.Duration(ttlMinutes)*time.Minute)
	manager, err := jobs.NewManager(cfg, engine, runStore, log.Default())
	if err != nil {
		return nil, err
	}
	return manager, nil
}

// backendDebugHandler は推論バックエンドの解決結果をその場で返します。
// 候補のヘルスチェックを伴うため、管理者用グループ配下でのみ公開します。
func backendDebugHandler(cfg *config.Config) gin.HandlerFunc {
	resolver := worker.NewResolver(cfg.GPUServerURL, cfg.AutoGPUServer, cfg.GPUServerCandidates, cfg.GPUServerAPIKey)
	return func(c *gin.Context) {
		res := resolver.Resolve(c.Request.Context())
		payload := gin.H{
			"url":     res.URL,
			"reason":  res.Reason,
			"healthy": res.Healthy,
		}
		if res.Detail != "" {
			payload["detail"] = res.Detail
		}
		c.JSON(http.StatusOK, payload)
	}
}

// runStateDebugHandler はタスクIDに対応する実行状態レコードを生のまま返します。
func runStateDebugHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("id")
		if strings.TrimSpace(taskID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_ARGUMENT",
				"message": "taskId を指定してください。",
			})
			return
		}

		record, err := manager.GetRunState(c.Request.Context(), taskID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL",
				"message": "実行状態の取得に失敗しました。",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "NOT_FOUND",
				"message": "指定されたタスクは存在しません。",
			})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}
