// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/image-forge/internal/auth"
	"github.com/yourusername/image-forge/internal/config"
	"github.com/yourusername/image-forge/internal/generate"
	"github.com/yourusername/image-forge/internal/jobs"
	"github.com/yourusername/image-forge/internal/models"
	"github.com/yourusername/image-forge/internal/storage"
	"github.com/yourusername/image-forge/internal/store"
	"github.com/yourusername/image-forge/internal/worker"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（クッキー署名鍵は必須）
	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, sessionStore))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	// 生成画像とモデル参照画像を保存するローカルストレージ
	outputs, err := storage.NewLocal(cfg.StorageDir)
	if err != nil {
		log.Fatalf("Failed to prepare storage dir: %v", err)
	}

	// ジョブの永続ストア（DATABASE_URL があれば PostgreSQL、なければメモリ）
	jobStore, modelStore, closeStores, err := setupStores(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to set up stores: %v", err)
	}
	defer closeStores()

	// タスクキューとワーカーの起動
	engine := worker.NewEngine(cfg, outputs, log.Default())
	manager, err := setupJobs(cfg, engine)
	if err != nil {
		log.Fatalf("Failed to set up job queue: %v", err)
	}
	manager.StartWorkers()
	defer func() {
		if err := manager.Shutdown(context.Background()); err != nil {
			log.Printf("job manager shutdown: %v", err)
		}
	}()

	limits := generate.Limits{
		MaxPromptLength:    cfg.MaxPromptLength,
		MaxReferenceImages: cfg.MaxReferenceImages,
	}
	svc, err := generate.NewService(jobStore, modelStore, manager, outputs, limits, log.Default())
	if err != nil {
		log.Fatalf("Failed to set up generate service: %v", err)
	}

	// ルーティングの設定
	setupRoutes(router, cfg, svc, modelStore, manager, outputs)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "image-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, svc *generate.Service, modelStore store.ModelStore, manager *jobs.Manager, outputs *storage.Local) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	// 生成結果と参照画像の静的配信
	router.Static(storage.PublicPrefix, outputs.BaseDir())

	authManager := auth.NewManager(cfg)

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireAdmin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
		}

		gen := api.Group("/generate")
		{
			gen.POST("", generate.SubmitHandler(svc))
			gen.GET("", generate.ListHandler(svc))
			gen.GET("/:id", generate.StatusHandler(svc))
			gen.GET("/:id/events", generate.EventsHandler(svc))
			gen.POST("/:id/cancel", generate.CancelHandler(svc))
			gen.POST("/:id/retry", generate.RetryHandler(svc))
		}

		modelRoutes := api.Group("/models")
		{
			modelRoutes.POST("", models.CreateHandler(modelStore))
			modelRoutes.GET("", models.ListHandler(modelStore))
			modelRoutes.GET("/:id", models.GetHandler(modelStore))
		}

		// 管理者向けのデバッグ用エンドポイント
		admin := api.Group("/admin")
		admin.Use(authManager.RequireAdmin(), authManager.VerifyCSRF())
		{
			admin.GET("/backend", backendDebugHandler(cfg))
			admin.GET("/tasks/:id", runStateDebugHandler(manager))
		}
	}

	// WebSocket はクッキーに依存しないため API グループの外に置く
	router.GET("/ws/generate", generate.WSHandler(svc, log.Default()))
}
