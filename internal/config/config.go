// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// 管理者設定（デバッグエンドポイント用）
	AdminUsername     string // 管理者ログイン用ユーザー名
	AdminPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret     string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// 永続化設定
	DatabaseURL string // PostgreSQL接続URL（空の場合はメモリストアで起動）
	StorageDir  string // 生成物と参照画像の保存先ディレクトリ

	// ジョブ/キュー設定
	QueueRedisURL    string // Asynq用Redis接続URL
	JobRecordMinutes int    // 実行状態レコードのTTL（分）

	// 生成リクエスト制限
	MaxPromptLength    int // プロンプトの最大文字数
	MaxReferenceImages int // 参照画像の最大枚数

	// 推論バックエンド設定
	GPUServerURL        string   // バックエンドURLの明示的な上書き（空なら自動探索）
	AutoGPUServer       bool     // バックエンドの自動探索を有効にするか
	GPUServerCandidates []string // 自動探索の候補URL（順序維持・重複除去済み）
	GPUServerAPIKey     string   // バックエンド呼び出し用のAPIキー（Bearer）
	GPUTimeoutSeconds   int      // 生成リクエストの読み取りタイムアウト（秒）
	GPUMaxAttempts      int      // 生成リクエストの最大試行回数
	GPUTransientStatus  []int    // 一時的エラーとして再試行するHTTPステータス
}

const defaultGPUCandidates = "http://gpu_server:8080,http://127.0.0.1:8080"

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// 管理者設定
		AdminUsername:     getEnv("ADMIN_USERNAME", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		SessionSecret:     getEnv("SESSION_SECRET", ""),

		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// 永続化設定
		DatabaseURL: getEnv("DATABASE_URL", ""),
		StorageDir:  getEnv("STORAGE_DIR", "./storage"),

		// ジョブ/キュー設定
		QueueRedisURL:    getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		JobRecordMinutes: getEnvAsInt("JOB_RECORD_TTL_MINUTES", 60),

		// 生成リクエスト制限
		MaxPromptLength:    getEnvAsInt("MAX_PROMPT_LENGTH", 4000),
		MaxReferenceImages: getEnvAsInt("MAX_REFERENCE_IMAGES", 10),

		// 推論バックエンド設定
		GPUServerURL:        strings.TrimRight(strings.TrimSpace(getEnv("GPU_SERVER_URL", "")), "/"),
		AutoGPUServer:       getEnvAsBool("AUTO_GPU_SERVER", true),
		GPUServerCandidates: splitCandidates(getEnv("GPU_SERVER_CANDIDATES", defaultGPUCandidates)),
		GPUServerAPIKey:     strings.TrimSpace(getEnv("GPU_SERVER_API_KEY", "")),
		GPUTimeoutSeconds:   getEnvAsInt("GPU_SERVER_TIMEOUT_S", 600),
		GPUMaxAttempts:      getEnvAsInt("GPU_MAX_ATTEMPTS", 3),
		GPUTransientStatus:  splitStatusList(getEnv("GPU_TRANSIENT_STATUS", "502,503,504")),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// ローカル開発では管理者設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.AdminUsername == "" {
			return fmt.Errorf("ADMIN_USERNAME is required in release mode")
		}
		if c.AdminPasswordHash == "" {
			return fmt.Errorf("ADMIN_PASSWORD_HASH is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in release mode")
		}
	}

	if c.MaxPromptLength <= 0 {
		return fmt.Errorf("MAX_PROMPT_LENGTH must be positive")
	}
	if c.GPUMaxAttempts <= 0 {
		return fmt.Errorf("GPU_MAX_ATTEMPTS must be positive")
	}

	return nil
}

// splitCandidates はカンマ区切りのURL一覧を、順序を保ったまま重複除去して返します。
func splitCandidates(raw string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(raw, ",") {
		u := strings.TrimRight(strings.TrimSpace(part), "/")
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// splitStatusList はカンマ区切りのHTTPステータス一覧を整数配列に変換します。
// 不正な値は無視します。
func splitStatusList(raw string) []int {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		code, err := strconv.Atoi(trimmed)
		if err != nil || code < 100 || code > 599 {
			continue
		}
		out = append(out, code)
	}
	return out
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if valueStr == "" {
		return defaultValue
	}
	switch valueStr {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}
