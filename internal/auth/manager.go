// Package auth は管理者向けデバッグエンドポイントの認証・認可を提供します。
// 想定利用者は運用担当者のみで、一般のジョブAPIは認証を要求しません。
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/image-forge/internal/config"
)

const (
	SessionCookieName = "if_admin"

	sessionKeyUser       = "admin_user"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	csrfHeader = "X-CSRF-Token"
)

const (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
)

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// Manager は管理者ログインとセッション検証をまとめた構造体です。
type Manager struct {
	cfg      *config.Config
	failures *lockout
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		cfg:      cfg,
		failures: newLockout(5, 15*time.Minute, 10*time.Minute),
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は /api/auth/login のハンドラーです。
// 成功時はセッションを発行し、CSRFトークンをレスポンスヘッダーで返します。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_ARGUMENT",
			"message": "username と password を JSON で送ってください",
		})
		return
	}

	if m.cfg.AdminUsername == "" || m.cfg.AdminPasswordHash == "" || m.cfg.SessionSecret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SERVER_MISCONFIGURATION",
			"message": "管理者ログインが設定されていません",
		})
		return
	}

	ip := c.ClientIP()
	if retryAfter := m.failures.blockedFor(ip); retryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "一定時間後に再度お試しください",
		})
		return
	}

	if req.Username != m.cfg.AdminUsername || !verifyPassword(m.cfg.AdminPasswordHash, req.Password) {
		m.failures.fail(ip)
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "ユーザー名またはパスワードが正しくありません",
		})
		return
	}
	m.failures.reset(ip)

	token, err := generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "CSRF トークンの生成に失敗しました",
		})
		return
	}

	session := sessions.Default(c)
	now := time.Now()
	session.Set(sessionKeyUser, m.cfg.AdminUsername)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの保存に失敗しました",
		})
		return
	}

	c.Header(csrfHeader, token)
	c.Status(http.StatusNoContent)
}

// Logout は /api/auth/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの削除に失敗しました",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// RequireAdmin は管理者セッションを検証するミドルウェアを返します。
func (m *Manager) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		user, ok := session.Get(sessionKeyUser).(string)
		if !ok || user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "管理者ログインが必要です",
			})
			return
		}

		now := time.Now()
		if code, expired := sessionExpiry(session, now); expired {
			session.Clear()
			_ = session.Save()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    code,
				"message": "セッションが無効です。再ログインしてください",
			})
			return
		}

		session.Set(sessionKeyLastActive, now.Unix())
		_ = session.Save()
		c.Next()
	}
}

// VerifyCSRF は更新系メソッドに対して X-CSRF-Token ヘッダーを検証します。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "CSRF トークンが設定されていません",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(expected), []byte(c.GetHeader(csrfHeader))) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": "CSRF トークンが一致しません",
			})
			return
		}

		c.Next()
	}
}

// sessionExpiry はセッションの有効期限と無操作タイムアウトを判定します。
func sessionExpiry(session sessions.Session, now time.Time) (string, bool) {
	issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
	if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime {
		return "SESSION_EXPIRED", true
	}
	lastActive := readUnix(session.Get(sessionKeyLastActive))
	if lastActive.IsZero() || now.Sub(lastActive) > idleTimeout {
		return "SESSION_IDLE_TIMEOUT", true
	}
	return "", false
}

func verifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}

// lockout はIP単位のログイン失敗回数を数え、上限到達で一定時間ブロックします。
type lockout struct {
	mu       sync.Mutex
	maxFails int
	window   time.Duration
	duration time.Duration
	entries  map[string]*lockoutEntry
}

type lockoutEntry struct {
	fails        int
	firstFail    time.Time
	blockedUntil time.Time
}

func newLockout(maxFails int, window, duration time.Duration) *lockout {
	return &lockout{
		maxFails: maxFails,
		window:   window,
		duration: duration,
		entries:  make(map[string]*lockoutEntry),
	}
}

// blockedFor は ip がブロック中なら残り時間を返します。
func (l *lockout) blockedFor(ip string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[ip]
	if !ok || time.Now().After(entry.blockedUntil) {
		return 0
	}
	return time.Until(entry.blockedUntil)
}

// fail は失敗を記録し、観測窓の中で上限に達したらブロックを設定します。
func (l *lockout) fail(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.entries[ip]
	if !ok || now.Sub(entry.firstFail) > l.window {
		entry = &lockoutEntry{firstFail: now}
		l.entries[ip] = entry
	}
	entry.fails++
	if entry.fails >= l.maxFails {
		entry.blockedUntil = now.Add(l.duration)
	}
}

func (l *lockout) reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, ip)
}
