// Package generate は画像生成ジョブの投入・照会・状態照合・取消・再実行を提供します。
package generate

import "fmt"

// APIエラーコード。HTTP境界でステータスコードに対応付けられます。
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInternal        = "INTERNAL_ERROR"
)

// ジョブレコードに記録されるワーカー側の失敗コード。
const (
	ErrCodeWorkerFailed      = "worker_failed"
	ErrCodeResultFetchFailed = "result_fetch_failed"
)

// Error はAPI境界に返す業務エラーです。
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}
