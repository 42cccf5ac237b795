package manager

import (
	"errors"

	jerrors "github.com/juju/errors"
)

// 原子操作错误
var (
	ErrOperationFinished   = errors.New("atomic operation already finished")
	ErrNoActiveOperation   = errors.New("no active atomic operation")
	ErrOperationRolledBack = errors.New("atomic operation was rolled back")
)

// 重做日志错误
var (
	ErrRedoLogClosed = errors.New("redo log closed")
	ErrRedoCorrupted = errors.New("redo record corrupted")
)

// AbortError 由操作体主动返回，用于中止并回滚当前原子操作。它不表示结构损坏。
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	return "atomic operation aborted: " + e.Reason
}

// Abort 构造中止信号
func Abort(reason string) error {
	return &AbortError{Reason: reason}
}

// IsAbort 判断错误链中是否包含中止信号
func IsAbort(err error) bool {
	if err == nil {
		return false
	}
	var ae *AbortError
	if errors.As(err, &ae) {
		return true
	}
	_, ok := jerrors.Cause(err).(*AbortError)
	return ok
}
