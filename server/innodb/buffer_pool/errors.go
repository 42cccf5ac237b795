package buffer_pool

import "errors"

var (
	ErrNotPinned = errors.New("page is not pinned")

	// 缓冲池错误
	ErrInvalidConfig = errors.New("invalid buffer pool configuration")
	ErrIOError       = errors.New("IO error occurred")
)

// BufferPoolError 缓冲池错误结构
type BufferPoolError struct {
	Op        string // 操作名称
	FileID    uint32
	PageIndex uint32
	Err       error // 原始错误
}

func (e *BufferPoolError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *BufferPoolError) Unwrap() error {
	return e.Err
}

// NewError 创建新的缓冲池错误
func NewError(op string, fileID, pageIndex uint32, err error) error {
	return &BufferPoolError{
		Op:        op,
		FileID:    fileID,
		PageIndex: pageIndex,
		Err:       err,
	}
}

// IsIOError 检查是否为IO错误
func IsIOError(err error) bool {
	return errors.Is(err, ErrIOError)
}
