package basic

import "errors"

// 页面相关错误
var (
	ErrPageNotFound    = errors.New("page not found")
	ErrPageCorrupted   = errors.New("page corrupted")
	ErrInvalidPageType = errors.New("invalid page type")
	ErrInvalidPageSize = errors.New("invalid page size")
	ErrInvalidPageID   = errors.New("invalid page ID")
)

// 文件相关错误
var (
	ErrFileNotFound = errors.New("file not found")
	ErrFileExists   = errors.New("file already exists")
	ErrStoreClosed  = errors.New("page store closed")
)

// 索引相关错误
var (
	ErrTreeCorrupted   = errors.New("tree corrupted")
	ErrNodeDeleted     = errors.New("directory node deleted")
	ErrNodeOutOfRange  = errors.New("directory node index out of range")
	ErrInvalidKey      = errors.New("invalid key")
	ErrInvalidKeySize  = errors.New("key does not match the fixed key size")
	ErrEntryTooLarge   = errors.New("entry does not fit into an empty page")
	ErrHashSpaceFull   = errors.New("hash bucket cannot be split further")
	ErrIndexNotCreated = errors.New("index is not created")
)

// 数据类型相关错误
var (
	ErrInvalidValue   = errors.New("invalid value")
	ErrValueTooLarge  = errors.New("value too large")
	ErrBufferTooSmall = errors.New("buffer too small")
)

// IsStructural 结构性错误不可重试，直接返回给调用方
func IsStructural(err error) bool {
	return errors.Is(err, ErrPageCorrupted) ||
		errors.Is(err, ErrInvalidPageType) ||
		errors.Is(err, ErrTreeCorrupted) ||
		errors.Is(err, ErrNodeDeleted) ||
		errors.Is(err, ErrNodeOutOfRange)
}
