package util

import (
	"github.com/OneOfOne/xxhash"
)

// 将一个键进行Hash
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// Checksum32 页面与日志记录校验和
func Checksum32(data []byte) uint32 {
	return xxhash.Checksum32(data)
}

// PageChecksum 计算页面校验和，跳过存放校验和本身的4个字节
func PageChecksum(page []byte, checksumOffset int) uint32 {
	h := xxhash.New32()
	h.Write(page[:checksumOffset])
	h.Write(page[checksumOffset+4:])
	return h.Sum32()
}
