package common

import "encoding/binary"

// Page header layout shared by every durable page:
//
//	[0:2)   page type
//	[2:4)   reserved
//	[4:12)  LSN of the atomic operation that last wrote the page
//	[12:16) checksum, maintained by the file store on flush
const (
	FileHeaderSize = 16

	PageTypeOffset = 0
	PageLSNOffset  = 4
	ChecksumOffset = 12
)

const (
	DefaultPageSize = 16384
)

type LSNT uint64

type PageType uint16

// Page types
const (
	// FIL_PAGE_TYPE_ALLOCATED 新分配尚未初始化的页
	FIL_PAGE_TYPE_ALLOCATED PageType = 0x0000

	// FIL_PAGE_HASH_DIRECTORY 可扩展哈希目录页，保存目录节点
	FIL_PAGE_HASH_DIRECTORY PageType = 0x0101

	// FIL_PAGE_HASH_BUCKET 哈希桶页
	FIL_PAGE_HASH_BUCKET PageType = 0x0102

	// FIL_PAGE_HASH_META 哈希表元数据页，同时保存null键
	FIL_PAGE_HASH_META PageType = 0x0103

	// FIL_PAGE_BTREE_META B+树元数据页
	FIL_PAGE_BTREE_META PageType = 0x0201

	// FIL_PAGE_BTREE_NODE B+树节点页(叶子或内部节点)
	FIL_PAGE_BTREE_NODE PageType = 0x0202

	// FIL_PAGE_BTREE_NULL_BUCKET B+树null键值页
	FIL_PAGE_BTREE_NULL_BUCKET PageType = 0x0203

	// FIL_PAGE_TYPE_FREE 已释放，挂在空闲链表上的页
	FIL_PAGE_TYPE_FREE PageType = 0x0F00
)

func (t PageType) String() string {
	switch t {
	case FIL_PAGE_TYPE_ALLOCATED:
		return "ALLOCATED"
	case FIL_PAGE_HASH_DIRECTORY:
		return "HASH_DIRECTORY"
	case FIL_PAGE_HASH_BUCKET:
		return "HASH_BUCKET"
	case FIL_PAGE_HASH_META:
		return "HASH_META"
	case FIL_PAGE_BTREE_META:
		return "BTREE_META"
	case FIL_PAGE_BTREE_NODE:
		return "BTREE_NODE"
	case FIL_PAGE_BTREE_NULL_BUCKET:
		return "BTREE_NULL_BUCKET"
	case FIL_PAGE_TYPE_FREE:
		return "FREE"
	}
	return "UNKNOWN"
}

// GetPageType 读取页类型
func GetPageType(page []byte) PageType {
	return PageType(binary.BigEndian.Uint16(page[PageTypeOffset:]))
}

// SetPageType 写入页类型
func SetPageType(page []byte, t PageType) {
	binary.BigEndian.PutUint16(page[PageTypeOffset:], uint16(t))
}

func GetPageLSN(page []byte) LSNT {
	return LSNT(binary.BigEndian.Uint64(page[PageLSNOffset:]))
}

func SetPageLSN(page []byte, lsn LSNT) {
	binary.BigEndian.PutUint64(page[PageLSNOffset:], uint64(lsn))
}

func GetPageChecksum(page []byte) uint32 {
	return binary.BigEndian.Uint32(page[ChecksumOffset:])
}

func SetPageChecksum(page []byte, sum uint32) {
	binary.BigEndian.PutUint32(page[ChecksumOffset:], sum)
}
