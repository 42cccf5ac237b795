package buffer_pool

import (
	"container/list"

	"github.com/zhukovaskychina/xmysql-index/server/common"
)

/**
缓冲池中的页控制体。content一旦交给读者就不再原地修改，
写入时整体替换为新的切片，已pin住的读者继续看到旧内容。
**/
type BufferPage struct {
	fileID    uint32
	pageIndex uint32

	newestModification common.LSNT

	content []byte

	dirty           bool
	pinCount        int
	isInYoungRegion bool
	flushed         bool

	// LRU链表中的位置
	elem *list.Element
}

func newBufferPage(fileID, pageIndex uint32, content []byte) *BufferPage {
	return &BufferPage{
		fileID:    fileID,
		pageIndex: pageIndex,
		content:   content,
	}
}

func (bp *BufferPage) GetFileID() uint32 {
	return bp.fileID
}

func (bp *BufferPage) GetPageIndex() uint32 {
	return bp.pageIndex
}

// GetLSN 获取LSN
func (bp *BufferPage) GetLSN() common.LSNT {
	return bp.newestModification
}

// IsInYoungRegion returns whether the page is in young region
func (bp *BufferPage) IsInYoungRegion() bool {
	return bp.isInYoungRegion
}

func pageKey(fileID, pageIndex uint32) uint64 {
	return uint64(fileID)<<32 | uint64(pageIndex)
}
