package hashindex

import (
	"encoding/binary"

	"github.com/zhukovaskychina/xmysql-index/server/common"
)

const (
	// MaxLevelDepth 一个目录节点最多消耗的哈希位数
	MaxLevelDepth = 8
	// MaxLevelSize 目录节点指针数组宽度
	MaxLevelSize  = 1 << MaxLevelDepth

	pointerSize = 8

	nodeMaxLeftOffset   = 0
	nodeMaxRightOffset  = 1
	nodeLocalDepthOff   = 2
	nodePointersOffset  = 3
	directoryNodeSize   = nodePointersOffset + MaxLevelSize*pointerSize
	deletedNodeMarker   = 0xFF
	noTombstone         = int32(-1)
	firstPageTombstone  = common.FileHeaderSize
	firstPageHighWater  = common.FileHeaderSize + 4
	firstPageHeaderSize = common.FileHeaderSize + 8
	pageHeaderSize      = common.FileHeaderSize
)

// DirectoryNode 目录节点的内存表示
type DirectoryNode struct {
	MaxLeftChildDepth  byte
	MaxRightChildDepth byte
	NodeLocalDepth     byte
	Pointers           [MaxLevelSize]int64
}

// directoryLayout index到(页, 槽)的映射，第一页因为目录头而容量更小
type directoryLayout struct {
	firstPageNodes uint32
	pageNodes      uint32
}

func newDirectoryLayout(pageSize int) directoryLayout {
	return directoryLayout{
		firstPageNodes: uint32((pageSize - firstPageHeaderSize) / directoryNodeSize),
		pageNodes:      uint32((pageSize - pageHeaderSize) / directoryNodeSize),
	}
}

func (l directoryLayout) locate(index uint32) (pageIndex uint32, offset int) {
	if index < l.firstPageNodes {
		return 0, firstPageHeaderSize + int(index)*directoryNodeSize
	}
	rest := index - l.firstPageNodes
	return 1 + rest/l.pageNodes, pageHeaderSize + int(rest%l.pageNodes)*directoryNodeSize
}

// pagesFor 容纳n个节点需要的页数
func (l directoryLayout) pagesFor(n uint32) uint32 {
	if n <= l.firstPageNodes {
		return 1
	}
	rest := n - l.firstPageNodes
	return 1 + (rest+l.pageNodes-1)/l.pageNodes
}

func getTombstone(firstPage []byte) int32 {
	return int32(binary.BigEndian.Uint32(firstPage[firstPageTombstone:]))
}

func setTombstone(firstPage []byte, index int32) {
	binary.BigEndian.PutUint32(firstPage[firstPageTombstone:], uint32(index))
}

func getHighWater(firstPage []byte) uint32 {
	return binary.BigEndian.Uint32(firstPage[firstPageHighWater:])
}

func setHighWater(firstPage []byte, n uint32) {
	binary.BigEndian.PutUint32(firstPage[firstPageHighWater:], n)
}

func nodePointer(node []byte, slot int) int64 {
	return int64(binary.BigEndian.Uint64(node[nodePointersOffset+slot*pointerSize:]))
}

func setNodePointer(node []byte, slot int, ptr int64) {
	binary.BigEndian.PutUint64(node[nodePointersOffset+slot*pointerSize:], uint64(ptr))
}

func readNode(node []byte) DirectoryNode {
	n := DirectoryNode{
		MaxLeftChildDepth:  node[nodeMaxLeftOffset],
		MaxRightChildDepth: node[nodeMaxRightOffset],
		NodeLocalDepth:     node[nodeLocalDepthOff],
	}
	for i := 0; i < MaxLevelSize; i++ {
		n.Pointers[i] = nodePointer(node, i)
	}
	return n
}

func writeNode(node []byte, n *DirectoryNode) {
	node[nodeMaxLeftOffset] = n.MaxLeftChildDepth
	node[nodeMaxRightOffset] = n.MaxRightChildDepth
	node[nodeLocalDepthOff] = n.NodeLocalDepth
	for i := 0; i < MaxLevelSize; i++ {
		setNodePointer(node, i, n.Pointers[i])
	}
}

// 已删除的槽: localDepth置为deletedNodeMarker，指针区前4字节存下一个空闲槽
func markNodeDeleted(node []byte, next int32) {
	for i := range node {
		node[i] = 0
	}
	node[nodeLocalDepthOff] = deletedNodeMarker
	binary.BigEndian.PutUint32(node[nodePointersOffset:], uint32(next))
}

func nextTombstone(node []byte) int32 {
	return int32(binary.BigEndian.Uint32(node[nodePointersOffset:]))
}

func isNodeDeleted(node []byte) bool {
	return node[nodeLocalDepthOff] == deletedNodeMarker
}
