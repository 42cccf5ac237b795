package mvbtree

import (
	"encoding/binary"

	"github.com/zhukovaskychina/xmysql-index/server/common"
)

// 节点页布局: 公共页头 | flags u8 | pad | count u16 | left u32 | right u32 | leftmost child u32 | entries
// 叶子条目 = key | value | seq u64，内部条目 = 叶子条目 | child u32(分隔符右侧的子节点)
const (
	nodeFlagsOffset    = common.FileHeaderSize
	nodeCountOffset    = common.FileHeaderSize + 2
	nodeLeftOffset     = common.FileHeaderSize + 4
	nodeRightOffset    = common.FileHeaderSize + 8
	nodeLeftmostOffset = common.FileHeaderSize + 12
	nodeHeaderSize     = common.FileHeaderSize + 16

	leafFlag  = 1
	seqSize   = 8
	childSize = 4
	// 空闲页复用left字段保存下一个空闲页
	nodeNextFreeOffset = nodeLeftOffset
)

// 元数据页(树文件第0页)
const (
	metaRootOffset      = common.FileHeaderSize
	metaFreeHeadOffset  = common.FileHeaderSize + 4
	metaSizeOffset      = common.FileHeaderSize + 8
	metaSeqOffset       = common.FileHeaderSize + 16
	metaKeySizeOffset   = common.FileHeaderSize + 24
	metaValueSizeOffset = common.FileHeaderSize + 28
)

type nodeLayout struct {
	keySize       int
	valueSize     int
	leafEntry     int
	internalEntry int
	leafCap       int
	internalCap   int
}

func newNodeLayout(pageSize, keySize, valueSize int) nodeLayout {
	leafEntry := keySize + valueSize + seqSize
	internalEntry := leafEntry + childSize
	return nodeLayout{
		keySize:       keySize,
		valueSize:     valueSize,
		leafEntry:     leafEntry,
		internalEntry: internalEntry,
		leafCap:       (pageSize - nodeHeaderSize) / leafEntry,
		internalCap:   (pageSize - nodeHeaderSize) / internalEntry,
	}
}

// nodePage 节点页视图
type nodePage struct {
	*nodeLayout
	data []byte
}

func (l *nodeLayout) node(data []byte) nodePage {
	return nodePage{nodeLayout: l, data: data}
}

func (n nodePage) init(leaf bool) {
	for i := common.FileHeaderSize; i < len(n.data); i++ {
		n.data[i] = 0
	}
	common.SetPageType(n.data, common.FIL_PAGE_BTREE_NODE)
	if leaf {
		n.data[nodeFlagsOffset] = leafFlag
	}
}

func (n nodePage) isLeaf() bool {
	return n.data[nodeFlagsOffset]&leafFlag != 0
}

func (n nodePage) count() int {
	return int(binary.BigEndian.Uint16(n.data[nodeCountOffset:]))
}

func (n nodePage) setCount(c int) {
	binary.BigEndian.PutUint16(n.data[nodeCountOffset:], uint16(c))
}

func (n nodePage) left() uint32 {
	return binary.BigEndian.Uint32(n.data[nodeLeftOffset:])
}

func (n nodePage) setLeft(page uint32) {
	binary.BigEndian.PutUint32(n.data[nodeLeftOffset:], page)
}

func (n nodePage) right() uint32 {
	return binary.BigEndian.Uint32(n.data[nodeRightOffset:])
}

func (n nodePage) setRight(page uint32) {
	binary.BigEndian.PutUint32(n.data[nodeRightOffset:], page)
}

func (n nodePage) leftmost() uint32 {
	return binary.BigEndian.Uint32(n.data[nodeLeftmostOffset:])
}

func (n nodePage) setLeftmost(page uint32) {
	binary.BigEndian.PutUint32(n.data[nodeLeftmostOffset:], page)
}

func (n nodePage) capacity() int {
	if n.isLeaf() {
		return n.leafCap
	}
	return n.internalCap
}

func (n nodePage) entrySize() int {
	if n.isLeaf() {
		return n.leafEntry
	}
	return n.internalEntry
}

func (n nodePage) isFull() bool {
	return n.count() >= n.capacity()
}

func (n nodePage) offset(i int) int {
	return nodeHeaderSize + i*n.entrySize()
}

// entry 第i个条目的原始字节，内部节点包括child
func (n nodePage) entry(i int) []byte {
	off := n.offset(i)
	return n.data[off : off+n.entrySize()]
}

// composite 第i个条目的 key|value|seq
func (n nodePage) composite(i int) []byte {
	off := n.offset(i)
	return n.data[off : off+n.leafEntry]
}

func (n nodePage) keyAt(i int) []byte {
	off := n.offset(i)
	return n.data[off : off+n.keySize]
}

func (n nodePage) valueAt(i int) []byte {
	off := n.offset(i) + n.keySize
	return n.data[off : off+n.valueSize]
}

// child 第i个子节点，0是leftmost，i>0是第i-1个分隔符右侧的子节点
func (n nodePage) child(i int) uint32 {
	if i == 0 {
		return n.leftmost()
	}
	off := n.offset(i-1) + n.leafEntry
	return binary.BigEndian.Uint32(n.data[off:])
}

func (n nodePage) setChild(i int, page uint32) {
	if i == 0 {
		n.setLeftmost(page)
		return
	}
	off := n.offset(i-1) + n.leafEntry
	binary.BigEndian.PutUint32(n.data[off:], page)
}

func (n nodePage) insertAt(i int, entry []byte) {
	c := n.count()
	copy(n.data[n.offset(i+1):n.offset(c+1)], n.data[n.offset(i):n.offset(c)])
	copy(n.entry(i), entry)
	n.setCount(c + 1)
}

func (n nodePage) removeAt(i int) {
	c := n.count()
	copy(n.data[n.offset(i):n.offset(c-1)], n.data[n.offset(i+1):n.offset(c)])
	zero(n.data[n.offset(c-1):n.offset(c)])
	n.setCount(c - 1)
}

// entries 复制出[from, to)范围的条目
func (n nodePage) entries(from, to int) [][]byte {
	out := make([][]byte, 0, to-from)
	for i := from; i < to; i++ {
		e := make([]byte, n.entrySize())
		copy(e, n.entry(i))
		out = append(out, e)
	}
	return out
}

func (n nodePage) setEntries(entries [][]byte) {
	c := n.count()
	for i, e := range entries {
		copy(n.entry(i), e)
	}
	if len(entries) < c {
		zero(n.data[n.offset(len(entries)):n.offset(c)])
	}
	n.setCount(len(entries))
}

// internalEntryOf 用composite和child拼出内部节点条目
func (l *nodeLayout) internalEntryOf(composite []byte, child uint32) []byte {
	e := make([]byte, l.internalEntry)
	copy(e, composite[:l.leafEntry])
	binary.BigEndian.PutUint32(e[l.leafEntry:], child)
	return e
}

func (l *nodeLayout) entryChild(internal []byte) uint32 {
	return binary.BigEndian.Uint32(internal[l.leafEntry:])
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// metaPage 元数据页视图
type metaPage []byte

func (m metaPage) init(keySize, valueSize int) {
	common.SetPageType(m, common.FIL_PAGE_BTREE_META)
	binary.BigEndian.PutUint32(m[metaKeySizeOffset:], uint32(keySize))
	binary.BigEndian.PutUint32(m[metaValueSizeOffset:], uint32(valueSize))
}

func (m metaPage) root() uint32 {
	return binary.BigEndian.Uint32(m[metaRootOffset:])
}

func (m metaPage) setRoot(page uint32) {
	binary.BigEndian.PutUint32(m[metaRootOffset:], page)
}

func (m metaPage) freeHead() uint32 {
	return binary.BigEndian.Uint32(m[metaFreeHeadOffset:])
}

func (m metaPage) setFreeHead(page uint32) {
	binary.BigEndian.PutUint32(m[metaFreeHeadOffset:], page)
}

func (m metaPage) size() int64 {
	return int64(binary.BigEndian.Uint64(m[metaSizeOffset:]))
}

func (m metaPage) setSize(n int64) {
	binary.BigEndian.PutUint64(m[metaSizeOffset:], uint64(n))
}

// nextSeq 分配插入序号，相同(key, value)的多份拷贝靠它区分
func (m metaPage) nextSeq() uint64 {
	seq := binary.BigEndian.Uint64(m[metaSeqOffset:])
	binary.BigEndian.PutUint64(m[metaSeqOffset:], seq+1)
	return seq
}

func (m metaPage) keySize() int {
	return int(binary.BigEndian.Uint32(m[metaKeySizeOffset:]))
}

func (m metaPage) valueSize() int {
	return int(binary.BigEndian.Uint32(m[metaValueSizeOffset:]))
}
