package hashindex

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/zhukovaskychina/xmysql-index/server/common"
)

// 桶页布局: 公共页头 | depth u8 | pad | size u16 | nextFree u32 | entries...
// entry = hash u64 | key | value，按hash升序
const (
	bucketDepthOffset    = common.FileHeaderSize
	bucketSizeOffset     = common.FileHeaderSize + 2
	bucketNextFreeOffset = common.FileHeaderSize + 4
	bucketHeaderSize     = common.FileHeaderSize + 8
	hashSize             = 8
)

// 元数据页(桶文件第0页)布局
const (
	metaSizeOffset      = common.FileHeaderSize
	metaHasNullOffset   = common.FileHeaderSize + 8
	metaFreeHeadOffset  = common.FileHeaderSize + 12
	metaKeySizeOffset   = common.FileHeaderSize + 16
	metaValueSizeOffset = common.FileHeaderSize + 20
	metaNullValueOffset = common.FileHeaderSize + 24
)

type entryLayout struct {
	keySize   int
	valueSize int
	entrySize int
	capacity  int
}

func newEntryLayout(pageSize, keySize, valueSize int) entryLayout {
	entrySize := hashSize + keySize + valueSize
	return entryLayout{
		keySize:   keySize,
		valueSize: valueSize,
		entrySize: entrySize,
		capacity:  (pageSize - bucketHeaderSize) / entrySize,
	}
}

// bucketPage 桶页的视图，不持有数据
type bucketPage struct {
	entryLayout
	data []byte
}

func (l entryLayout) bucket(data []byte) bucketPage {
	return bucketPage{entryLayout: l, data: data}
}

func (b bucketPage) init(depth byte) {
	common.SetPageType(b.data, common.FIL_PAGE_HASH_BUCKET)
	b.setDepth(depth)
	b.setSize(0)
	b.setNextFree(0)
}

func (b bucketPage) depth() byte {
	return b.data[bucketDepthOffset]
}

func (b bucketPage) setDepth(depth byte) {
	b.data[bucketDepthOffset] = depth
}

func (b bucketPage) size() int {
	return int(binary.BigEndian.Uint16(b.data[bucketSizeOffset:]))
}

func (b bucketPage) setSize(n int) {
	binary.BigEndian.PutUint16(b.data[bucketSizeOffset:], uint16(n))
}

func (b bucketPage) nextFree() uint32 {
	return binary.BigEndian.Uint32(b.data[bucketNextFreeOffset:])
}

func (b bucketPage) setNextFree(next uint32) {
	binary.BigEndian.PutUint32(b.data[bucketNextFreeOffset:], next)
}

func (b bucketPage) isFull() bool {
	return b.size() >= b.capacity
}

func (b bucketPage) offset(i int) int {
	return bucketHeaderSize + i*b.entrySize
}

func (b bucketPage) entry(i int) []byte {
	off := b.offset(i)
	return b.data[off : off+b.entrySize]
}

func (b bucketPage) hashAt(i int) uint64 {
	return binary.BigEndian.Uint64(b.data[b.offset(i):])
}

func (b bucketPage) keyAt(i int) []byte {
	off := b.offset(i) + hashSize
	return b.data[off : off+b.keySize]
}

func (b bucketPage) valueAt(i int) []byte {
	off := b.offset(i) + hashSize + b.keySize
	return b.data[off : off+b.valueSize]
}

// find 返回键所在位置；不存在时返回插入位置
func (b bucketPage) find(hash uint64, key []byte) (int, bool) {
	n := b.size()
	i := sort.Search(n, func(i int) bool { return b.hashAt(i) >= hash })
	for j := i; j < n && b.hashAt(j) == hash; j++ {
		if bytes.Equal(b.keyAt(j), key) {
			return j, true
		}
	}
	return i, false
}

func (b bucketPage) insertAt(i int, hash uint64, key, value []byte) {
	n := b.size()
	copy(b.data[b.offset(i+1):b.offset(n+1)], b.data[b.offset(i):b.offset(n)])
	off := b.offset(i)
	binary.BigEndian.PutUint64(b.data[off:], hash)
	copy(b.data[off+hashSize:], key)
	copy(b.data[off+hashSize+b.keySize:], value)
	b.setSize(n + 1)
}

func (b bucketPage) removeAt(i int) {
	n := b.size()
	copy(b.data[b.offset(i):b.offset(n-1)], b.data[b.offset(i+1):b.offset(n)])
	clearBytes(b.data[b.offset(n-1):b.offset(n)])
	b.setSize(n - 1)
}

func (b bucketPage) setValue(i int, value []byte) {
	copy(b.valueAt(i), value)
}

// entries 复制出所有条目
func (b bucketPage) entries() [][]byte {
	n := b.size()
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		e := make([]byte, b.entrySize)
		copy(e, b.entry(i))
		out[i] = e
	}
	return out
}

// setEntries 用已按hash排序的条目覆盖页内容
func (b bucketPage) setEntries(entries [][]byte) {
	n := b.size()
	for i, e := range entries {
		copy(b.entry(i), e)
	}
	if len(entries) < n {
		clearBytes(b.data[b.offset(len(entries)):b.offset(n)])
	}
	b.setSize(len(entries))
}

func entryHash(e []byte) uint64 {
	return binary.BigEndian.Uint64(e)
}

// mergeEntries 合并两个按hash排序的条目序列
func mergeEntries(a, b [][]byte) [][]byte {
	out := make([][]byte, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if entryHash(a[i]) <= entryHash(b[j]) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// metaPage 元数据页视图
type metaPage []byte

func (m metaPage) init(keySize, valueSize int) {
	common.SetPageType(m, common.FIL_PAGE_HASH_META)
	m.setSize(0)
	m.setNull(false)
	m.setFreeHead(0)
	binary.BigEndian.PutUint32(m[metaKeySizeOffset:], uint32(keySize))
	binary.BigEndian.PutUint32(m[metaValueSizeOffset:], uint32(valueSize))
}

func (m metaPage) size() int64 {
	return int64(binary.BigEndian.Uint64(m[metaSizeOffset:]))
}

func (m metaPage) setSize(n int64) {
	binary.BigEndian.PutUint64(m[metaSizeOffset:], uint64(n))
}

func (m metaPage) hasNull() bool {
	return m[metaHasNullOffset] == 1
}

func (m metaPage) setNull(present bool) {
	if present {
		m[metaHasNullOffset] = 1
	} else {
		m[metaHasNullOffset] = 0
	}
}

func (m metaPage) freeHead() uint32 {
	return binary.BigEndian.Uint32(m[metaFreeHeadOffset:])
}

func (m metaPage) setFreeHead(page uint32) {
	binary.BigEndian.PutUint32(m[metaFreeHeadOffset:], page)
}

func (m metaPage) keySize() int {
	return int(binary.BigEndian.Uint32(m[metaKeySizeOffset:]))
}

func (m metaPage) valueSize() int {
	return int(binary.BigEndian.Uint32(m[metaValueSizeOffset:]))
}

func (m metaPage) nullValue(valueSize int) []byte {
	return m[metaNullValueOffset : metaNullValueOffset+valueSize]
}
