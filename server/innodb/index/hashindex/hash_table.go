package hashindex

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-index/logger"
	"github.com/zhukovaskychina/xmysql-index/server/common"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/index/component"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-index/util"
)

const (
	// BucketExtension 桶文件扩展名
	BucketExtension = ".hb"
	// DefaultMergeThreshold 桶的条目数低于容量的该比例时尝试与伙伴桶合并
	DefaultMergeThreshold = 0.25

	rootNode      = 0
	metaPageIndex = 0
	hashBitsTotal = 64
)

type options struct {
	mergeThreshold float64
}

// Option 哈希表选项
type Option func(*options)

// WithMergeThreshold 设置合并阈值，取值范围[0, 1)，0表示从不合并
func WithMergeThreshold(threshold float64) Option {
	return func(o *options) {
		o.mergeThreshold = threshold
	}
}

// HashTable 基于可扩展哈希的单值索引。
//
// 键序列化后的64位xxhash从高位开始被目录树逐层消耗：每个目录节点消耗
// nodeLocalDepth位，槽指针>0指向桶页，<0指向子节点。桶的深度相对于所在节点，
// 深度为b的桶占用节点中2^(depth-b)个对齐的槽。null键保存在元数据页，不经过目录。
type HashTable[K any, V any] struct {
	name            string
	directory       *Directory
	buckets         *component.FileComponent
	keySerializer   basic.Serializer[K]
	valueSerializer basic.Serializer[V]
	layout          entryLayout
	opts            options
}

// pathStep 目录树中的一个槽
type pathStep struct {
	node   int
	slot   int
	depth  byte
	before int
}

// bucketLocation 键路由到的桶，path是从根开始经过的祖先节点
type bucketLocation struct {
	pathStep
	page uint32
	path []pathStep
}

func newHashTable[K any, V any](store basic.PageStore, name string, keySerializer basic.Serializer[K], valueSerializer basic.Serializer[V], opts []Option) (*HashTable[K, V], error) {
	o := options{mergeThreshold: DefaultMergeThreshold}
	for _, opt := range opts {
		opt(&o)
	}
	if o.mergeThreshold < 0 || o.mergeThreshold >= 1 {
		return nil, errors.Wrapf(basic.ErrInvalidValue, "merge threshold %v", o.mergeThreshold)
	}
	pageSize := store.PageSize()
	layout := newEntryLayout(pageSize, keySerializer.FixedSize(), valueSerializer.FixedSize())
	if layout.capacity < 2 || metaNullValueOffset+layout.valueSize > pageSize {
		return nil, errors.Wrapf(basic.ErrEntryTooLarge, "hash entry of %d bytes on %d byte pages", layout.entrySize, pageSize)
	}
	return &HashTable[K, V]{
		name:            name,
		directory:       NewDirectory(store, name),
		buckets:         component.NewFileComponent(store, name+BucketExtension),
		keySerializer:   keySerializer,
		valueSerializer: valueSerializer,
		layout:          layout,
		opts:            o,
	}, nil
}

// Create 创建空哈希表：目录根节点深度0，唯一的槽指向第1页的桶
func Create[K any, V any](op *manager.AtomicOperation, store basic.PageStore, name string, keySerializer basic.Serializer[K], valueSerializer basic.Serializer[V], opts ...Option) (*HashTable[K, V], error) {
	t, err := newHashTable(store, name, keySerializer, valueSerializer, opts)
	if err != nil {
		return nil, err
	}
	if err := t.directory.Create(op); err != nil {
		return nil, err
	}
	if err := t.buckets.Create(op); err != nil {
		return nil, err
	}
	_, meta, err := t.buckets.AddPage(op)
	if err != nil {
		return nil, err
	}
	metaPage(meta).init(t.layout.keySize, t.layout.valueSize)
	if err := t.addRoot(op); err != nil {
		return nil, err
	}
	logger.Debugf("hash table %s created, bucket capacity %d", name, t.layout.capacity)
	return t, nil
}

// Load 打开已有的哈希表
func Load[K any, V any](op *manager.AtomicOperation, store basic.PageStore, name string, keySerializer basic.Serializer[K], valueSerializer basic.Serializer[V], opts ...Option) (*HashTable[K, V], error) {
	t, err := newHashTable(store, name, keySerializer, valueSerializer, opts)
	if err != nil {
		return nil, err
	}
	if err := t.directory.Open(op); err != nil {
		return nil, err
	}
	if err := t.buckets.Open(op); err != nil {
		return nil, err
	}
	err = t.buckets.Read(op, metaPageIndex, func(data []byte) error {
		m := metaPage(data)
		if common.GetPageType(data) != common.FIL_PAGE_HASH_META {
			return errors.Wrapf(basic.ErrInvalidPageType, "meta page of %s is %s", name, common.GetPageType(data))
		}
		if m.keySize() != t.layout.keySize {
			return errors.Wrapf(basic.ErrInvalidKeySize, "hash table %s stores %d byte keys, serializer produces %d", name, m.keySize(), t.layout.keySize)
		}
		if m.valueSize() != t.layout.valueSize {
			return errors.Wrapf(basic.ErrInvalidValue, "hash table %s stores %d byte values, serializer produces %d", name, m.valueSize(), t.layout.valueSize)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *HashTable[K, V]) Name() string {
	return t.name
}

// BucketCapacity 每个桶页能容纳的条目数
func (t *HashTable[K, V]) BucketCapacity() int {
	return t.layout.capacity
}

func (t *HashTable[K, V]) addRoot(op *manager.AtomicOperation) error {
	page, data, err := t.allocateBucket(op)
	if err != nil {
		return err
	}
	t.layout.bucket(data).init(0)
	pointers := make([]int64, MaxLevelSize)
	pointers[0] = int64(page)
	index, err := t.directory.AddNewNode(op, 0, 0, 0, pointers)
	if err != nil {
		return err
	}
	if index != rootNode {
		return errors.Wrapf(basic.ErrTreeCorrupted, "root of %s allocated at node %d", t.name, index)
	}
	return nil
}

// hashBits 从第before位开始(高位在前)取depth位
func hashBits(hash uint64, before int, depth byte) int {
	if depth == 0 || before >= hashBitsTotal {
		return 0
	}
	return int((hash << uint(before)) >> uint(hashBitsTotal-int(depth)))
}

func childPointer(node int) int64 {
	return -int64(node + 1)
}

func childIndex(ptr int64) int {
	return int(-ptr - 1)
}

func (t *HashTable[K, V]) hashKey(key K) ([]byte, uint64, error) {
	buf := make([]byte, t.layout.keySize)
	if err := t.keySerializer.Serialize(key, buf); err != nil {
		return nil, 0, errors.Wrapf(err, "serialize key for %s", t.name)
	}
	return buf, util.HashCode(buf), nil
}

func (t *HashTable[K, V]) serializeValue(value V) ([]byte, error) {
	buf := make([]byte, t.layout.valueSize)
	if err := t.valueSerializer.Serialize(value, buf); err != nil {
		return nil, errors.Wrapf(err, "serialize value for %s", t.name)
	}
	return buf, nil
}

// locate 沿目录树找到hash所在的桶
func (t *HashTable[K, V]) locate(op *manager.AtomicOperation, hash uint64) (bucketLocation, error) {
	var path []pathStep
	node, before := rootNode, 0
	for {
		depth, slot, ptr, err := t.directory.slotPointer(op, node, func(depth byte) int {
			return hashBits(hash, before, depth)
		})
		if err != nil {
			return bucketLocation{}, err
		}
		step := pathStep{node: node, slot: slot, depth: depth, before: before}
		switch {
		case ptr < 0:
			path = append(path, step)
			node = childIndex(ptr)
			before += int(depth)
			if before >= hashBitsTotal {
				return bucketLocation{}, errors.Wrapf(basic.ErrTreeCorrupted, "directory of %s deeper than the hash", t.name)
			}
		case ptr == 0:
			return bucketLocation{}, errors.Wrapf(basic.ErrTreeCorrupted, "empty slot %d in node %d of %s", slot, node, t.name)
		default:
			return bucketLocation{pathStep: step, page: uint32(ptr), path: path}, nil
		}
	}
}

// Get 点查。op为nil时读取已提交的数据。
func (t *HashTable[K, V]) Get(op *manager.AtomicOperation, key K) (V, bool, error) {
	var (
		value V
		found bool
	)
	keyBytes, hash, err := t.hashKey(key)
	if err != nil {
		return value, false, err
	}
	// 目录和桶必须来自同一次提交
	err = t.buckets.View(op, func() error {
		loc, err := t.locate(op, hash)
		if err != nil {
			return err
		}
		return t.buckets.Read(op, loc.page, func(data []byte) error {
			b := t.layout.bucket(data)
			if i, ok := b.find(hash, keyBytes); ok {
				value = t.valueSerializer.Deserialize(b.valueAt(i))
				found = true
			}
			return nil
		})
	})
	return value, found, err
}

// Put 插入或覆盖
func (t *HashTable[K, V]) Put(op *manager.AtomicOperation, key K, value V) error {
	keyBytes, hash, err := t.hashKey(key)
	if err != nil {
		return err
	}
	valueBytes, err := t.serializeValue(value)
	if err != nil {
		return err
	}
	for {
		loc, err := t.locate(op, hash)
		if err != nil {
			return err
		}
		data, err := t.buckets.Write(op, loc.page)
		if err != nil {
			return err
		}
		b := t.layout.bucket(data)
		i, found := b.find(hash, keyBytes)
		if found {
			b.setValue(i, valueBytes)
			return nil
		}
		if !b.isFull() {
			b.insertAt(i, hash, keyBytes, valueBytes)
			return t.addSize(op, 1)
		}
		if err := t.split(op, loc, b); err != nil {
			return err
		}
	}
}

// Remove 删除键，返回原值
func (t *HashTable[K, V]) Remove(op *manager.AtomicOperation, key K) (V, bool, error) {
	var value V
	keyBytes, hash, err := t.hashKey(key)
	if err != nil {
		return value, false, err
	}
	loc, err := t.locate(op, hash)
	if err != nil {
		return value, false, err
	}
	found := false
	err = t.buckets.Read(op, loc.page, func(data []byte) error {
		_, found = t.layout.bucket(data).find(hash, keyBytes)
		return nil
	})
	if err != nil || !found {
		return value, false, err
	}

	data, err := t.buckets.Write(op, loc.page)
	if err != nil {
		return value, false, err
	}
	b := t.layout.bucket(data)
	i, _ := b.find(hash, keyBytes)
	value = t.valueSerializer.Deserialize(b.valueAt(i))
	b.removeAt(i)
	if err := t.addSize(op, -1); err != nil {
		return value, false, err
	}
	if err := t.merge(op, loc, b); err != nil {
		return value, false, err
	}
	return value, true, nil
}

// split 桶溢出时分裂。调用方在分裂后重新定位并重试插入。
func (t *HashTable[K, V]) split(op *manager.AtomicOperation, loc bucketLocation, b bucketPage) error {
	bucketDepth := b.depth()
	if bucketDepth < loc.depth {
		return t.splitInNode(op, loc, b)
	}
	if loc.before+int(loc.depth)+1 > hashBitsTotal {
		return errors.Wrapf(basic.ErrHashSpaceFull, "bucket %d of %s", loc.page, t.name)
	}
	node, err := t.directory.GetNode(op, loc.node)
	if err != nil {
		return err
	}
	if loc.depth < MaxLevelDepth && node.MaxLeftChildDepth == 0 && node.MaxRightChildDepth == 0 {
		return t.doubleNode(op, loc.node, node)
	}
	return t.addChildNode(op, loc, b)
}

// splitInNode 桶占用多个槽，按下一个哈希位拆成两半
func (t *HashTable[K, V]) splitInNode(op *manager.AtomicOperation, loc bucketLocation, b bucketPage) error {
	bucketDepth := b.depth()
	width := 1 << (loc.depth - bucketDepth)
	start := loc.slot &^ (width - 1)
	bit := loc.before + int(bucketDepth)

	page, data, err := t.allocateBucket(op)
	if err != nil {
		return err
	}
	nb := t.layout.bucket(data)
	nb.init(bucketDepth + 1)
	stay, move := partitionEntries(b.entries(), bit)
	b.setEntries(stay)
	b.setDepth(bucketDepth + 1)
	nb.setEntries(move)
	return t.directory.SetNodePointers(op, loc.node, start+width/2, start+width, int64(page))
}

// doubleNode 节点深度加一，每个槽复制成相邻的两个
func (t *HashTable[K, V]) doubleNode(op *manager.AtomicOperation, index int, node DirectoryNode) error {
	depth := node.NodeLocalDepth
	for i := (1 << (depth + 1)) - 1; i >= 0; i-- {
		node.Pointers[i] = node.Pointers[i>>1]
	}
	node.NodeLocalDepth = depth + 1
	logger.Debugf("hash table %s: node %d doubled to depth %d", t.name, index, depth+1)
	return t.directory.SetNode(op, index, node)
}

// addChildNode 桶已经只占一个槽，新建深度1的子节点接管该槽
func (t *HashTable[K, V]) addChildNode(op *manager.AtomicOperation, loc bucketLocation, b bucketPage) error {
	bit := loc.before + int(loc.depth)
	page, data, err := t.allocateBucket(op)
	if err != nil {
		return err
	}
	nb := t.layout.bucket(data)
	nb.init(1)
	stay, move := partitionEntries(b.entries(), bit)
	b.setEntries(stay)
	b.setDepth(1)
	nb.setEntries(move)

	pointers := make([]int64, MaxLevelSize)
	pointers[0] = int64(loc.page)
	pointers[1] = int64(page)
	child, err := t.directory.AddNewNode(op, 0, 0, 1, pointers)
	if err != nil {
		return err
	}
	if err := t.directory.SetNodePointer(op, loc.node, loc.slot, childPointer(child)); err != nil {
		return err
	}
	logger.Debugf("hash table %s: node %d slot %d split into child node %d", t.name, loc.node, loc.slot, child)
	return t.updateChildDepths(op, append(loc.path, loc.pathStep))
}

// partitionEntries 按第bit位分成两组，保持hash顺序
func partitionEntries(entries [][]byte, bit int) (stay, move [][]byte) {
	for _, e := range entries {
		if hashBits(entryHash(e), bit, 1) == 1 {
			move = append(move, e)
		} else {
			stay = append(stay, e)
		}
	}
	return stay, move
}

// merge 删除后尝试与伙伴桶合并，节点可合并时减半，深度为0的非根节点并回父节点
func (t *HashTable[K, V]) merge(op *manager.AtomicOperation, loc bucketLocation, b bucketPage) error {
	if t.opts.mergeThreshold == 0 {
		return nil
	}
	limit := t.opts.mergeThreshold * float64(t.layout.capacity)
	for {
		merged := false
		for {
			depth := b.depth()
			if depth == 0 || float64(b.size()) >= limit {
				break
			}
			width := 1 << (loc.depth - depth)
			start := loc.slot &^ (width - 1)
			buddyStart := start ^ width
			buddyPtr, err := t.directory.GetNodePointer(op, loc.node, buddyStart)
			if err != nil {
				return err
			}
			if buddyPtr <= 0 {
				break
			}
			buddy := uint32(buddyPtr)
			var buddyDepth byte
			var buddySize int
			err = t.buckets.Read(op, buddy, func(data []byte) error {
				bb := t.layout.bucket(data)
				buddyDepth, buddySize = bb.depth(), bb.size()
				return nil
			})
			if err != nil {
				return err
			}
			if buddyDepth != depth || b.size()+buddySize > t.layout.capacity {
				break
			}

			keep, drop := loc.page, buddy
			if drop < keep {
				keep, drop = drop, keep
			}
			keepData, err := t.buckets.Write(op, keep)
			if err != nil {
				return err
			}
			dropData, err := t.buckets.Write(op, drop)
			if err != nil {
				return err
			}
			kb, db := t.layout.bucket(keepData), t.layout.bucket(dropData)
			kb.setEntries(mergeEntries(kb.entries(), db.entries()))
			kb.setDepth(depth - 1)
			if err := t.freeBucket(op, drop); err != nil {
				return err
			}
			lo := start
			if buddyStart < lo {
				lo = buddyStart
			}
			if err := t.directory.SetNodePointers(op, loc.node, lo, lo+2*width, int64(keep)); err != nil {
				return err
			}
			loc.page = keep
			b = kb
			merged = true
		}
		if !merged {
			return nil
		}

		if err := t.shrinkNode(op, &loc); err != nil {
			return err
		}
		if loc.depth > 0 || len(loc.path) == 0 {
			return nil
		}

		// 子节点只剩一个桶，桶直接挂回父节点的槽
		parent := loc.path[len(loc.path)-1]
		b.setDepth(parent.depth)
		if err := t.directory.SetNodePointer(op, parent.node, parent.slot, int64(loc.page)); err != nil {
			return err
		}
		if err := t.directory.DeleteNode(op, loc.node); err != nil {
			return err
		}
		logger.Debugf("hash table %s: node %d collapsed into node %d", t.name, loc.node, parent.node)
		loc = bucketLocation{pathStep: parent, page: loc.page, path: loc.path[:len(loc.path)-1]}
		if err := t.updateChildDepths(op, append(loc.path, loc.pathStep)); err != nil {
			return err
		}
	}
}

// shrinkNode 没有子节点且所有相邻槽两两相同时，节点深度减一
func (t *HashTable[K, V]) shrinkNode(op *manager.AtomicOperation, loc *bucketLocation) error {
	node, err := t.directory.GetNode(op, loc.node)
	if err != nil {
		return err
	}
	if node.MaxLeftChildDepth != 0 || node.MaxRightChildDepth != 0 {
		return nil
	}
	depth := node.NodeLocalDepth
	shrunk := false
	for depth > 0 {
		half := 1 << (depth - 1)
		equal := true
		for i := 0; i < half; i++ {
			if node.Pointers[2*i] != node.Pointers[2*i+1] {
				equal = false
				break
			}
		}
		if !equal {
			break
		}
		for i := 0; i < half; i++ {
			node.Pointers[i] = node.Pointers[2*i]
		}
		for i := half; i < 2*half; i++ {
			node.Pointers[i] = 0
		}
		depth--
		loc.slot >>= 1
		shrunk = true
	}
	if !shrunk {
		return nil
	}
	node.NodeLocalDepth = depth
	loc.depth = depth
	logger.Debugf("hash table %s: node %d shrunk to depth %d", t.name, loc.node, depth)
	return t.directory.SetNode(op, loc.node, node)
}

// updateChildDepths 自下而上重新计算steps上各节点的子树高度
func (t *HashTable[K, V]) updateChildDepths(op *manager.AtomicOperation, steps []pathStep) error {
	for i := len(steps) - 1; i >= 0; i-- {
		if err := t.recomputeChildDepths(op, steps[i].node); err != nil {
			return err
		}
	}
	return nil
}

func (t *HashTable[K, V]) recomputeChildDepths(op *manager.AtomicOperation, index int) error {
	node, err := t.directory.GetNode(op, index)
	if err != nil {
		return err
	}
	depth := node.NodeLocalDepth
	var left, right byte
	for slot := 0; slot < 1<<depth; slot++ {
		ptr := node.Pointers[slot]
		if ptr >= 0 {
			continue
		}
		child, err := t.directory.GetNode(op, childIndex(ptr))
		if err != nil {
			return err
		}
		height := child.MaxLeftChildDepth
		if child.MaxRightChildDepth > height {
			height = child.MaxRightChildDepth
		}
		height++
		// 深度为0的节点只有一个槽，算作左半边
		if depth == 0 || slot < 1<<(depth-1) {
			if height > left {
				left = height
			}
		} else if height > right {
			right = height
		}
	}
	if left == node.MaxLeftChildDepth && right == node.MaxRightChildDepth {
		return nil
	}
	if err := t.directory.SetMaxLeftChildDepth(op, index, left); err != nil {
		return err
	}
	return t.directory.SetMaxRightChildDepth(op, index, right)
}

// allocateBucket 优先复用空闲链表上的页
func (t *HashTable[K, V]) allocateBucket(op *manager.AtomicOperation) (uint32, []byte, error) {
	meta, err := t.buckets.Write(op, metaPageIndex)
	if err != nil {
		return 0, nil, err
	}
	m := metaPage(meta)
	if head := m.freeHead(); head != 0 {
		data, err := t.buckets.Write(op, head)
		if err != nil {
			return 0, nil, err
		}
		if common.GetPageType(data) != common.FIL_PAGE_TYPE_FREE {
			return 0, nil, errors.Wrapf(basic.ErrTreeCorrupted, "free list of %s points to %s page %d", t.name, common.GetPageType(data), head)
		}
		m.setFreeHead(t.layout.bucket(data).nextFree())
		clearBytes(data[common.FileHeaderSize:])
		return head, data, nil
	}
	return t.buckets.AddPage(op)
}

func (t *HashTable[K, V]) freeBucket(op *manager.AtomicOperation, page uint32) error {
	meta, err := t.buckets.Write(op, metaPageIndex)
	if err != nil {
		return err
	}
	data, err := t.buckets.Write(op, page)
	if err != nil {
		return err
	}
	m := metaPage(meta)
	clearBytes(data[common.FileHeaderSize:])
	common.SetPageType(data, common.FIL_PAGE_TYPE_FREE)
	t.layout.bucket(data).setNextFree(m.freeHead())
	m.setFreeHead(page)
	return nil
}

func (t *HashTable[K, V]) addSize(op *manager.AtomicOperation, delta int64) error {
	meta, err := t.buckets.Write(op, metaPageIndex)
	if err != nil {
		return err
	}
	m := metaPage(meta)
	m.setSize(m.size() + delta)
	return nil
}

// Size 条目数，包括null键
func (t *HashTable[K, V]) Size(op *manager.AtomicOperation) (int64, error) {
	var size int64
	err := t.buckets.Read(op, metaPageIndex, func(data []byte) error {
		size = metaPage(data).size()
		return nil
	})
	return size, err
}

// PutNull 设置null键的值
func (t *HashTable[K, V]) PutNull(op *manager.AtomicOperation, value V) error {
	valueBytes, err := t.serializeValue(value)
	if err != nil {
		return err
	}
	meta, err := t.buckets.Write(op, metaPageIndex)
	if err != nil {
		return err
	}
	m := metaPage(meta)
	if !m.hasNull() {
		m.setNull(true)
		m.setSize(m.size() + 1)
	}
	copy(m.nullValue(t.layout.valueSize), valueBytes)
	return nil
}

func (t *HashTable[K, V]) GetNull(op *manager.AtomicOperation) (V, bool, error) {
	var (
		value V
		found bool
	)
	err := t.buckets.Read(op, metaPageIndex, func(data []byte) error {
		m := metaPage(data)
		if m.hasNull() {
			value = t.valueSerializer.Deserialize(m.nullValue(t.layout.valueSize))
			found = true
		}
		return nil
	})
	return value, found, err
}

func (t *HashTable[K, V]) RemoveNull(op *manager.AtomicOperation) (V, bool, error) {
	value, found, err := t.GetNull(op)
	if err != nil || !found {
		return value, false, err
	}
	meta, err := t.buckets.Write(op, metaPageIndex)
	if err != nil {
		return value, false, err
	}
	m := metaPage(meta)
	m.setNull(false)
	clearBytes(m.nullValue(t.layout.valueSize))
	m.setSize(m.size() - 1)
	return value, true, nil
}

// ForEach 按桶页顺序遍历所有非null条目，fn返回false时停止
func (t *HashTable[K, V]) ForEach(op *manager.AtomicOperation, fn func(key K, value V) bool) error {
	filled, err := t.buckets.FilledUpTo(op)
	if err != nil {
		return err
	}
	for page := uint32(metaPageIndex + 1); page < filled; page++ {
		stop := false
		err := t.buckets.Read(op, page, func(data []byte) error {
			if common.GetPageType(data) != common.FIL_PAGE_HASH_BUCKET {
				return nil
			}
			b := t.layout.bucket(data)
			for i := 0; i < b.size(); i++ {
				if !fn(t.keySerializer.Deserialize(b.keyAt(i)), t.valueSerializer.Deserialize(b.valueAt(i))) {
					stop = true
					return nil
				}
			}
			return nil
		})
		if err != nil || stop {
			return err
		}
	}
	return nil
}

// Clear 清空所有条目。目录重置为单个根节点，桶页全部挂到空闲链表后重新分配根桶。
func (t *HashTable[K, V]) Clear(op *manager.AtomicOperation) error {
	if err := t.directory.Clear(op); err != nil {
		return err
	}
	filled, err := t.buckets.FilledUpTo(op)
	if err != nil {
		return err
	}
	meta, err := t.buckets.Write(op, metaPageIndex)
	if err != nil {
		return err
	}
	m := metaPage(meta)
	m.setFreeHead(0)
	// 倒序入链，第1页在链表头，随后被新的根桶取走
	for page := filled - 1; page > metaPageIndex; page-- {
		data, err := t.buckets.Write(op, page)
		if err != nil {
			return err
		}
		clearBytes(data[common.FileHeaderSize:])
		common.SetPageType(data, common.FIL_PAGE_TYPE_FREE)
		t.layout.bucket(data).setNextFree(m.freeHead())
		m.setFreeHead(page)
	}
	m.setSize(0)
	m.setNull(false)
	clearBytes(m.nullValue(t.layout.valueSize))
	return t.addRoot(op)
}

// Delete 删除目录文件和桶文件
func (t *HashTable[K, V]) Delete(op *manager.AtomicOperation) error {
	if err := t.directory.Delete(op); err != nil {
		return err
	}
	return t.buckets.Delete(op)
}
