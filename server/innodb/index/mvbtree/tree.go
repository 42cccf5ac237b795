package mvbtree

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-index/logger"
	"github.com/zhukovaskychina/xmysql-index/server/common"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/index/component"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/manager"
)

const (
	// TreeExtension 树文件扩展名
	TreeExtension = ".sbt"

	metaPageIndex = 0
	// 树高的上限，超过说明页链成环
	maxTreeHeight = 64
	minCapacity   = 4
)

// MultiValueBTree 一个键可对应多个值的有序B+树。
//
// 同一个键的多个值是叶子中相邻的普通条目，条目按(key, 序列化后的value, 插入序号)
// 排序，因此相同键的条目总是连续的一段。null键的值单独保存在.nbt文件中。
type MultiValueBTree[K any, V any] struct {
	name            string
	tree            *component.FileComponent
	nulls           *nullBucket
	keySerializer   basic.Serializer[K]
	comparator      basic.Comparator[K]
	valueSerializer basic.Serializer[V]
	layout          *nodeLayout
}

type pathStep struct {
	page  uint32
	child int
}

func newTree[K any, V any](store basic.PageStore, name string, keySerializer basic.Serializer[K], comparator basic.Comparator[K], keySize int, valueSerializer basic.Serializer[V]) (*MultiValueBTree[K, V], error) {
	if keySerializer.FixedSize() != keySize {
		return nil, errors.Wrapf(basic.ErrInvalidKeySize, "key serializer of %s produces %d bytes, key size is %d", name, keySerializer.FixedSize(), keySize)
	}
	valueSize := valueSerializer.FixedSize()
	layout := newNodeLayout(store.PageSize(), keySize, valueSize)
	if layout.internalCap < minCapacity || valueSize+nullPageHeaderSize > store.PageSize() {
		return nil, errors.Wrapf(basic.ErrEntryTooLarge, "tree entry of %d bytes on %d byte pages", layout.internalEntry, store.PageSize())
	}
	return &MultiValueBTree[K, V]{
		name:            name,
		tree:            component.NewFileComponent(store, name+TreeExtension),
		nulls:           newNullBucket(store, name, valueSize),
		keySerializer:   keySerializer,
		comparator:      comparator,
		valueSerializer: valueSerializer,
		layout:          &layout,
	}, nil
}

// Create 创建空树，根是一个空叶子
func Create[K any, V any](op *manager.AtomicOperation, store basic.PageStore, name string, keySerializer basic.Serializer[K], comparator basic.Comparator[K], keySize int, valueSerializer basic.Serializer[V]) (*MultiValueBTree[K, V], error) {
	t, err := newTree(store, name, keySerializer, comparator, keySize, valueSerializer)
	if err != nil {
		return nil, err
	}
	if err := t.tree.Create(op); err != nil {
		return nil, err
	}
	_, meta, err := t.tree.AddPage(op)
	if err != nil {
		return nil, err
	}
	metaPage(meta).init(keySize, t.layout.valueSize)
	root, data, err := t.allocate(op)
	if err != nil {
		return nil, err
	}
	t.layout.node(data).init(true)
	metaPage(meta).setRoot(root)
	if err := t.nulls.create(op); err != nil {
		return nil, err
	}
	logger.Debugf("tree %s created, leaf capacity %d, internal capacity %d", name, t.layout.leafCap, t.layout.internalCap)
	return t, nil
}

// Load 打开已有的树
func Load[K any, V any](op *manager.AtomicOperation, store basic.PageStore, name string, keySerializer basic.Serializer[K], comparator basic.Comparator[K], keySize int, valueSerializer basic.Serializer[V]) (*MultiValueBTree[K, V], error) {
	t, err := newTree(store, name, keySerializer, comparator, keySize, valueSerializer)
	if err != nil {
		return nil, err
	}
	if err := t.tree.Open(op); err != nil {
		return nil, err
	}
	if err := t.nulls.open(op); err != nil {
		return nil, err
	}
	err = t.tree.Read(op, metaPageIndex, func(data []byte) error {
		m := metaPage(data)
		if common.GetPageType(data) != common.FIL_PAGE_BTREE_META {
			return errors.Wrapf(basic.ErrInvalidPageType, "meta page of %s is %s", name, common.GetPageType(data))
		}
		if m.keySize() != keySize {
			return errors.Wrapf(basic.ErrInvalidKeySize, "tree %s stores %d byte keys, got %d", name, m.keySize(), keySize)
		}
		if m.valueSize() != t.layout.valueSize {
			return errors.Wrapf(basic.ErrInvalidValue, "tree %s stores %d byte values, serializer produces %d", name, m.valueSize(), t.layout.valueSize)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *MultiValueBTree[K, V]) Name() string {
	return t.name
}

func (t *MultiValueBTree[K, V]) serializeKey(key K) ([]byte, error) {
	buf := make([]byte, t.layout.keySize)
	if err := t.keySerializer.Serialize(key, buf); err != nil {
		return nil, errors.Wrapf(basic.ErrInvalidKeySize, "key of %s: %v", t.name, err)
	}
	return buf, nil
}

func (t *MultiValueBTree[K, V]) serializeValue(value V) ([]byte, error) {
	buf := make([]byte, t.layout.valueSize)
	if err := t.valueSerializer.Serialize(value, buf); err != nil {
		return nil, errors.Wrapf(err, "value of %s", t.name)
	}
	return buf, nil
}

func (t *MultiValueBTree[K, V]) compareKey(entryKey []byte, key K) int {
	return t.comparator(t.keySerializer.Deserialize(entryKey), key)
}

// compareComposite 先按比较器比较键，再按字节比较value和seq
func (t *MultiValueBTree[K, V]) compareComposite(a, b []byte) int {
	ks := t.layout.keySize
	if c := t.comparator(t.keySerializer.Deserialize(a[:ks]), t.keySerializer.Deserialize(b[:ks])); c != 0 {
		return c
	}
	return bytes.Compare(a[ks:t.layout.leafEntry], b[ks:t.layout.leafEntry])
}

func (t *MultiValueBTree[K, V]) checkWrite(op *manager.AtomicOperation) error {
	if op == nil {
		return errors.Wrapf(manager.ErrNoActiveOperation, "write to %s", t.name)
	}
	return nil
}

func (t *MultiValueBTree[K, V]) root(op *manager.AtomicOperation) (uint32, error) {
	var root uint32
	err := t.tree.Read(op, metaPageIndex, func(data []byte) error {
		root = metaPage(data).root()
		return nil
	})
	return root, err
}

// descend 从根下降到叶子，childFor在内部节点上选择子节点下标
func (t *MultiValueBTree[K, V]) descend(op *manager.AtomicOperation, childFor func(n nodePage) int) (uint32, []pathStep, error) {
	page, err := t.root(op)
	if err != nil {
		return 0, nil, err
	}
	var path []pathStep
	for {
		var (
			next uint32
			leaf bool
			idx  int
		)
		err := t.tree.Read(op, page, func(data []byte) error {
			if common.GetPageType(data) != common.FIL_PAGE_BTREE_NODE {
				return errors.Wrapf(basic.ErrTreeCorrupted, "page %d of %s is %s", page, t.name, common.GetPageType(data))
			}
			n := t.layout.node(data)
			if n.isLeaf() {
				leaf = true
				return nil
			}
			idx = childFor(n)
			next = n.child(idx)
			return nil
		})
		if err != nil {
			return 0, nil, err
		}
		if leaf {
			return page, path, nil
		}
		if next == 0 || len(path) >= maxTreeHeight {
			return 0, nil, errors.Wrapf(basic.ErrTreeCorrupted, "broken child link at page %d of %s", page, t.name)
		}
		path = append(path, pathStep{page: page, child: idx})
		page = next
	}
}

// childAtOrAfter 分隔符<=target的个数，即包含target的子节点
func (t *MultiValueBTree[K, V]) childAtOrAfter(target []byte) func(n nodePage) int {
	return func(n nodePage) int {
		return sort.Search(n.count(), func(i int) bool {
			return t.compareComposite(n.composite(i), target) > 0
		})
	}
}

func (t *MultiValueBTree[K, V]) newEntry(keyBytes, valueBytes []byte, seq uint64) []byte {
	e := make([]byte, t.layout.leafEntry)
	copy(e, keyBytes)
	copy(e[t.layout.keySize:], valueBytes)
	binary.BigEndian.PutUint64(e[t.layout.keySize+t.layout.valueSize:], seq)
	return e
}

// Put 追加一个(key, value)，不去重
func (t *MultiValueBTree[K, V]) Put(op *manager.AtomicOperation, key K, value V) error {
	if err := t.checkWrite(op); err != nil {
		return err
	}
	keyBytes, err := t.serializeKey(key)
	if err != nil {
		return err
	}
	valueBytes, err := t.serializeValue(value)
	if err != nil {
		return err
	}
	meta, err := t.tree.Write(op, metaPageIndex)
	if err != nil {
		return err
	}
	m := metaPage(meta)
	entry := t.newEntry(keyBytes, valueBytes, m.nextSeq())
	m.setSize(m.size() + 1)

	leaf, path, err := t.descend(op, t.childAtOrAfter(entry))
	if err != nil {
		return err
	}
	return t.insertIntoLeaf(op, leaf, path, entry)
}

func insertEntry(entries [][]byte, pos int, entry []byte) [][]byte {
	entries = append(entries, nil)
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = entry
	return entries
}

func (t *MultiValueBTree[K, V]) insertIntoLeaf(op *manager.AtomicOperation, page uint32, path []pathStep, entry []byte) error {
	data, err := t.tree.Write(op, page)
	if err != nil {
		return err
	}
	n := t.layout.node(data)
	pos := sort.Search(n.count(), func(i int) bool {
		return t.compareComposite(n.composite(i), entry) > 0
	})
	if !n.isFull() {
		n.insertAt(pos, entry)
		return nil
	}

	all := insertEntry(n.entries(0, n.count()), pos, entry)
	mid := len(all) / 2
	rightPage, rightData, err := t.allocate(op)
	if err != nil {
		return err
	}
	r := t.layout.node(rightData)
	r.init(true)
	n.setEntries(all[:mid])
	r.setEntries(all[mid:])

	r.setLeft(page)
	r.setRight(n.right())
	if next := n.right(); next != 0 {
		nextData, err := t.tree.Write(op, next)
		if err != nil {
			return err
		}
		t.layout.node(nextData).setLeft(rightPage)
	}
	n.setRight(rightPage)
	return t.insertSeparator(op, path, page, t.layout.internalEntryOf(all[mid], rightPage))
}

// insertSeparator 把分裂产生的分隔符插入父节点，父节点满时继续向上分裂
func (t *MultiValueBTree[K, V]) insertSeparator(op *manager.AtomicOperation, path []pathStep, left uint32, sep []byte) error {
	if len(path) == 0 {
		rootPage, data, err := t.allocate(op)
		if err != nil {
			return err
		}
		root := t.layout.node(data)
		root.init(false)
		root.setLeftmost(left)
		root.insertAt(0, sep)
		meta, err := t.tree.Write(op, metaPageIndex)
		if err != nil {
			return err
		}
		metaPage(meta).setRoot(rootPage)
		logger.Debugf("tree %s: new root %d", t.name, rootPage)
		return nil
	}

	parent := path[len(path)-1]
	data, err := t.tree.Write(op, parent.page)
	if err != nil {
		return err
	}
	n := t.layout.node(data)
	if !n.isFull() {
		n.insertAt(parent.child, sep)
		return nil
	}

	all := insertEntry(n.entries(0, n.count()), parent.child, sep)
	mid := len(all) / 2
	promoted := all[mid]
	rightPage, rightData, err := t.allocate(op)
	if err != nil {
		return err
	}
	r := t.layout.node(rightData)
	r.init(false)
	r.setLeftmost(t.layout.entryChild(promoted))
	r.setEntries(all[mid+1:])
	n.setEntries(all[:mid])
	return t.insertSeparator(op, path[:len(path)-1], parent.page, t.layout.internalEntryOf(promoted, rightPage))
}

// Remove 删除一个匹配的(key, value)，不存在时返回false
func (t *MultiValueBTree[K, V]) Remove(op *manager.AtomicOperation, key K, value V) (bool, error) {
	if err := t.checkWrite(op); err != nil {
		return false, err
	}
	keyBytes, err := t.serializeKey(key)
	if err != nil {
		return false, err
	}
	valueBytes, err := t.serializeValue(value)
	if err != nil {
		return false, err
	}

	// 相同(key, value)中序号最小的一份
	target := t.newEntry(keyBytes, valueBytes, 0)
	it, err := t.seek(op, func(composite []byte) bool {
		return t.compareComposite(composite, target) < 0
	})
	if err != nil {
		return false, err
	}
	ok, err := it.forward()
	if err != nil || !ok {
		it.close()
		return false, err
	}
	n := it.node()
	if t.compareKey(n.keyAt(it.idx), key) != 0 || !bytes.Equal(n.valueAt(it.idx), valueBytes) {
		it.close()
		return false, nil
	}
	exact := append([]byte(nil), n.composite(it.idx)...)
	it.close()

	leaf, path, err := t.descend(op, t.childAtOrAfter(exact))
	if err != nil {
		return false, err
	}
	data, err := t.tree.Write(op, leaf)
	if err != nil {
		return false, err
	}
	ln := t.layout.node(data)
	pos := sort.Search(ln.count(), func(i int) bool {
		return t.compareComposite(ln.composite(i), exact) >= 0
	})
	if pos >= ln.count() || !bytes.Equal(ln.composite(pos), exact) {
		return false, errors.Wrapf(basic.ErrTreeCorrupted, "entry found by scan is missing from leaf %d of %s", leaf, t.name)
	}
	ln.removeAt(pos)

	meta, err := t.tree.Write(op, metaPageIndex)
	if err != nil {
		return false, err
	}
	m := metaPage(meta)
	m.setSize(m.size() - 1)
	return true, t.rebalance(op, leaf, path)
}

// rebalance 节点低于1/4容量时与同一父节点下的兄弟合并或借一个条目
func (t *MultiValueBTree[K, V]) rebalance(op *manager.AtomicOperation, page uint32, path []pathStep) error {
	data, err := t.tree.Write(op, page)
	if err != nil {
		return err
	}
	n := t.layout.node(data)
	if len(path) == 0 {
		if !n.isLeaf() && n.count() == 0 {
			meta, err := t.tree.Write(op, metaPageIndex)
			if err != nil {
				return err
			}
			metaPage(meta).setRoot(n.leftmost())
			logger.Debugf("tree %s: root %d replaced by %d", t.name, page, n.leftmost())
			return t.free(op, page)
		}
		return nil
	}
	if n.count() >= n.capacity()/4 {
		return nil
	}

	step := path[len(path)-1]
	parentData, err := t.tree.Write(op, step.page)
	if err != nil {
		return err
	}
	p := t.layout.node(parentData)
	leftIdx := step.child - 1
	if step.child == 0 {
		if p.count() == 0 {
			return nil
		}
		leftIdx = 0
	}
	leftPage, rightPage := p.child(leftIdx), p.child(leftIdx+1)
	leftData, err := t.tree.Write(op, leftPage)
	if err != nil {
		return err
	}
	rightData, err := t.tree.Write(op, rightPage)
	if err != nil {
		return err
	}
	l, r := t.layout.node(leftData), t.layout.node(rightData)
	sepIdx := leftIdx
	nodeIsLeft := page == leftPage

	if l.isLeaf() {
		if l.count()+r.count() <= l.capacity() {
			l.setEntries(append(l.entries(0, l.count()), r.entries(0, r.count())...))
			l.setRight(r.right())
			if next := r.right(); next != 0 {
				nextData, err := t.tree.Write(op, next)
				if err != nil {
					return err
				}
				t.layout.node(nextData).setLeft(leftPage)
			}
			p.removeAt(sepIdx)
			if err := t.free(op, rightPage); err != nil {
				return err
			}
			return t.rebalance(op, step.page, path[:len(path)-1])
		}
		if nodeIsLeft {
			e := append([]byte(nil), r.entry(0)...)
			r.removeAt(0)
			l.insertAt(l.count(), e)
		} else {
			e := append([]byte(nil), l.entry(l.count()-1)...)
			l.removeAt(l.count() - 1)
			r.insertAt(0, e)
		}
		copy(p.composite(sepIdx), r.composite(0))
		return nil
	}

	sep := append([]byte(nil), p.composite(sepIdx)...)
	if l.count()+r.count()+1 <= l.capacity() {
		merged := append(l.entries(0, l.count()), t.layout.internalEntryOf(sep, r.leftmost()))
		merged = append(merged, r.entries(0, r.count())...)
		l.setEntries(merged)
		p.removeAt(sepIdx)
		if err := t.free(op, rightPage); err != nil {
			return err
		}
		return t.rebalance(op, step.page, path[:len(path)-1])
	}
	if nodeIsLeft {
		first := append([]byte(nil), r.entry(0)...)
		l.insertAt(l.count(), t.layout.internalEntryOf(sep, r.leftmost()))
		r.setLeftmost(t.layout.entryChild(first))
		r.removeAt(0)
		copy(p.composite(sepIdx), first[:t.layout.leafEntry])
	} else {
		last := append([]byte(nil), l.entry(l.count()-1)...)
		r.insertAt(0, t.layout.internalEntryOf(sep, r.leftmost()))
		r.setLeftmost(t.layout.entryChild(last))
		l.removeAt(l.count() - 1)
		copy(p.composite(sepIdx), last[:t.layout.leafEntry])
	}
	return nil
}

// allocate 优先复用空闲页
func (t *MultiValueBTree[K, V]) allocate(op *manager.AtomicOperation) (uint32, []byte, error) {
	meta, err := t.tree.Write(op, metaPageIndex)
	if err != nil {
		return 0, nil, err
	}
	m := metaPage(meta)
	if head := m.freeHead(); head != 0 {
		data, err := t.tree.Write(op, head)
		if err != nil {
			return 0, nil, err
		}
		if common.GetPageType(data) != common.FIL_PAGE_TYPE_FREE {
			return 0, nil, errors.Wrapf(basic.ErrTreeCorrupted, "free list of %s points to %s page %d", t.name, common.GetPageType(data), head)
		}
		m.setFreeHead(binary.BigEndian.Uint32(data[nodeNextFreeOffset:]))
		zero(data[common.FileHeaderSize:])
		return head, data, nil
	}
	return t.tree.AddPage(op)
}

func (t *MultiValueBTree[K, V]) free(op *manager.AtomicOperation, page uint32) error {
	meta, err := t.tree.Write(op, metaPageIndex)
	if err != nil {
		return err
	}
	data, err := t.tree.Write(op, page)
	if err != nil {
		return err
	}
	m := metaPage(meta)
	zero(data[common.FileHeaderSize:])
	common.SetPageType(data, common.FIL_PAGE_TYPE_FREE)
	binary.BigEndian.PutUint32(data[nodeNextFreeOffset:], m.freeHead())
	m.setFreeHead(page)
	return nil
}

// Size 值的总数，包括null键的值
func (t *MultiValueBTree[K, V]) Size(op *manager.AtomicOperation) (int64, error) {
	var size int64
	err := t.tree.Read(op, metaPageIndex, func(data []byte) error {
		size = metaPage(data).size()
		return nil
	})
	return size, err
}

// PutNull 为null键追加一个值
func (t *MultiValueBTree[K, V]) PutNull(op *manager.AtomicOperation, value V) error {
	if err := t.checkWrite(op); err != nil {
		return err
	}
	valueBytes, err := t.serializeValue(value)
	if err != nil {
		return err
	}
	if err := t.nulls.add(op, valueBytes); err != nil {
		return err
	}
	meta, err := t.tree.Write(op, metaPageIndex)
	if err != nil {
		return err
	}
	m := metaPage(meta)
	m.setSize(m.size() + 1)
	return nil
}

// RemoveNull 删除null键的一个值
func (t *MultiValueBTree[K, V]) RemoveNull(op *manager.AtomicOperation, value V) (bool, error) {
	if err := t.checkWrite(op); err != nil {
		return false, err
	}
	valueBytes, err := t.serializeValue(value)
	if err != nil {
		return false, err
	}
	removed, err := t.nulls.remove(op, valueBytes)
	if err != nil || !removed {
		return false, err
	}
	meta, err := t.tree.Write(op, metaPageIndex)
	if err != nil {
		return false, err
	}
	m := metaPage(meta)
	m.setSize(m.size() - 1)
	return true, nil
}

// Delete 删除树文件和null键文件
func (t *MultiValueBTree[K, V]) Delete(op *manager.AtomicOperation) error {
	if err := t.tree.Delete(op); err != nil {
		return err
	}
	return t.nulls.delete(op)
}
