package mvbtree

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-index/server/common"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/index/component"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/manager"
)

// leafIterator 在叶子链表上移动的位置，任何时刻最多pin住一个叶子页
type leafIterator struct {
	file    *component.FileComponent
	layout  *nodeLayout
	op      *manager.AtomicOperation
	page    uint32
	data    []byte
	release func()
	idx     int
}

func (it *leafIterator) load(page uint32) error {
	it.close()
	cp, release, err := it.file.Pin(it.op, page)
	if err != nil {
		return err
	}
	data := cp.Data()
	if common.GetPageType(data) != common.FIL_PAGE_BTREE_NODE || !it.layout.node(data).isLeaf() {
		release()
		return errors.Wrapf(basic.ErrTreeCorrupted, "leaf chain of %s reaches %s page %d", it.file.Name(), common.GetPageType(data), page)
	}
	it.page, it.data, it.release = page, data, release
	return nil
}

func (it *leafIterator) node() nodePage {
	return it.layout.node(it.data)
}

// forward 把越过叶子末尾的位置移到右兄弟上
func (it *leafIterator) forward() (bool, error) {
	for it.data != nil && it.idx >= it.node().count() {
		next := it.node().right()
		if next == 0 {
			it.close()
			return false, nil
		}
		if err := it.load(next); err != nil {
			return false, err
		}
		it.idx = 0
	}
	return it.data != nil, nil
}

// backward 把越过叶子开头的位置移到左兄弟的最后一个条目
func (it *leafIterator) backward() (bool, error) {
	for it.data != nil && it.idx < 0 {
		prev := it.node().left()
		if prev == 0 {
			it.close()
			return false, nil
		}
		if err := it.load(prev); err != nil {
			return false, err
		}
		it.idx = it.node().count() - 1
	}
	return it.data != nil, nil
}

func (it *leafIterator) close() {
	if it.release != nil {
		it.release()
		it.release = nil
	}
	it.data = nil
}

// seek 定位到第一个before为false的条目。before在条目顺序上必须单调：
// 一旦为false，之后的条目都为false。返回的位置可能越过叶子末尾。
func (t *MultiValueBTree[K, V]) seek(op *manager.AtomicOperation, before func(composite []byte) bool) (*leafIterator, error) {
	firstAfter := func(n nodePage) int {
		return sort.Search(n.count(), func(i int) bool {
			return !before(n.composite(i))
		})
	}
	it := &leafIterator{file: t.tree, layout: t.layout, op: op}
	// 从根下降到叶子的过程不能跨越一次提交
	err := t.tree.View(op, func() error {
		leaf, _, err := t.descend(op, firstAfter)
		if err != nil {
			return err
		}
		return it.load(leaf)
	})
	if err != nil {
		return nil, err
	}
	it.idx = firstAfter(it.node())
	return it, nil
}

// EntryCursor 按键顺序返回(key, value)
//
//	c, err := tree.IterateEntriesMajor(op, 10, true, true)
//	defer c.Close()
//	for c.Next() {
//		use(c.Key(), c.Value())
//	}
//	err = c.Err()
type EntryCursor[K any, V any] struct {
	tree      *MultiValueBTree[K, V]
	it        *leafIterator
	ascending bool
	// inRange 检查远端边界
	inRange func(entryKey []byte) bool
	started bool
	done    bool
	key     K
	value   V
	err     error
}

// Next 前进到下一个条目
func (c *EntryCursor[K, V]) Next() bool {
	if c.done {
		return false
	}
	if c.started {
		if c.ascending {
			c.it.idx++
		} else {
			c.it.idx--
		}
	}
	c.started = true

	var (
		ok  bool
		err error
	)
	if c.ascending {
		ok, err = c.it.forward()
	} else {
		ok, err = c.it.backward()
	}
	if err != nil {
		c.err = err
		c.Close()
		return false
	}
	if !ok {
		c.Close()
		return false
	}
	n := c.it.node()
	if c.inRange != nil && !c.inRange(n.keyAt(c.it.idx)) {
		c.Close()
		return false
	}
	c.key = c.tree.keySerializer.Deserialize(n.keyAt(c.it.idx))
	c.value = c.tree.valueSerializer.Deserialize(n.valueAt(c.it.idx))
	return true
}

func (c *EntryCursor[K, V]) Key() K {
	return c.key
}

func (c *EntryCursor[K, V]) Value() V {
	return c.value
}

func (c *EntryCursor[K, V]) Err() error {
	return c.err
}

// Close 释放pin住的叶子，可重复调用
func (c *EntryCursor[K, V]) Close() {
	c.done = true
	c.it.close()
}

type bound[K any] struct {
	key       K
	inclusive bool
	set       bool
}

func (t *MultiValueBTree[K, V]) iterate(op *manager.AtomicOperation, lower, upper bound[K], ascending bool) (*EntryCursor[K, V], error) {
	var (
		before  func(composite []byte) bool
		inRange func(entryKey []byte) bool
	)
	ks := t.layout.keySize
	if ascending {
		before = func(composite []byte) bool {
			if !lower.set {
				return false
			}
			c := t.compareKey(composite[:ks], lower.key)
			return c < 0 || (c == 0 && !lower.inclusive)
		}
		if upper.set {
			inRange = func(entryKey []byte) bool {
				c := t.compareKey(entryKey, upper.key)
				return c < 0 || (c == 0 && upper.inclusive)
			}
		}
	} else {
		before = func(composite []byte) bool {
			if !upper.set {
				return true
			}
			c := t.compareKey(composite[:ks], upper.key)
			return c < 0 || (c == 0 && upper.inclusive)
		}
		if lower.set {
			inRange = func(entryKey []byte) bool {
				c := t.compareKey(entryKey, lower.key)
				return c > 0 || (c == 0 && lower.inclusive)
			}
		}
	}

	it, err := t.seek(op, before)
	if err != nil {
		return nil, err
	}
	if !ascending {
		// 倒序从第一个越过上界的条目的前一个开始
		it.idx--
	}
	return &EntryCursor[K, V]{tree: t, it: it, ascending: ascending, inRange: inRange}, nil
}

// IterateEntriesMajor 键大于(或等于)from的条目
func (t *MultiValueBTree[K, V]) IterateEntriesMajor(op *manager.AtomicOperation, from K, inclusive, ascending bool) (*EntryCursor[K, V], error) {
	return t.iterate(op, bound[K]{key: from, inclusive: inclusive, set: true}, bound[K]{}, ascending)
}

// IterateEntriesMinor 键小于(或等于)to的条目
func (t *MultiValueBTree[K, V]) IterateEntriesMinor(op *manager.AtomicOperation, to K, inclusive, ascending bool) (*EntryCursor[K, V], error) {
	return t.iterate(op, bound[K]{}, bound[K]{key: to, inclusive: inclusive, set: true}, ascending)
}

// IterateEntriesBetween 键在from和to之间的条目
func (t *MultiValueBTree[K, V]) IterateEntriesBetween(op *manager.AtomicOperation, from K, fromInclusive bool, to K, toInclusive bool, ascending bool) (*EntryCursor[K, V], error) {
	return t.iterate(op,
		bound[K]{key: from, inclusive: fromInclusive, set: true},
		bound[K]{key: to, inclusive: toInclusive, set: true},
		ascending)
}

// KeyCursor 升序返回不重复的键
type KeyCursor[K any, V any] struct {
	entries *EntryCursor[K, V]
	key     K
	started bool
}

// KeyStream 所有非null键
func (t *MultiValueBTree[K, V]) KeyStream(op *manager.AtomicOperation) (*KeyCursor[K, V], error) {
	entries, err := t.iterate(op, bound[K]{}, bound[K]{}, true)
	if err != nil {
		return nil, err
	}
	return &KeyCursor[K, V]{entries: entries}, nil
}

func (c *KeyCursor[K, V]) Next() bool {
	for c.entries.Next() {
		k := c.entries.Key()
		if c.started && c.entries.tree.comparator(k, c.key) == 0 {
			continue
		}
		c.key, c.started = k, true
		return true
	}
	return false
}

func (c *KeyCursor[K, V]) Key() K {
	return c.key
}

func (c *KeyCursor[K, V]) Err() error {
	return c.entries.Err()
}

func (c *KeyCursor[K, V]) Close() {
	c.entries.Close()
}

// ValueCursor 一个键的全部值
type ValueCursor[K any, V any] struct {
	entries *EntryCursor[K, V]
	nulls   *nullCursor
	tree    *MultiValueBTree[K, V]
	value   V
	err     error
}

// Get 返回key的所有值，相同值按插入顺序排列
func (t *MultiValueBTree[K, V]) Get(op *manager.AtomicOperation, key K) (*ValueCursor[K, V], error) {
	if _, err := t.serializeKey(key); err != nil {
		return nil, err
	}
	entries, err := t.IterateEntriesBetween(op, key, true, key, true, true)
	if err != nil {
		return nil, err
	}
	return &ValueCursor[K, V]{entries: entries, tree: t}, nil
}

// GetNull 返回null键的所有值，顺序不确定
func (t *MultiValueBTree[K, V]) GetNull(op *manager.AtomicOperation) (*ValueCursor[K, V], error) {
	nulls, err := t.nulls.cursor(op)
	if err != nil {
		return nil, err
	}
	return &ValueCursor[K, V]{nulls: nulls, tree: t}, nil
}

func (c *ValueCursor[K, V]) Next() bool {
	if c.entries != nil {
		if !c.entries.Next() {
			return false
		}
		c.value = c.entries.Value()
		return true
	}
	raw, ok, err := c.nulls.next()
	if err != nil {
		c.err = err
		c.nulls.close()
		return false
	}
	if !ok {
		return false
	}
	c.value = c.tree.valueSerializer.Deserialize(raw)
	return true
}

func (c *ValueCursor[K, V]) Value() V {
	return c.value
}

func (c *ValueCursor[K, V]) Err() error {
	if c.entries != nil {
		return c.entries.Err()
	}
	return c.err
}

func (c *ValueCursor[K, V]) Close() {
	if c.entries != nil {
		c.entries.Close()
		return
	}
	c.nulls.close()
}

// Collect 读完游标剩余的值并关闭它
func (c *ValueCursor[K, V]) Collect() ([]V, error) {
	defer c.Close()
	var out []V
	for c.Next() {
		out = append(out, c.Value())
	}
	return out, c.Err()
}

func (t *MultiValueBTree[K, V]) boundaryKey(op *manager.AtomicOperation, ascending bool) (K, bool, error) {
	var zero K
	c, err := t.iterate(op, bound[K]{}, bound[K]{}, ascending)
	if err != nil {
		return zero, false, err
	}
	defer c.Close()
	if !c.Next() {
		return zero, false, c.Err()
	}
	return c.Key(), true, nil
}

// FirstKey 最小的非null键
func (t *MultiValueBTree[K, V]) FirstKey(op *manager.AtomicOperation) (K, bool, error) {
	return t.boundaryKey(op, true)
}

// LastKey 最大的非null键
func (t *MultiValueBTree[K, V]) LastKey(op *manager.AtomicOperation) (K, bool, error) {
	return t.boundaryKey(op, false)
}
