package mvbtree

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-index/server/common"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/index/component"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/manager"
)

// NullBucketExtension null键值文件扩展名
const NullBucketExtension = ".nbt"

const (
	nullCountOffset    = common.FileHeaderSize
	nullPageHeaderSize = common.FileHeaderSize
)

// nullBucket null键的值集合。第0页保存条目数，值从第1页开始紧密排列，
// 第i个值位于第1+i/perPage页；删除时用最后一个值填洞，值之间没有顺序。
type nullBucket struct {
	file      *component.FileComponent
	valueSize int
	perPage   int
}

func newNullBucket(store basic.PageStore, name string, valueSize int) *nullBucket {
	return &nullBucket{
		file:      component.NewFileComponent(store, name+NullBucketExtension),
		valueSize: valueSize,
		perPage:   (store.PageSize() - nullPageHeaderSize) / valueSize,
	}
}

func (b *nullBucket) create(op *manager.AtomicOperation) error {
	if err := b.file.Create(op); err != nil {
		return err
	}
	_, data, err := b.file.AddPage(op)
	if err != nil {
		return err
	}
	common.SetPageType(data, common.FIL_PAGE_BTREE_NULL_BUCKET)
	return nil
}

func (b *nullBucket) open(op *manager.AtomicOperation) error {
	return b.file.Open(op)
}

func (b *nullBucket) delete(op *manager.AtomicOperation) error {
	return b.file.Delete(op)
}

func (b *nullBucket) locate(i int64) (uint32, int) {
	return uint32(1 + i/int64(b.perPage)), nullPageHeaderSize + int(i%int64(b.perPage))*b.valueSize
}

func (b *nullBucket) count(op *manager.AtomicOperation) (int64, error) {
	var n int64
	err := b.file.Read(op, 0, func(data []byte) error {
		n = int64(binary.BigEndian.Uint64(data[nullCountOffset:]))
		return nil
	})
	return n, err
}

func (b *nullBucket) setCount(op *manager.AtomicOperation, n int64) error {
	data, err := b.file.Write(op, 0)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(data[nullCountOffset:], uint64(n))
	return nil
}

func (b *nullBucket) add(op *manager.AtomicOperation, value []byte) error {
	n, err := b.count(op)
	if err != nil {
		return err
	}
	page, off := b.locate(n)
	filled, err := b.file.FilledUpTo(op)
	if err != nil {
		return err
	}
	for filled <= page {
		newPage, data, err := b.file.AddPage(op)
		if err != nil {
			return err
		}
		common.SetPageType(data, common.FIL_PAGE_BTREE_NULL_BUCKET)
		filled = newPage + 1
	}
	data, err := b.file.Write(op, page)
	if err != nil {
		return err
	}
	copy(data[off:off+b.valueSize], value)
	return b.setCount(op, n+1)
}

// remove 删除一个与value相同的值
func (b *nullBucket) remove(op *manager.AtomicOperation, value []byte) (bool, error) {
	n, err := b.count(op)
	if err != nil {
		return false, err
	}
	var i int64
	hole := int64(-1)
	for i < n && hole < 0 {
		page, _ := b.locate(i)
		err := b.file.Read(op, page, func(data []byte) error {
			for ; i < n; i++ {
				p, off := b.locate(i)
				if p != page {
					return nil
				}
				if bytes.Equal(data[off:off+b.valueSize], value) {
					hole = i
					return nil
				}
			}
			return nil
		})
		if err != nil {
			return false, err
		}
	}
	if hole < 0 {
		return false, nil
	}

	lastPage, lastOff := b.locate(n - 1)
	last, err := b.file.Write(op, lastPage)
	if err != nil {
		return false, err
	}
	if hole != n-1 {
		holePage, holeOff := b.locate(hole)
		data, err := b.file.Write(op, holePage)
		if err != nil {
			return false, err
		}
		copy(data[holeOff:holeOff+b.valueSize], last[lastOff:lastOff+b.valueSize])
	}
	zero(last[lastOff : lastOff+b.valueSize])
	return true, b.setCount(op, n-1)
}

// nullCursor 依次返回null键的值，一次pin一页
type nullCursor struct {
	bucket  *nullBucket
	op      *manager.AtomicOperation
	n       int64
	i       int64
	page    uint32
	data    []byte
	release func()
}

func (b *nullBucket) cursor(op *manager.AtomicOperation) (*nullCursor, error) {
	n, err := b.count(op)
	if err != nil {
		return nil, err
	}
	return &nullCursor{bucket: b, op: op, n: n}, nil
}

func (c *nullCursor) next() ([]byte, bool, error) {
	if c.i >= c.n {
		c.close()
		return nil, false, nil
	}
	page, off := c.bucket.locate(c.i)
	if c.data == nil || c.page != page {
		c.close()
		cp, release, err := c.bucket.file.Pin(c.op, page)
		if err != nil {
			return nil, false, err
		}
		if common.GetPageType(cp.Data()) != common.FIL_PAGE_BTREE_NULL_BUCKET {
			release()
			return nil, false, errors.Wrapf(basic.ErrInvalidPageType, "page %d of %s", page, c.bucket.file.Name())
		}
		c.page, c.data, c.release = page, cp.Data(), release
	}
	c.i++
	return c.data[off : off+c.bucket.valueSize], true, nil
}

func (c *nullCursor) close() {
	if c.release != nil {
		c.release()
		c.release = nil
	}
	c.data = nil
}
