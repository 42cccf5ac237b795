package hashindex

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-index/logger"
	"github.com/zhukovaskychina/xmysql-index/server/common"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/index/component"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/manager"
)

// DirectoryExtension 目录文件扩展名
const DirectoryExtension = ".hd"

// Directory 可扩展哈希的目录，按下标寻址的定长节点数组。
// 删除的节点槽挂到空闲链上，新增节点优先复用最近释放的槽，其余节点下标不变。
type Directory struct {
	file   *component.FileComponent
	layout directoryLayout
}

func NewDirectory(store basic.PageStore, name string) *Directory {
	return &Directory{
		file:   component.NewFileComponent(store, name+DirectoryExtension),
		layout: newDirectoryLayout(store.PageSize()),
	}
}

// Create 分配目录的第一页
func (d *Directory) Create(op *manager.AtomicOperation) error {
	if d.layout.firstPageNodes == 0 || d.layout.pageNodes == 0 {
		return errors.Wrapf(basic.ErrInvalidPageSize, "page size %d cannot hold a directory node of %d bytes", d.file.PageSize(), directoryNodeSize)
	}
	if err := d.file.Create(op); err != nil {
		return err
	}
	_, page, err := d.file.AddPage(op)
	if err != nil {
		return err
	}
	d.initFirstPage(page)
	return nil
}

func (d *Directory) initFirstPage(page []byte) {
	common.SetPageType(page, common.FIL_PAGE_HASH_DIRECTORY)
	setTombstone(page, noTombstone)
	setHighWater(page, 0)
}

// Open 打开已有目录，文件页数必须容纳高水位以下的全部节点
func (d *Directory) Open(op *manager.AtomicOperation) error {
	if err := d.file.Open(op); err != nil {
		return err
	}
	var highWater uint32
	if err := d.file.Read(op, 0, func(first []byte) error {
		if pt := common.GetPageType(first); pt != common.FIL_PAGE_HASH_DIRECTORY {
			return errors.Wrapf(basic.ErrTreeCorrupted, "first page of %s is %s", d.file.Name(), pt)
		}
		highWater = getHighWater(first)
		return nil
	}); err != nil {
		return err
	}
	filled, err := d.file.FilledUpTo(op)
	if err != nil {
		return err
	}
	if need := d.layout.pagesFor(highWater); filled < need {
		return errors.Wrapf(basic.ErrTreeCorrupted, "%s has %d pages, %d nodes need %d", d.file.Name(), filled, highWater, need)
	}
	return nil
}

// AddNewNode 新增节点并返回下标
func (d *Directory) AddNewNode(op *manager.AtomicOperation, maxLeftChildDepth, maxRightChildDepth, nodeLocalDepth byte, pointers []int64) (int, error) {
	if len(pointers) != MaxLevelSize {
		return 0, errors.Wrapf(basic.ErrInvalidValue, "directory node needs %d pointers, got %d", MaxLevelSize, len(pointers))
	}
	if nodeLocalDepth > MaxLevelDepth {
		return 0, errors.Wrapf(basic.ErrInvalidValue, "node depth %d exceeds %d", nodeLocalDepth, MaxLevelDepth)
	}
	first, err := d.file.Write(op, 0)
	if err != nil {
		return 0, err
	}

	var index uint32
	if tomb := getTombstone(first); tomb != noTombstone {
		index = uint32(tomb)
		node, err := d.writableNode(op, first, index)
		if err != nil {
			return 0, err
		}
		if !isNodeDeleted(node) {
			return 0, errors.Wrapf(basic.ErrTreeCorrupted, "tombstone %d of %s points to a live node", index, d.file.Name())
		}
		setTombstone(first, nextTombstone(node))
	} else {
		index = getHighWater(first)
		pageIndex, _ := d.layout.locate(index)
		filled, err := d.file.FilledUpTo(op)
		if err != nil {
			return 0, err
		}
		for filled <= pageIndex {
			newIndex, page, err := d.file.AddPage(op)
			if err != nil {
				return 0, err
			}
			common.SetPageType(page, common.FIL_PAGE_HASH_DIRECTORY)
			filled = newIndex + 1
		}
		setHighWater(first, index+1)
	}

	node, err := d.writableNode(op, first, index)
	if err != nil {
		return 0, err
	}
	n := DirectoryNode{
		MaxLeftChildDepth:  maxLeftChildDepth,
		MaxRightChildDepth: maxRightChildDepth,
		NodeLocalDepth:     nodeLocalDepth,
	}
	copy(n.Pointers[:], pointers)
	writeNode(node, &n)
	return int(index), nil
}

// DeleteNode 释放节点槽，不移动其他节点
func (d *Directory) DeleteNode(op *manager.AtomicOperation, index int) error {
	first, err := d.file.Write(op, 0)
	if err != nil {
		return err
	}
	if err := d.checkIndex(first, index); err != nil {
		return err
	}
	node, err := d.writableNode(op, first, uint32(index))
	if err != nil {
		return err
	}
	if isNodeDeleted(node) {
		return errors.Wrapf(basic.ErrNodeDeleted, "node %d of %s", index, d.file.Name())
	}
	markNodeDeleted(node, getTombstone(first))
	setTombstone(first, int32(index))
	logger.Debugf("directory %s released node %d", d.file.Name(), index)
	return nil
}

// writableNode 返回节点槽的可写切片，first是已经取得的第一页可写副本
func (d *Directory) writableNode(op *manager.AtomicOperation, first []byte, index uint32) ([]byte, error) {
	pageIndex, offset := d.layout.locate(index)
	page := first
	if pageIndex != 0 {
		var err error
		page, err = d.file.Write(op, pageIndex)
		if err != nil {
			return nil, err
		}
	}
	return page[offset : offset+directoryNodeSize], nil
}

func (d *Directory) checkIndex(first []byte, index int) error {
	if index < 0 || uint32(index) >= getHighWater(first) {
		return errors.Wrapf(basic.ErrNodeOutOfRange, "node %d of %s, high water %d", index, d.file.Name(), getHighWater(first))
	}
	return nil
}

// readNode 在pin住节点所在页期间调用fn
func (d *Directory) readNode(op *manager.AtomicOperation, index int, fn func(node []byte)) error {
	if index < 0 {
		return errors.Wrapf(basic.ErrNodeOutOfRange, "node %d of %s", index, d.file.Name())
	}
	var highWater uint32
	pageIndex, offset := d.layout.locate(uint32(index))
	if pageIndex == 0 {
		return d.file.Read(op, 0, func(first []byte) error {
			if err := d.checkIndex(first, index); err != nil {
				return err
			}
			node := first[offset : offset+directoryNodeSize]
			if isNodeDeleted(node) {
				return errors.Wrapf(basic.ErrNodeDeleted, "node %d of %s", index, d.file.Name())
			}
			fn(node)
			return nil
		})
	}
	if err := d.file.Read(op, 0, func(first []byte) error {
		highWater = getHighWater(first)
		return nil
	}); err != nil {
		return err
	}
	if uint32(index) >= highWater {
		return errors.Wrapf(basic.ErrNodeOutOfRange, "node %d of %s, high water %d", index, d.file.Name(), highWater)
	}
	return d.file.Read(op, pageIndex, func(data []byte) error {
		node := data[offset : offset+directoryNodeSize]
		if isNodeDeleted(node) {
			return errors.Wrapf(basic.ErrNodeDeleted, "node %d of %s", index, d.file.Name())
		}
		fn(node)
		return nil
	})
}

// updateNode 取得节点的可写切片后调用fn
func (d *Directory) updateNode(op *manager.AtomicOperation, index int, fn func(node []byte)) error {
	pageIndex, offset := d.layout.locate(uint32(index))
	first, err := d.file.Write(op, 0)
	if err != nil {
		return err
	}
	if err := d.checkIndex(first, index); err != nil {
		return err
	}
	page := first
	if pageIndex != 0 {
		if page, err = d.file.Write(op, pageIndex); err != nil {
			return err
		}
	}
	node := page[offset : offset+directoryNodeSize]
	if isNodeDeleted(node) {
		return errors.Wrapf(basic.ErrNodeDeleted, "node %d of %s", index, d.file.Name())
	}
	fn(node)
	return nil
}

// GetNode 读取整个节点
func (d *Directory) GetNode(op *manager.AtomicOperation, index int) (DirectoryNode, error) {
	var n DirectoryNode
	err := d.readNode(op, index, func(node []byte) {
		n = readNode(node)
	})
	return n, err
}

// SetNode 覆盖整个节点
func (d *Directory) SetNode(op *manager.AtomicOperation, index int, n DirectoryNode) error {
	return d.updateNode(op, index, func(node []byte) {
		writeNode(node, &n)
	})
}

// checkSlots [from, to)必须落在节点的指针数组内
func checkSlots(from, to int) error {
	if from < 0 || to > MaxLevelSize || from > to {
		return errors.Wrapf(basic.ErrNodeOutOfRange, "slots [%d, %d) of a %d slot node", from, to, MaxLevelSize)
	}
	return nil
}

func (d *Directory) GetNodePointer(op *manager.AtomicOperation, index, slot int) (int64, error) {
	if err := checkSlots(slot, slot+1); err != nil {
		return 0, err
	}
	var ptr int64
	err := d.readNode(op, index, func(node []byte) {
		ptr = nodePointer(node, slot)
	})
	return ptr, err
}

func (d *Directory) SetNodePointer(op *manager.AtomicOperation, index, slot int, ptr int64) error {
	if err := checkSlots(slot, slot+1); err != nil {
		return err
	}
	return d.updateNode(op, index, func(node []byte) {
		setNodePointer(node, slot, ptr)
	})
}

// SetNodePointers 把[from, to)范围的指针设为ptr
func (d *Directory) SetNodePointers(op *manager.AtomicOperation, index, from, to int, ptr int64) error {
	if err := checkSlots(from, to); err != nil {
		return err
	}
	return d.updateNode(op, index, func(node []byte) {
		for slot := from; slot < to; slot++ {
			setNodePointer(node, slot, ptr)
		}
	})
}

func (d *Directory) GetMaxLeftChildDepth(op *manager.AtomicOperation, index int) (byte, error) {
	var v byte
	err := d.readNode(op, index, func(node []byte) { v = node[nodeMaxLeftOffset] })
	return v, err
}

func (d *Directory) SetMaxLeftChildDepth(op *manager.AtomicOperation, index int, depth byte) error {
	return d.updateNode(op, index, func(node []byte) { node[nodeMaxLeftOffset] = depth })
}

func (d *Directory) GetMaxRightChildDepth(op *manager.AtomicOperation, index int) (byte, error) {
	var v byte
	err := d.readNode(op, index, func(node []byte) { v = node[nodeMaxRightOffset] })
	return v, err
}

func (d *Directory) SetMaxRightChildDepth(op *manager.AtomicOperation, index int, depth byte) error {
	return d.updateNode(op, index, func(node []byte) { node[nodeMaxRightOffset] = depth })
}

func (d *Directory) GetNodeLocalDepth(op *manager.AtomicOperation, index int) (byte, error) {
	var v byte
	err := d.readNode(op, index, func(node []byte) { v = node[nodeLocalDepthOff] })
	return v, err
}

func (d *Directory) SetNodeLocalDepth(op *manager.AtomicOperation, index int, depth byte) error {
	if depth > MaxLevelDepth {
		return errors.Wrapf(basic.ErrInvalidValue, "node depth %d exceeds %d", depth, MaxLevelDepth)
	}
	return d.updateNode(op, index, func(node []byte) { node[nodeLocalDepthOff] = depth })
}

// slotPointer 一次读取节点深度和一个槽的指针
func (d *Directory) slotPointer(op *manager.AtomicOperation, index int, hashBits func(depth byte) int) (depth byte, slot int, ptr int64, err error) {
	err = d.readNode(op, index, func(node []byte) {
		depth = node[nodeLocalDepthOff]
		if depth > MaxLevelDepth {
			slot = -1
			return
		}
		slot = hashBits(depth)
		ptr = nodePointer(node, slot)
	})
	if err == nil && slot < 0 {
		err = errors.Wrapf(basic.ErrTreeCorrupted, "node %d of %s has depth %d", index, d.file.Name(), depth)
	}
	return
}

// Clear 逻辑上清空所有节点
func (d *Directory) Clear(op *manager.AtomicOperation) error {
	first, err := d.file.Write(op, 0)
	if err != nil {
		return err
	}
	d.initFirstPage(first)
	return nil
}

// Delete 释放目录文件
func (d *Directory) Delete(op *manager.AtomicOperation) error {
	return d.file.Delete(op)
}

// Pages 目录占用的页数
func (d *Directory) Pages(op *manager.AtomicOperation) (uint32, error) {
	return d.file.FilledUpTo(op)
}

// NodesPerPage 第一页和后续页的节点容量
func (d *Directory) NodesPerPage() (first, rest int) {
	return int(d.layout.firstPageNodes), int(d.layout.pageNodes)
}
