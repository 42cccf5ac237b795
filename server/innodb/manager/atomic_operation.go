package manager

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
)

type operationState uint8

const (
	operationActive operationState = iota
	operationCommitted
	operationRolledBack
)

func (s operationState) String() string {
	switch s {
	case operationActive:
		return "active"
	case operationCommitted:
		return "committed"
	case operationRolledBack:
		return "rolled back"
	}
	return "unknown"
}

// AtomicOperation 原子操作。第一次写某个页时复制出工作副本，之后的读写都落在副本上，
// 提交时按文件、页号顺序装入存储，回滚时直接丢弃。
type AtomicOperation struct {
	sync.Mutex

	id    int64
	store basic.PageStore
	state operationState

	rollbackOnly bool

	// 工作副本
	pages map[uint64][]byte
	// 每个文件被修改的页
	dirty map[uint32]*roaring.Bitmap
	// 操作内看到的文件页数
	filled map[uint32]uint32

	createdFiles []uint32
	deletedFiles map[uint32]struct{}
}

func newAtomicOperation(id int64, store basic.PageStore) *AtomicOperation {
	return &AtomicOperation{
		id:           id,
		store:        store,
		pages:        make(map[uint64][]byte),
		dirty:        make(map[uint32]*roaring.Bitmap),
		filled:       make(map[uint32]uint32),
		deletedFiles: make(map[uint32]struct{}),
	}
}

func pageKey(fileID, pageIndex uint32) uint64 {
	return uint64(fileID)<<32 | uint64(pageIndex)
}

func (op *AtomicOperation) ID() int64 {
	return op.id
}

// PageSize 页面大小
func (op *AtomicOperation) PageSize() int {
	return op.store.PageSize()
}

// IsActive 是否仍可读写
func (op *AtomicOperation) IsActive() bool {
	op.Lock()
	defer op.Unlock()
	return op.state == operationActive
}

// IsRollbackOnly 是否已被标记为只能回滚
func (op *AtomicOperation) IsRollbackOnly() bool {
	op.Lock()
	defer op.Unlock()
	return op.rollbackOnly
}

// DirtyPages 已修改的页数
func (op *AtomicOperation) DirtyPages() int {
	op.Lock()
	defer op.Unlock()
	return len(op.pages)
}

func (op *AtomicOperation) checkActive() error {
	if op.state != operationActive {
		return errors.Wrapf(ErrOperationFinished, "operation %d is %s", op.id, op.state)
	}
	return nil
}

func (op *AtomicOperation) checkFile(fileID uint32) error {
	if _, ok := op.deletedFiles[fileID]; ok {
		return errors.Wrapf(basic.ErrFileNotFound, "file id %d deleted in operation %d", fileID, op.id)
	}
	return nil
}

// LoadPageForRead 读取页面，已修改过的页返回工作副本。返回的页必须通过ReleasePage释放。
func (op *AtomicOperation) LoadPageForRead(fileID, pageIndex uint32) (*basic.CachePage, error) {
	op.Lock()
	defer op.Unlock()

	if err := op.checkActive(); err != nil {
		return nil, err
	}
	if err := op.checkFile(fileID); err != nil {
		return nil, err
	}
	if data, ok := op.pages[pageKey(fileID, pageIndex)]; ok {
		return basic.NewCachePage(fileID, pageIndex, data, op), nil
	}
	return op.store.LoadPage(fileID, pageIndex)
}

// ReleasePage 释放LoadPageForRead得到的页
func (op *AtomicOperation) ReleasePage(page *basic.CachePage) {
	if page == nil {
		return
	}
	if holder, ok := page.Holder().(*AtomicOperation); ok && holder == op {
		return
	}
	op.store.ReleasePage(page)
}

// LoadPageForWrite 返回页面的可写工作副本，对它的修改在提交时生效
func (op *AtomicOperation) LoadPageForWrite(fileID, pageIndex uint32) ([]byte, error) {
	op.Lock()
	defer op.Unlock()

	if err := op.checkActive(); err != nil {
		return nil, err
	}
	if err := op.checkFile(fileID); err != nil {
		return nil, err
	}
	key := pageKey(fileID, pageIndex)
	if data, ok := op.pages[key]; ok {
		return data, nil
	}

	page, err := op.store.LoadPage(fileID, pageIndex)
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(page.Data()))
	copy(data, page.Data())
	op.store.ReleasePage(page)

	op.pages[key] = data
	op.markDirty(fileID, pageIndex)
	return data, nil
}

// AddPage 在文件末尾追加一个全零页，返回页号和可写副本
func (op *AtomicOperation) AddPage(fileID uint32) (uint32, []byte, error) {
	op.Lock()
	defer op.Unlock()

	if err := op.checkActive(); err != nil {
		return 0, nil, err
	}
	if err := op.checkFile(fileID); err != nil {
		return 0, nil, err
	}
	filled, err := op.filledUpTo(fileID)
	if err != nil {
		return 0, nil, err
	}
	data := make([]byte, op.store.PageSize())
	op.pages[pageKey(fileID, filled)] = data
	op.filled[fileID] = filled + 1
	op.markDirty(fileID, filled)
	return filled, data, nil
}

// FilledUpTo 操作内看到的文件页数，包括本操作追加的页
func (op *AtomicOperation) FilledUpTo(fileID uint32) (uint32, error) {
	op.Lock()
	defer op.Unlock()

	if err := op.checkActive(); err != nil {
		return 0, err
	}
	if err := op.checkFile(fileID); err != nil {
		return 0, err
	}
	return op.filledUpTo(fileID)
}

func (op *AtomicOperation) filledUpTo(fileID uint32) (uint32, error) {
	if n, ok := op.filled[fileID]; ok {
		return n, nil
	}
	return op.store.FilledUpTo(fileID)
}

func (op *AtomicOperation) markDirty(fileID, pageIndex uint32) {
	bm, ok := op.dirty[fileID]
	if !ok {
		bm = roaring.New()
		op.dirty[fileID] = bm
	}
	bm.Add(pageIndex)
}

// AddFile 创建文件。文件立即在存储中登记，回滚时删除。
func (op *AtomicOperation) AddFile(name string) (uint32, error) {
	op.Lock()
	defer op.Unlock()

	if err := op.checkActive(); err != nil {
		return 0, err
	}
	fileID, err := op.store.AddFile(name)
	if err != nil {
		return 0, err
	}
	op.createdFiles = append(op.createdFiles, fileID)
	op.filled[fileID] = 0
	return fileID, nil
}

// LoadFile 按名字查找文件
func (op *AtomicOperation) LoadFile(name string) (uint32, error) {
	op.Lock()
	defer op.Unlock()

	if err := op.checkActive(); err != nil {
		return 0, err
	}
	fileID, err := op.store.LoadFile(name)
	if err != nil {
		return 0, err
	}
	if err := op.checkFile(fileID); err != nil {
		return 0, err
	}
	return fileID, nil
}

// IsFileExists 文件是否存在且未在本操作中删除
func (op *AtomicOperation) IsFileExists(name string) bool {
	op.Lock()
	defer op.Unlock()

	fileID, err := op.store.LoadFile(name)
	if err != nil {
		return false
	}
	_, deleted := op.deletedFiles[fileID]
	return !deleted
}

// DeleteFile 删除文件，提交时生效
func (op *AtomicOperation) DeleteFile(fileID uint32) error {
	op.Lock()
	defer op.Unlock()

	if err := op.checkActive(); err != nil {
		return err
	}
	if err := op.checkFile(fileID); err != nil {
		return err
	}
	if _, err := op.store.FileName(fileID); err != nil {
		return err
	}
	op.deletedFiles[fileID] = struct{}{}
	return nil
}

// commitImages 按文件号、页号升序收集待装入的页，已删除文件的页跳过
func (op *AtomicOperation) commitImages() []RedoPageImage {
	fileIDs := make([]uint32, 0, len(op.dirty))
	for fileID := range op.dirty {
		if _, deleted := op.deletedFiles[fileID]; !deleted {
			fileIDs = append(fileIDs, fileID)
		}
	}
	sort.Slice(fileIDs, func(i, j int) bool { return fileIDs[i] < fileIDs[j] })

	images := make([]RedoPageImage, 0, len(op.pages))
	for _, fileID := range fileIDs {
		it := op.dirty[fileID].Iterator()
		for it.HasNext() {
			pageIndex := it.Next()
			images = append(images, RedoPageImage{
				FileID:    fileID,
				PageIndex: pageIndex,
				Data:      op.pages[pageKey(fileID, pageIndex)],
			})
		}
	}
	return images
}

func (op *AtomicOperation) deletedFileList() []uint32 {
	ids := make([]uint32, 0, len(op.deletedFiles))
	for fileID := range op.deletedFiles {
		ids = append(ids, fileID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (op *AtomicOperation) discardBuffers() {
	op.pages = nil
	op.dirty = nil
	op.filled = nil
	op.createdFiles = nil
	op.deletedFiles = nil
}

// discard 丢弃工作副本并删除本操作创建的文件
func (op *AtomicOperation) discard() error {
	created := op.createdFiles
	op.discardBuffers()
	op.createdFiles = created
	var firstErr error
	for i := len(op.createdFiles) - 1; i >= 0; i-- {
		fileID := op.createdFiles[i]
		if _, err := op.store.FileName(fileID); err != nil {
			continue
		}
		if err := op.store.DeleteFile(fileID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	op.createdFiles = nil
	op.deletedFiles = nil
	return firstErr
}
