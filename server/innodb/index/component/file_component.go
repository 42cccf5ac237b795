package component

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/manager"
)

// FileComponent 索引结构使用的一个存储文件。写操作必须在原子操作内进行；
// 读操作的op为nil时直接读取已提交的数据。
// 文件ID每次访问时按名字解析，句柄本身不记录文件是否存在，回滚后无需恢复。
type FileComponent struct {
	store basic.PageStore
	name  string
}

func NewFileComponent(store basic.PageStore, name string) *FileComponent {
	return &FileComponent{store: store, name: name}
}

func (c *FileComponent) Name() string {
	return c.name
}

func (c *FileComponent) PageSize() int {
	return c.store.PageSize()
}

func (c *FileComponent) Store() basic.PageStore {
	return c.store
}

// Create 创建文件
func (c *FileComponent) Create(op *manager.AtomicOperation) error {
	if op == nil {
		return errors.Wrapf(manager.ErrNoActiveOperation, "create %s", c.name)
	}
	_, err := op.AddFile(c.name)
	return err
}

// Open 确认文件存在
func (c *FileComponent) Open(op *manager.AtomicOperation) error {
	if op != nil {
		_, err := op.LoadFile(c.name)
		return err
	}
	_, err := c.store.LoadFile(c.name)
	return err
}

// Exists 文件是否存在
func (c *FileComponent) Exists(op *manager.AtomicOperation) bool {
	if op != nil {
		return op.IsFileExists(c.name)
	}
	return c.store.IsFileExists(c.name)
}

// Delete 删除文件，提交时生效
func (c *FileComponent) Delete(op *manager.AtomicOperation) error {
	fileID, err := c.writable(op)
	if err != nil {
		return err
	}
	return op.DeleteFile(fileID)
}

// View 在同一个已提交状态上执行多页读取，op不为nil时直接执行
func (c *FileComponent) View(op *manager.AtomicOperation, fn func() error) error {
	if op != nil {
		return fn()
	}
	return c.store.View(fn)
}

// resolve 按名字查找文件，op内已删除的文件视为不存在
func (c *FileComponent) resolve(op *manager.AtomicOperation) (uint32, error) {
	var (
		fileID uint32
		err    error
	)
	if op != nil {
		fileID, err = op.LoadFile(c.name)
	} else {
		fileID, err = c.store.LoadFile(c.name)
	}
	if errors.Is(err, basic.ErrFileNotFound) {
		return 0, errors.Wrapf(basic.ErrIndexNotCreated, "file %s", c.name)
	}
	return fileID, err
}

func (c *FileComponent) writable(op *manager.AtomicOperation) (uint32, error) {
	if op == nil {
		return 0, errors.Wrapf(manager.ErrNoActiveOperation, "write to %s", c.name)
	}
	return c.resolve(op)
}

// Pin 读取并pin住页面，返回释放函数
func (c *FileComponent) Pin(op *manager.AtomicOperation, pageIndex uint32) (*basic.CachePage, func(), error) {
	fileID, err := c.resolve(op)
	if err != nil {
		return nil, nil, err
	}
	if op != nil {
		page, err := op.LoadPageForRead(fileID, pageIndex)
		if err != nil {
			return nil, nil, err
		}
		return page, func() { op.ReleasePage(page) }, nil
	}
	page, err := c.store.LoadPage(fileID, pageIndex)
	if err != nil {
		return nil, nil, err
	}
	return page, func() { c.store.ReleasePage(page) }, nil
}

// Read 在pin住页面期间调用fn
func (c *FileComponent) Read(op *manager.AtomicOperation, pageIndex uint32, fn func(data []byte) error) error {
	page, release, err := c.Pin(op, pageIndex)
	if err != nil {
		return err
	}
	defer release()
	return fn(page.Data())
}

// Write 返回页面的可写副本
func (c *FileComponent) Write(op *manager.AtomicOperation, pageIndex uint32) ([]byte, error) {
	fileID, err := c.writable(op)
	if err != nil {
		return nil, err
	}
	return op.LoadPageForWrite(fileID, pageIndex)
}

// AddPage 在文件末尾追加页面
func (c *FileComponent) AddPage(op *manager.AtomicOperation) (uint32, []byte, error) {
	fileID, err := c.writable(op)
	if err != nil {
		return 0, nil, err
	}
	return op.AddPage(fileID)
}

// FilledUpTo 文件页数
func (c *FileComponent) FilledUpTo(op *manager.AtomicOperation) (uint32, error) {
	fileID, err := c.resolve(op)
	if err != nil {
		return 0, err
	}
	if op != nil {
		return op.FilledUpTo(fileID)
	}
	return c.store.FilledUpTo(fileID)
}
