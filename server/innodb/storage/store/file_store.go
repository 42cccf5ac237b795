package store

import (
	"fmt"
	"path"
	"sync"

	gxbytes "github.com/dubbogo/gost/bytes"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/zhukovaskychina/xmysql-index/logger"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/storage/store/blocks"
	"github.com/zhukovaskychina/xmysql-index/util"
)

const (
	registryFileName = "files.ini"

	sectionMeta  = "meta"
	sectionFiles = "files"

	keyNextFileID = "next_file_id"
	keyPageSize   = "page_size"
)

// FileStoreConfig 文件存储配置
type FileStoreConfig struct {
	Dir              string
	PageSize         int
	BufferPoolPages  int
	FlushParallelism int
}

type storeFile struct {
	name      string
	block     *blocks.BlockFile
	pageCount uint32
}

// FilePageStore 每个逻辑文件对应数据目录下的一个块文件，页面经缓冲池缓存。
// 文件名到文件ID的映射保存在files.ini中，文件ID不复用。
type FilePageStore struct {
	// 批量装入期间持写锁，View持读锁
	commit sync.RWMutex
	mu     sync.Mutex

	dir      string
	pageSize int

	registry   *ini.File
	nextFileID uint32
	files      map[uint32]*storeFile
	names      map[string]uint32

	pool   *buffer_pool.BufferPool
	closed bool
}

var _ basic.PageStore = (*FilePageStore)(nil)

// OpenFilePageStore 打开数据目录，不存在时创建
func OpenFilePageStore(cfg FileStoreConfig) (*FilePageStore, error) {
	if err := util.EnsureDir(cfg.Dir); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", cfg.Dir)
	}
	s := &FilePageStore{
		dir:        cfg.Dir,
		pageSize:   cfg.PageSize,
		nextFileID: 1,
		files:      make(map[uint32]*storeFile),
		names:      make(map[string]uint32),
	}

	pool, err := buffer_pool.NewBufferPool(&buffer_pool.BufferPoolConfig{
		Capacity:         cfg.BufferPoolPages,
		FlushParallelism: cfg.FlushParallelism,
		Reader:           s.readPage,
		Writer:           s.writePage,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create buffer pool")
	}
	s.pool = pool

	if err := s.loadRegistry(); err != nil {
		s.closeFiles()
		return nil, err
	}
	logger.Infof("file page store opened at %s, %d files, page size %d", s.dir, len(s.files), s.pageSize)
	return s, nil
}

func (s *FilePageStore) loadRegistry() error {
	registryPath := path.Join(s.dir, registryFileName)
	exists, err := util.PathExists(registryPath)
	if err != nil {
		return errors.WithStack(err)
	}
	if !exists {
		s.registry = ini.Empty()
		s.registry.Section(sectionMeta).Key(keyPageSize).SetValue(fmt.Sprint(s.pageSize))
		s.registry.Section(sectionMeta).Key(keyNextFileID).SetValue(fmt.Sprint(s.nextFileID))
		return s.saveRegistry()
	}

	s.registry, err = ini.Load(registryPath)
	if err != nil {
		return errors.Wrapf(err, "load file registry %s", registryPath)
	}
	meta := s.registry.Section(sectionMeta)
	if ps := meta.Key(keyPageSize).MustInt(s.pageSize); ps != s.pageSize {
		return errors.Wrapf(basic.ErrInvalidPageSize, "data dir %s uses page size %d, configured %d", s.dir, ps, s.pageSize)
	}
	s.nextFileID = uint32(meta.Key(keyNextFileID).MustUint(1))

	for _, key := range s.registry.Section(sectionFiles).Keys() {
		id, err := key.Uint()
		if err != nil {
			return errors.Wrapf(basic.ErrFileNotFound, "bad registry entry %s=%s", key.Name(), key.String())
		}
		if _, err := s.openFile(key.Name(), uint32(id)); err != nil {
			return err
		}
	}
	return nil
}

func (s *FilePageStore) saveRegistry() error {
	buf := gxbytes.GetBytesBuffer()
	defer gxbytes.PutBytesBuffer(buf)
	if _, err := s.registry.WriteTo(buf); err != nil {
		return errors.Wrap(err, "encode file registry")
	}
	if err := util.WriteFileAtomic(path.Join(s.dir, registryFileName), buf.Bytes()); err != nil {
		return errors.Wrap(err, "write file registry")
	}
	return nil
}

func blockFileName(name string, id uint32) string {
	return fmt.Sprintf("%05d-%s", id, name)
}

func (s *FilePageStore) openFile(name string, id uint32) (*storeFile, error) {
	block := blocks.NewBlockFile(s.dir, blockFileName(name, id), s.pageSize)
	if err := block.Open(); err != nil {
		return nil, err
	}
	f := &storeFile{name: name, block: block, pageCount: block.PageCount()}
	s.files[id] = f
	s.names[name] = id
	return f, nil
}

func (s *FilePageStore) PageSize() int {
	return s.pageSize
}

func (s *FilePageStore) AddFile(name string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, basic.ErrStoreClosed
	}
	if _, ok := s.names[name]; ok {
		return 0, errors.Wrapf(basic.ErrFileExists, "file %s", name)
	}
	id := s.nextFileID
	if _, err := s.openFile(name, id); err != nil {
		return 0, err
	}
	s.nextFileID++
	s.registry.Section(sectionMeta).Key(keyNextFileID).SetValue(fmt.Sprint(s.nextFileID))
	s.registry.Section(sectionFiles).Key(name).SetValue(fmt.Sprint(id))
	if err := s.saveRegistry(); err != nil {
		return 0, err
	}
	logger.Debugf("file %s added with id %d", name, id)
	return id, nil
}

func (s *FilePageStore) LoadFile(name string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.names[name]
	if !ok {
		return 0, errors.Wrapf(basic.ErrFileNotFound, "file %s", name)
	}
	return id, nil
}

func (s *FilePageStore) IsFileExists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.names[name]
	return ok
}

func (s *FilePageStore) FileName(fileID uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.file(fileID)
	if err != nil {
		return "", err
	}
	return f.name, nil
}

func (s *FilePageStore) DeleteFile(fileID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteFile(fileID)
}

func (s *FilePageStore) deleteFile(fileID uint32) error {
	f, err := s.file(fileID)
	if err != nil {
		return err
	}
	s.pool.DropFile(fileID)
	delete(s.files, fileID)
	delete(s.names, f.name)
	s.registry.Section(sectionFiles).DeleteKey(f.name)
	if err := s.saveRegistry(); err != nil {
		return err
	}
	logger.Debugf("file %s with id %d deleted", f.name, fileID)
	return f.block.Remove()
}

func (s *FilePageStore) FilledUpTo(fileID uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.file(fileID)
	if err != nil {
		return 0, err
	}
	return f.pageCount, nil
}

func (s *FilePageStore) LoadPage(fileID, pageIndex uint32) (*basic.CachePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.file(fileID)
	if err != nil {
		return nil, err
	}
	if pageIndex >= f.pageCount {
		return nil, errors.Wrapf(basic.ErrInvalidPageID, "page %d of %s, file has %d pages", pageIndex, f.name, f.pageCount)
	}
	page, content, err := s.pool.GetPage(fileID, pageIndex)
	if err != nil {
		return nil, err
	}
	return basic.NewCachePage(fileID, pageIndex, content, page), nil
}

func (s *FilePageStore) ReleasePage(page *basic.CachePage) {
	if err := s.pool.Unpin(page.Holder().(*buffer_pool.BufferPage)); err != nil {
		logger.Errorf("release page %d of file %d: %v", page.PageIndex(), page.FileID(), err)
	}
}

func (s *FilePageStore) StorePage(fileID, pageIndex uint32, data []byte) error {
	return s.StorePages([]basic.PageImage{{FileID: fileID, PageIndex: pageIndex, Data: data}}, nil)
}

// StorePages 整批校验后装入缓冲池，再删除文件
func (s *FilePageStore) StorePages(images []basic.PageImage, deletedFiles []uint32) error {
	s.commit.Lock()
	defer s.commit.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return basic.ErrStoreClosed
	}
	if err := s.checkBatch(images, deletedFiles); err != nil {
		return err
	}
	for _, img := range images {
		if err := s.pool.PutPage(img.FileID, img.PageIndex, img.Data); err != nil {
			return err
		}
		if f := s.files[img.FileID]; img.PageIndex == f.pageCount {
			f.pageCount++
		}
	}
	for _, fileID := range deletedFiles {
		if err := s.deleteFile(fileID); err != nil {
			return err
		}
	}
	return nil
}

func (s *FilePageStore) checkBatch(images []basic.PageImage, deletedFiles []uint32) error {
	filled := make(map[uint32]uint32)
	for _, img := range images {
		if len(img.Data) != s.pageSize {
			return errors.Wrapf(basic.ErrInvalidPageSize, "page of %d bytes, expected %d", len(img.Data), s.pageSize)
		}
		f, err := s.file(img.FileID)
		if err != nil {
			return err
		}
		n, ok := filled[img.FileID]
		if !ok {
			n = f.pageCount
		}
		if img.PageIndex > n {
			return errors.Wrapf(basic.ErrInvalidPageID, "store page %d of %s, file has %d pages", img.PageIndex, f.name, n)
		}
		if img.PageIndex == n {
			n++
		}
		filled[img.FileID] = n
	}
	for _, fileID := range deletedFiles {
		if _, err := s.file(fileID); err != nil {
			return err
		}
	}
	return nil
}

func (s *FilePageStore) View(fn func() error) error {
	s.commit.RLock()
	defer s.commit.RUnlock()
	return fn()
}

func (s *FilePageStore) PinnedPages() int {
	return s.pool.PinnedPages()
}

// Flush 写回全部脏页并同步文件
func (s *FilePageStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *FilePageStore) flush() error {
	if s.closed {
		return basic.ErrStoreClosed
	}
	if err := s.pool.FlushDirtyPages(); err != nil {
		return err
	}
	for _, f := range s.files {
		if err := f.block.Sync(); err != nil {
			return errors.Wrapf(err, "sync %s", f.name)
		}
	}
	return nil
}

func (s *FilePageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	err := s.flush()
	s.closeFiles()
	s.closed = true
	if pinned := s.pool.PinnedPages(); pinned != 0 {
		logger.Warnf("file page store closed with %d pinned pages", pinned)
	}
	return err
}

func (s *FilePageStore) closeFiles() {
	for _, f := range s.files {
		if err := f.block.Close(); err != nil {
			logger.Errorf("close %s: %v", f.block.Path(), err)
		}
	}
}

// BufferPoolStats 缓冲池统计
func (s *FilePageStore) BufferPoolStats() buffer_pool.BufferPoolStats {
	return s.pool.Stats()
}

func (s *FilePageStore) ResetBufferPoolStats() {
	s.pool.ResetStats()
}

// DirtyPageRatio 脏页占缓冲池容量的比例
func (s *FilePageStore) DirtyPageRatio() float64 {
	return s.pool.GetDirtyPageRatio()
}

func (s *FilePageStore) file(fileID uint32) (*storeFile, error) {
	f, ok := s.files[fileID]
	if !ok {
		return nil, errors.Wrapf(basic.ErrFileNotFound, "file id %d", fileID)
	}
	return f, nil
}

// readPage 缓冲池回调，调用时s.mu已被持有
func (s *FilePageStore) readPage(fileID, pageIndex uint32) ([]byte, error) {
	f, err := s.file(fileID)
	if err != nil {
		return nil, err
	}
	if pageIndex >= f.block.PageCount() {
		// 已追加但从未刷盘的页
		return make([]byte, s.pageSize), nil
	}
	return f.block.ReadPage(pageIndex)
}

// writePage 缓冲池回调，刷脏时不同文件并发调用
func (s *FilePageStore) writePage(fileID, pageIndex uint32, data []byte) error {
	f, err := s.file(fileID)
	if err != nil {
		return err
	}
	return f.block.WritePage(pageIndex, data)
}
