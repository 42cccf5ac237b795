package store

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
)

type memoryFile struct {
	name  string
	pages [][]byte
}

// MemoryPageStore 纯内存实现，用于测试和嵌入场景
type MemoryPageStore struct {
	// 批量装入期间持写锁，View持读锁
	commit sync.RWMutex
	mu     sync.Mutex

	pageSize   int
	nextFileID uint32
	files      map[uint32]*memoryFile
	names      map[string]uint32

	pinned int
	closed bool
}

var _ basic.PageStore = (*MemoryPageStore)(nil)

func NewMemoryPageStore(pageSize int) *MemoryPageStore {
	return &MemoryPageStore{
		pageSize:   pageSize,
		nextFileID: 1,
		files:      make(map[uint32]*memoryFile),
		names:      make(map[string]uint32),
	}
}

func (s *MemoryPageStore) PageSize() int {
	return s.pageSize
}

func (s *MemoryPageStore) AddFile(name string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, basic.ErrStoreClosed
	}
	if _, ok := s.names[name]; ok {
		return 0, errors.Wrapf(basic.ErrFileExists, "file %s", name)
	}
	id := s.nextFileID
	s.nextFileID++
	s.files[id] = &memoryFile{name: name}
	s.names[name] = id
	return id, nil
}

func (s *MemoryPageStore) LoadFile(name string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.names[name]
	if !ok {
		return 0, errors.Wrapf(basic.ErrFileNotFound, "file %s", name)
	}
	return id, nil
}

func (s *MemoryPageStore) IsFileExists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.names[name]
	return ok
}

func (s *MemoryPageStore) FileName(fileID uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.file(fileID)
	if err != nil {
		return "", err
	}
	return f.name, nil
}

func (s *MemoryPageStore) DeleteFile(fileID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteFile(fileID)
}

func (s *MemoryPageStore) deleteFile(fileID uint32) error {
	f, err := s.file(fileID)
	if err != nil {
		return err
	}
	delete(s.names, f.name)
	delete(s.files, fileID)
	return nil
}

func (s *MemoryPageStore) FilledUpTo(fileID uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.file(fileID)
	if err != nil {
		return 0, err
	}
	return uint32(len(f.pages)), nil
}

func (s *MemoryPageStore) LoadPage(fileID, pageIndex uint32) (*basic.CachePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.file(fileID)
	if err != nil {
		return nil, err
	}
	if pageIndex >= uint32(len(f.pages)) {
		return nil, errors.Wrapf(basic.ErrInvalidPageID, "page %d of %s, file has %d pages", pageIndex, f.name, len(f.pages))
	}
	s.pinned++
	return basic.NewCachePage(fileID, pageIndex, f.pages[pageIndex], nil), nil
}

func (s *MemoryPageStore) ReleasePage(page *basic.CachePage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned--
}

func (s *MemoryPageStore) StorePage(fileID, pageIndex uint32, data []byte) error {
	return s.StorePages([]basic.PageImage{{FileID: fileID, PageIndex: pageIndex, Data: data}}, nil)
}

func (s *MemoryPageStore) StorePages(images []basic.PageImage, deletedFiles []uint32) error {
	s.commit.Lock()
	defer s.commit.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkBatch(images, deletedFiles); err != nil {
		return err
	}
	for _, img := range images {
		f := s.files[img.FileID]
		if img.PageIndex < uint32(len(f.pages)) {
			f.pages[img.PageIndex] = img.Data
		} else {
			f.pages = append(f.pages, img.Data)
		}
	}
	for _, fileID := range deletedFiles {
		if err := s.deleteFile(fileID); err != nil {
			return err
		}
	}
	return nil
}

// checkBatch 校验整批页面，追加的页必须紧接在文件末尾
func (s *MemoryPageStore) checkBatch(images []basic.PageImage, deletedFiles []uint32) error {
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
			n = uint32(len(f.pages))
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

func (s *MemoryPageStore) View(fn func() error) error {
	s.commit.RLock()
	defer s.commit.RUnlock()
	return fn()
}

func (s *MemoryPageStore) PinnedPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned
}

func (s *MemoryPageStore) Flush() error {
	return nil
}

func (s *MemoryPageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryPageStore) file(fileID uint32) (*memoryFile, error) {
	f, ok := s.files[fileID]
	if !ok {
		return nil, errors.Wrapf(basic.ErrFileNotFound, "file id %d", fileID)
	}
	return f, nil
}
