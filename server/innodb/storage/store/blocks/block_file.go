package blocks

import (
	"os"
	"path"
	"sync"

	gxbytes "github.com/dubbogo/gost/bytes"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-index/server/common"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-index/util"
)

// BlockFile 按固定大小页面读写的数据文件，写入时在页头填入校验和，读取时校验
type BlockFile struct {
	mu        sync.RWMutex
	file      *os.File
	filePath  string
	pageSize  int
	pageCount uint32
}

// NewBlockFile creates a new block file
func NewBlockFile(dirPath string, fileName string, pageSize int) *BlockFile {
	return &BlockFile{
		filePath: path.Join(dirPath, fileName),
		pageSize: pageSize,
	}
}

// Open opens the block file, creating it when missing
func (bf *BlockFile) Open() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.file != nil {
		return nil
	}
	file, err := os.OpenFile(bf.filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrapf(err, "open block file %s", bf.filePath)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return errors.Wrapf(err, "stat block file %s", bf.filePath)
	}
	// 末尾不完整的页丢弃
	bf.pageCount = uint32(stat.Size() / int64(bf.pageSize))
	bf.file = file
	return nil
}

// Close closes the block file
func (bf *BlockFile) Close() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.file != nil {
		err := bf.file.Close()
		bf.file = nil
		return err
	}
	return nil
}

// Remove 关闭并删除文件
func (bf *BlockFile) Remove() error {
	if err := bf.Close(); err != nil {
		return err
	}
	if err := os.Remove(bf.filePath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove block file %s", bf.filePath)
	}
	return nil
}

func (bf *BlockFile) Path() string {
	return bf.filePath
}

// PageCount 文件中完整页面的数量
func (bf *BlockFile) PageCount() uint32 {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.pageCount
}

// ReadPage reads a page from the file and verifies its checksum
func (bf *BlockFile) ReadPage(pageNo uint32) ([]byte, error) {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	if bf.file == nil {
		return nil, errors.Wrapf(basic.ErrStoreClosed, "block file %s", bf.filePath)
	}
	if pageNo >= bf.pageCount {
		return nil, errors.Wrapf(basic.ErrInvalidPageID, "page %d of %s, file has %d pages", pageNo, bf.filePath, bf.pageCount)
	}

	buf := make([]byte, bf.pageSize)
	if _, err := util.ReadFileAt(bf.file, buf, int64(pageNo)*int64(bf.pageSize)); err != nil {
		return nil, errors.Wrapf(err, "read page %d of %s", pageNo, bf.filePath)
	}
	if !verifyPage(buf) {
		return nil, errors.Wrapf(basic.ErrPageCorrupted, "checksum mismatch on page %d of %s", pageNo, bf.filePath)
	}
	return buf, nil
}

// WritePage writes a page to the file. content is not modified, the
// checksum is applied to a pooled copy.
func (bf *BlockFile) WritePage(pageNo uint32, content []byte) error {
	if len(content) != bf.pageSize {
		return errors.Wrapf(basic.ErrInvalidPageSize, "page of %d bytes, expected %d", len(content), bf.pageSize)
	}

	bufp := gxbytes.GetBytes(bf.pageSize)
	defer gxbytes.PutBytes(bufp)
	buf := (*bufp)[:bf.pageSize]
	copy(buf, content)
	common.SetPageChecksum(buf, util.PageChecksum(buf, common.ChecksumOffset))

	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.file == nil {
		return errors.Wrapf(basic.ErrStoreClosed, "block file %s", bf.filePath)
	}
	if _, err := bf.file.WriteAt(buf, int64(pageNo)*int64(bf.pageSize)); err != nil {
		return errors.Wrapf(err, "write page %d of %s", pageNo, bf.filePath)
	}
	if pageNo >= bf.pageCount {
		bf.pageCount = pageNo + 1
	}
	return nil
}

// Sync syncs the file to disk
func (bf *BlockFile) Sync() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.file != nil {
		return bf.file.Sync()
	}
	return nil
}

// verifyPage 全零页视为从未写过的页
func verifyPage(page []byte) bool {
	stored := common.GetPageChecksum(page)
	if stored == util.PageChecksum(page, common.ChecksumOffset) {
		return true
	}
	for _, b := range page {
		if b != 0 {
			return false
		}
	}
	return true
}
