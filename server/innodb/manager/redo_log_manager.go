package manager

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	gxbytes "github.com/dubbogo/gost/bytes"
	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-index/logger"
	"github.com/zhukovaskychina/xmysql-index/server/common"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-index/util"
)

// RedoLogManager 重做日志管理器。每个提交的原子操作追加一条记录，
// 记录落盘后页面才装入存储。检查点在存储刷盘之后截断日志。
type RedoLogManager struct {
	mu           sync.Mutex
	logFile      *os.File // 日志文件
	logDir       string   // 日志目录
	syncOnCommit bool
	nextLSN      uint64 // 下一个LSN
	size         int64  // 有效日志长度

	stats LogStats
}

// NewRedoLogManager 打开或创建日志文件，扫描已有记录以确定下一个LSN
func NewRedoLogManager(logDir string, syncOnCommit bool) (*RedoLogManager, error) {
	if err := util.EnsureDir(logDir); err != nil {
		return nil, jerrors.Annotatef(err, "create redo log dir %s", logDir)
	}
	logFile, err := os.OpenFile(filepath.Join(logDir, redoLogFileName), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, jerrors.Annotatef(err, "open redo log in %s", logDir)
	}
	r := &RedoLogManager{
		logFile:      logFile,
		logDir:       logDir,
		syncOnCommit: syncOnCommit,
		nextLSN:      1,
	}
	valid, err := r.scan(func(rec *RedoRecord) error {
		r.nextLSN = rec.LSN + 1
		return nil
	})
	if err != nil {
		logFile.Close()
		return nil, err
	}
	if err := logFile.Truncate(valid); err != nil {
		logFile.Close()
		return nil, jerrors.Annotate(err, "truncate torn redo tail")
	}
	r.size = valid
	return r, nil
}

// NextLSN 下一条记录将使用的LSN
func (r *RedoLogManager) NextLSN() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextLSN
}

// Append 为记录分配LSN，把LSN写入每个页镜像的页头，编码并追加到日志
func (r *RedoLogManager) Append(rec *RedoRecord) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.logFile == nil {
		return 0, ErrRedoLogClosed
	}
	rec.LSN = r.nextLSN
	for _, img := range rec.Pages {
		common.SetPageLSN(img.Data, common.LSNT(rec.LSN))
	}

	buf := gxbytes.GetBytesBuffer()
	defer gxbytes.PutBytesBuffer(buf)
	encodeRedoRecord(buf, rec)

	if _, err := r.logFile.WriteAt(buf.Bytes(), r.size); err != nil {
		return 0, jerrors.Annotatef(err, "append redo record lsn=%d", rec.LSN)
	}
	if r.syncOnCommit {
		start := time.Now()
		if err := r.logFile.Sync(); err != nil {
			return 0, jerrors.Annotatef(err, "sync redo record lsn=%d", rec.LSN)
		}
		r.stats.Syncs++
		r.stats.SyncLatency += time.Since(start)
	}
	r.size += int64(buf.Len())
	r.nextLSN++
	r.stats.Records++
	r.stats.Bytes += uint64(buf.Len())
	return rec.LSN, nil
}

// Recover 把日志中完整的记录按顺序重放到存储中，忽略末尾残缺的记录，
// 返回重放的记录数
func (r *RedoLogManager) Recover(store basic.PageStore) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.logFile == nil {
		return 0, ErrRedoLogClosed
	}
	replayed := 0
	valid, err := r.scan(func(rec *RedoRecord) error {
		if err := replayRecord(store, rec); err != nil {
			return jerrors.Annotatef(err, "replay redo record lsn=%d", rec.LSN)
		}
		replayed++
		return nil
	})
	if err != nil {
		return replayed, err
	}
	if valid < r.size {
		logger.Warnf("redo log shrank during recovery, %d valid bytes of %d", valid, r.size)
	}
	r.size = valid
	if replayed > 0 {
		logger.Infof("redo log recovery replayed %d records, next lsn %d", replayed, r.nextLSN)
	}
	return replayed, nil
}

func replayRecord(store basic.PageStore, rec *RedoRecord) error {
	images := make([]RedoPageImage, 0, len(rec.Pages))
	for _, img := range rec.Pages {
		if _, err := store.FileName(img.FileID); err != nil {
			// 文件在之后的操作中已被删除
			logger.Debugf("redo lsn=%d skips page %d of missing file %d", rec.LSN, img.PageIndex, img.FileID)
			continue
		}
		images = append(images, img)
	}
	deleted := make([]uint32, 0, len(rec.DeletedFiles))
	for _, fileID := range rec.DeletedFiles {
		if _, err := store.FileName(fileID); err == nil {
			deleted = append(deleted, fileID)
		}
	}
	return store.StorePages(images, deleted)
}

// Checkpoint 存储刷盘后调用，截断日志
func (r *RedoLogManager) Checkpoint() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.logFile == nil {
		return ErrRedoLogClosed
	}
	if err := r.logFile.Truncate(0); err != nil {
		return jerrors.Annotate(err, "truncate redo log")
	}
	if err := r.logFile.Sync(); err != nil {
		return jerrors.Trace(err)
	}
	r.size = 0
	r.stats.LastCheckpoint = time.Now()
	return nil
}

// Stats 返回统计信息
func (r *RedoLogManager) Stats() LogStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Size 当前有效日志长度
func (r *RedoLogManager) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Close 关闭日志管理器
func (r *RedoLogManager) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.logFile == nil {
		return nil
	}
	err := r.logFile.Sync()
	if cerr := r.logFile.Close(); err == nil {
		err = cerr
	}
	r.logFile = nil
	return jerrors.Trace(err)
}

// scan 从头读取日志，对每条完整且校验通过的记录调用fn，返回有效长度。
// 第一条残缺或校验失败的记录及其之后的内容被视为未提交。
func (r *RedoLogManager) scan(fn func(rec *RedoRecord) error) (int64, error) {
	stat, err := r.logFile.Stat()
	if err != nil {
		return 0, jerrors.Trace(err)
	}
	fileSize := stat.Size()

	var offset int64
	header := make([]byte, redoFrameHeaderSize)
	for {
		if _, err := r.logFile.ReadAt(header, offset); err != nil {
			if err != io.EOF {
				return offset, jerrors.Annotatef(err, "read redo log at %d", offset)
			}
			return offset, nil
		}
		bodyLen := binary.BigEndian.Uint32(header)
		sum := binary.BigEndian.Uint32(header[4:])
		if offset+redoFrameHeaderSize+int64(bodyLen) > fileSize {
			logger.Warnf("redo log has a torn record at offset %d, ignored", offset)
			return offset, nil
		}
		body := make([]byte, bodyLen)
		if _, err := r.logFile.ReadAt(body, offset+redoFrameHeaderSize); err != nil {
			if err != io.EOF {
				return offset, jerrors.Annotatef(err, "read redo log at %d", offset)
			}
			logger.Warnf("redo log has a torn record at offset %d, ignored", offset)
			return offset, nil
		}
		if util.Checksum32(body) != sum {
			logger.Warnf("redo log record at offset %d fails checksum, ignored", offset)
			return offset, nil
		}
		rec, err := decodeRedoRecord(body)
		if err != nil {
			logger.Warnf("redo log record at offset %d: %v", offset, err)
			return offset, nil
		}
		if err := fn(rec); err != nil {
			return offset, err
		}
		offset += redoFrameHeaderSize + int64(bodyLen)
	}
}

func encodeRedoRecord(w io.Writer, rec *RedoRecord) {
	bodyLen := redoBodyHeaderSize + 4*len(rec.DeletedFiles)
	for _, img := range rec.Pages {
		bodyLen += redoPageHeaderSize + len(img.Data)
	}
	body := make([]byte, bodyLen)
	binary.BigEndian.PutUint64(body[0:], rec.LSN)
	binary.BigEndian.PutUint64(body[8:], uint64(rec.OperationID))
	binary.BigEndian.PutUint32(body[16:], uint32(len(rec.Pages)))
	binary.BigEndian.PutUint32(body[20:], uint32(len(rec.DeletedFiles)))
	pos := redoBodyHeaderSize
	for _, img := range rec.Pages {
		binary.BigEndian.PutUint32(body[pos:], img.FileID)
		binary.BigEndian.PutUint32(body[pos+4:], img.PageIndex)
		binary.BigEndian.PutUint32(body[pos+8:], uint32(len(img.Data)))
		pos += redoPageHeaderSize
		pos += copy(body[pos:], img.Data)
	}
	for _, fileID := range rec.DeletedFiles {
		binary.BigEndian.PutUint32(body[pos:], fileID)
		pos += 4
	}

	header := make([]byte, redoFrameHeaderSize)
	binary.BigEndian.PutUint32(header, uint32(bodyLen))
	binary.BigEndian.PutUint32(header[4:], util.Checksum32(body))
	w.Write(header)
	w.Write(body)
}

func decodeRedoRecord(body []byte) (*RedoRecord, error) {
	if len(body) < redoBodyHeaderSize {
		return nil, ErrRedoCorrupted
	}
	rec := &RedoRecord{
		LSN:         binary.BigEndian.Uint64(body[0:]),
		OperationID: int64(binary.BigEndian.Uint64(body[8:])),
	}
	pageCount := int(binary.BigEndian.Uint32(body[16:]))
	deletedCount := int(binary.BigEndian.Uint32(body[20:]))
	pos := redoBodyHeaderSize
	rec.Pages = make([]RedoPageImage, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		if pos+redoPageHeaderSize > len(body) {
			return nil, ErrRedoCorrupted
		}
		img := RedoPageImage{
			FileID:    binary.BigEndian.Uint32(body[pos:]),
			PageIndex: binary.BigEndian.Uint32(body[pos+4:]),
		}
		n := int(binary.BigEndian.Uint32(body[pos+8:]))
		pos += redoPageHeaderSize
		if pos+n > len(body) {
			return nil, ErrRedoCorrupted
		}
		img.Data = make([]byte, n)
		copy(img.Data, body[pos:pos+n])
		pos += n
		rec.Pages = append(rec.Pages, img)
	}
	if pos+4*deletedCount != len(body) {
		return nil, ErrRedoCorrupted
	}
	for i := 0; i < deletedCount; i++ {
		rec.DeletedFiles = append(rec.DeletedFiles, binary.BigEndian.Uint32(body[pos:]))
		pos += 4
	}
	return rec, nil
}
