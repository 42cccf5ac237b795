package engine

import (
	"time"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-index/logger"
	"github.com/zhukovaskychina/xmysql-index/server/conf"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/index/hashindex"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/storage/store"
)

// StorageEngine 组装页面存储、重做日志和原子操作管理器
type StorageEngine struct {
	conf *conf.Cfg

	store basic.PageStore
	redo  *manager.RedoLogManager
	atoms *manager.AtomicOperationsManager

	closed bool
}

// Open 打开数据目录，重放重做日志后返回可用的引擎
func Open(cfg *conf.Cfg) (*StorageEngine, error) {
	if cfg == nil {
		cfg = conf.NewCfg()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	e := &StorageEngine{conf: cfg}
	if err := e.initStorageLayer(); err != nil {
		return nil, err
	}
	if err := e.initRedoLayer(); err != nil {
		e.store.Close()
		return nil, err
	}
	e.atoms = manager.NewAtomicOperationsManager(e.store, e.redo)
	logger.Infof("storage engine opened, data dir %s, page size %d, redo %v", cfg.DataDir, cfg.PageSize, e.redo != nil)
	return e, nil
}

// OpenInMemory 不落盘的引擎，没有重做日志
func OpenInMemory(pageSize int) *StorageEngine {
	cfg := conf.NewCfg()
	cfg.PageSize = pageSize
	cfg.RedoLogEnabled = false
	s := store.NewMemoryPageStore(pageSize)
	return &StorageEngine{
		conf:  cfg,
		store: s,
		atoms: manager.NewAtomicOperationsManager(s, nil),
	}
}

func (e *StorageEngine) initStorageLayer() error {
	s, err := store.OpenFilePageStore(store.FileStoreConfig{
		Dir:              e.conf.DataDir,
		PageSize:         e.conf.PageSize,
		BufferPoolPages:  e.conf.BufferPoolPages(),
		FlushParallelism: e.conf.FlushParallelism,
	})
	if err != nil {
		return errors.Annotate(err, "open page store")
	}
	e.store = s
	return nil
}

// initRedoLayer 重放日志，刷盘后截断
func (e *StorageEngine) initRedoLayer() error {
	if !e.conf.RedoLogEnabled {
		return nil
	}
	redo, err := manager.NewRedoLogManager(e.conf.RedoLogPath(), e.conf.SyncOnCommit)
	if err != nil {
		return errors.Annotate(err, "open redo log")
	}
	replayed, err := redo.Recover(e.store)
	if err != nil {
		redo.Close()
		return errors.Annotate(err, "recover from redo log")
	}
	if replayed > 0 {
		if err := e.store.Flush(); err != nil {
			redo.Close()
			return errors.Annotate(err, "flush recovered pages")
		}
		if err := redo.Checkpoint(); err != nil {
			redo.Close()
			return errors.Trace(err)
		}
	}
	e.redo = redo
	return nil
}

func (e *StorageEngine) Store() basic.PageStore {
	return e.store
}

func (e *StorageEngine) AtomicOperations() *manager.AtomicOperationsManager {
	return e.atoms
}

func (e *StorageEngine) Config() *conf.Cfg {
	return e.conf
}

// HashTableOptions 按配置生成的哈希表选项
func (e *StorageEngine) HashTableOptions() []hashindex.Option {
	return []hashindex.Option{hashindex.WithMergeThreshold(e.conf.HashMergeThreshold)}
}

// EngineStats 引擎运行统计
type EngineStats struct {
	Operations  manager.ManagerStats
	LastLSN     uint64
	PinnedPages int
	RedoLog     *manager.LogStats
	BufferPool  *buffer_pool.BufferPoolStats

	// 以下只在落盘存储上有值
	HitRatio        float64
	DirtyPageRatio  float64
	AvgReadLatency  time.Duration
	AvgWriteLatency time.Duration
}

func (e *StorageEngine) Stats() EngineStats {
	stats := EngineStats{
		Operations:  e.atoms.Stats(),
		LastLSN:     e.atoms.LastLSN(),
		PinnedPages: e.store.PinnedPages(),
	}
	if e.redo != nil {
		logStats := e.redo.Stats()
		stats.RedoLog = &logStats
	}
	if fs, ok := e.store.(*store.FilePageStore); ok {
		poolStats := fs.BufferPoolStats()
		stats.BufferPool = &poolStats
		stats.HitRatio = poolStats.GetHitRatio()
		stats.DirtyPageRatio = fs.DirtyPageRatio()
		stats.AvgReadLatency = poolStats.GetAvgReadLatency()
		stats.AvgWriteLatency = poolStats.GetAvgWriteLatency()
	}
	return stats
}

// ResetStats 清零缓冲池统计，操作计数和LSN不受影响
func (e *StorageEngine) ResetStats() {
	if fs, ok := e.store.(*store.FilePageStore); ok {
		fs.ResetBufferPoolStats()
	}
}

// Close 刷盘、截断重做日志并关闭文件，可重复调用
func (e *StorageEngine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.store.Flush(); err != nil {
		keep(errors.Annotate(err, "flush page store"))
	} else if e.redo != nil {
		keep(errors.Annotate(e.redo.Checkpoint(), "checkpoint redo log"))
	}
	stats := e.Stats()
	if e.redo != nil {
		keep(e.redo.Close())
	}
	keep(e.store.Close())
	if firstErr == nil {
		logger.Infof("storage engine closed, last lsn %d, buffer pool hit ratio %.3f, avg read %s, avg write %s",
			stats.LastLSN, stats.HitRatio, stats.AvgReadLatency, stats.AvgWriteLatency)
	}
	return firstErr
}
