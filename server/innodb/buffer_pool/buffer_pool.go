package buffer_pool

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhukovaskychina/xmysql-index/logger"
)

// PageReader 缓冲池未命中时从磁盘读取页面
type PageReader func(fileID, pageIndex uint32) ([]byte, error)

// PageWriter 把脏页写回磁盘，不同文件的调用可能并发进行
type PageWriter func(fileID, pageIndex uint32, data []byte) error

// BufferPoolConfig contains configuration for buffer pool
type BufferPoolConfig struct {
	// 页面数量上限，被pin住的页面不会被淘汰，所以实际数量可能临时超出
	Capacity int

	// LRU configuration
	YoungListPercent float64

	// 刷脏时并行写的文件数
	FlushParallelism int

	Reader PageReader
	Writer PageWriter
}

// BufferPool 页面缓存，负责pin计数、脏页跟踪和淘汰
type BufferPool struct {
	mu sync.Mutex

	config *BufferPoolConfig

	pages map[uint64]*BufferPage
	lru   *LRUCache

	pinned     int
	dirtyPages int

	stats *BufferPoolStats
}

// NewBufferPool creates a new buffer pool
func NewBufferPool(config *BufferPoolConfig) (*BufferPool, error) {
	if config == nil || config.Capacity <= 0 || config.Reader == nil || config.Writer == nil {
		return nil, ErrInvalidConfig
	}
	if config.YoungListPercent <= 0 || config.YoungListPercent >= 1 {
		config.YoungListPercent = 0.625
	}
	if config.FlushParallelism <= 0 {
		config.FlushParallelism = 1
	}
	return &BufferPool{
		config: config,
		pages:  make(map[uint64]*BufferPage, config.Capacity),
		lru:    NewLRUCache(config.Capacity, config.YoungListPercent),
		stats:  NewBufferPoolStats(),
	}, nil
}

// GetPage 读取并pin住页面，返回的内容在Unpin之前保持不变
func (bp *BufferPool) GetPage(fileID, pageIndex uint32) (*BufferPage, []byte, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	page, ok := bp.pages[pageKey(fileID, pageIndex)]
	bp.stats.RecordPageRequest(ok)
	if ok {
		bp.lru.Touch(page)
	} else {
		start := time.Now()
		content, err := bp.config.Reader(fileID, pageIndex)
		bp.stats.RecordPageIO(true, time.Since(start).Nanoseconds())
		if err != nil {
			return nil, nil, NewError("read", fileID, pageIndex, err)
		}
		if err := bp.makeRoom(); err != nil {
			return nil, nil, err
		}
		page = newBufferPage(fileID, pageIndex, content)
		bp.insert(page)
	}
	page.pinCount++
	bp.pinned++
	return page, page.content, nil
}

// Unpin 释放GetPage得到的pin
func (bp *BufferPool) Unpin(page *BufferPage) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if page.pinCount <= 0 {
		return NewError("unpin", page.fileID, page.pageIndex, ErrNotPinned)
	}
	page.pinCount--
	bp.pinned--
	if page.pinCount == 0 && len(bp.pages) > bp.config.Capacity {
		return bp.makeRoom()
	}
	return nil
}

// PutPage 用新内容替换页面并标记为脏页，缓冲池获得data的所有权
func (bp *BufferPool) PutPage(fileID, pageIndex uint32, data []byte) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	page, ok := bp.pages[pageKey(fileID, pageIndex)]
	if !ok {
		if err := bp.makeRoom(); err != nil {
			return err
		}
		page = newBufferPage(fileID, pageIndex, data)
		bp.insert(page)
	} else {
		page.content = data
		bp.lru.Touch(page)
	}
	page.newestModification++
	if !page.dirty {
		page.dirty = true
		bp.dirtyPages++
	}
	return nil
}

// DropFile 丢弃文件的全部页面，脏页不再写回
func (bp *BufferPool) DropFile(fileID uint32) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.lru.Each(func(page *BufferPage) {
		if page.fileID == fileID {
			bp.remove(page)
		}
	})
}

// FlushDirtyPages 把所有脏页写回磁盘，按文件并行，文件内按页号顺序
func (bp *BufferPool) FlushDirtyPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.dirtyPages == 0 {
		return nil
	}

	byFile := make(map[uint32][]*BufferPage)
	bp.lru.Each(func(page *BufferPage) {
		if page.dirty {
			byFile[page.fileID] = append(byFile[page.fileID], page)
		}
	})

	var g errgroup.Group
	g.SetLimit(bp.config.FlushParallelism)
	for _, pages := range byFile {
		pages := pages
		sort.Slice(pages, func(i, j int) bool {
			return pages[i].pageIndex < pages[j].pageIndex
		})
		g.Go(func() error {
			for _, page := range pages {
				if err := bp.write(page); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err := g.Wait()

	written := 0
	for _, pages := range byFile {
		for _, page := range pages {
			if page.dirty && page.flushed {
				page.dirty = false
				page.flushed = false
				bp.dirtyPages--
				written++
			}
		}
	}
	logger.Debugf("buffer pool flushed %d pages of %d files", written, len(byFile))
	if err != nil {
		return NewError("flush", 0, 0, err)
	}
	return nil
}

// write 在持有bp.mu的情况下被刷脏协程调用，只读取页面字段
func (bp *BufferPool) write(page *BufferPage) error {
	start := time.Now()
	err := bp.config.Writer(page.fileID, page.pageIndex, page.content)
	bp.stats.RecordPageIO(false, time.Since(start).Nanoseconds())
	bp.stats.RecordFlush(err == nil)
	if err != nil {
		return NewError("write", page.fileID, page.pageIndex, err)
	}
	page.flushed = true
	return nil
}

// makeRoom 页面数达到上限时淘汰一个未pin住的页面，脏页先写回
func (bp *BufferPool) makeRoom() error {
	for len(bp.pages) >= bp.config.Capacity {
		victim := bp.lru.Victim()
		if victim == nil {
			logger.Debugf("buffer pool over capacity, %d pages pinned", bp.pinned)
			return nil
		}
		if victim.dirty {
			if err := bp.write(victim); err != nil {
				return err
			}
			victim.dirty = false
			victim.flushed = false
			bp.dirtyPages--
		}
		bp.remove(victim)
		bp.stats.RecordEviction()
	}
	return nil
}

func (bp *BufferPool) insert(page *BufferPage) {
	bp.pages[pageKey(page.fileID, page.pageIndex)] = page
	bp.lru.Insert(page)
}

func (bp *BufferPool) remove(page *BufferPage) {
	delete(bp.pages, pageKey(page.fileID, page.pageIndex))
	bp.lru.Remove(page)
	if page.dirty {
		page.dirty = false
		bp.dirtyPages--
	}
}

// PinnedPages 返回未释放的pin数量
func (bp *BufferPool) PinnedPages() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.pinned
}

func (bp *BufferPool) Len() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.pages)
}

func (bp *BufferPool) DirtyPages() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.dirtyPages
}

// GetDirtyPageRatio returns the ratio of dirty pages
func (bp *BufferPool) GetDirtyPageRatio() float64 {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return float64(bp.dirtyPages) / float64(bp.config.Capacity)
}

func (bp *BufferPool) Stats() BufferPoolStats {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.stats.Snapshot()
}

// ResetStats 清零统计，从当前时刻重新开始计算
func (bp *BufferPool) ResetStats() {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.stats.Reset()
}
