package manager

import (
	"time"

	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
)

// RedoPageImage 提交时写入重做日志的完整页镜像
type RedoPageImage = basic.PageImage

// RedoRecord 一个原子操作的提交记录
type RedoRecord struct {
	LSN          uint64
	OperationID  int64
	Pages        []RedoPageImage
	DeletedFiles []uint32
}

// 记录格式:
//
//	u32 body length | u32 xxhash32(body) | body
//	body = u64 lsn | i64 op id | u32 page count | u32 deleted file count
//	       | page count x (u32 file id | u32 page index | u32 len | data)
//	       | deleted file count x u32 file id
const (
	redoFrameHeaderSize = 8
	redoBodyHeaderSize  = 24
	redoPageHeaderSize  = 12

	redoLogFileName = "redo.log"
)

// LogStats 日志统计信息
type LogStats struct {
	Records        uint64        // 写入的记录数
	Bytes          uint64        // 写入的字节数
	Syncs          uint64        // fsync次数
	SyncLatency    time.Duration // 累计同步耗时
	LastCheckpoint time.Time     // 最后一次检查点时间
}
