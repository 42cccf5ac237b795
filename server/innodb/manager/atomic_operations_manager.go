package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	jerrors "github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/xmysql-index/logger"
	"github.com/zhukovaskychina/xmysql-index/server/common"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
)

type operationKey struct{}

// operationHolder 绑定在context上的当前原子操作槽位
type operationHolder struct {
	op    *AtomicOperation
	depth int
	cause error
}

// AtomicOperationsManager 管理原子操作的开始、嵌套和结束
type AtomicOperationsManager struct {
	store basic.PageStore
	redo  *RedoLogManager

	nextID int64
	lsn    uint64

	// 提交串行化，保证日志顺序与装入顺序一致
	commitMu sync.Mutex

	active     int64
	committed  int64
	rolledBack int64
}

// NewAtomicOperationsManager redo为nil时不写重做日志
func NewAtomicOperationsManager(store basic.PageStore, redo *RedoLogManager) *AtomicOperationsManager {
	m := &AtomicOperationsManager{
		store: store,
		redo:  redo,
	}
	if redo != nil {
		m.lsn = redo.NextLSN() - 1
	}
	return m
}

func (m *AtomicOperationsManager) Store() basic.PageStore {
	return m.store
}

// StartAtomicOperation 在ctx上开始原子操作。ctx上已有活动操作时返回同一个操作，嵌套深度加一。
func (m *AtomicOperationsManager) StartAtomicOperation(ctx context.Context) (context.Context, *AtomicOperation) {
	if h, ok := ctx.Value(operationKey{}).(*operationHolder); ok && h.op != nil {
		h.depth++
		return ctx, h.op
	}
	op := newAtomicOperation(atomic.AddInt64(&m.nextID, 1), m.store)
	atomic.AddInt64(&m.active, 1)
	h := &operationHolder{op: op, depth: 1}
	return context.WithValue(ctx, operationKey{}, h), op
}

// CurrentOperation 返回ctx上的活动操作，没有时返回nil
func (m *AtomicOperationsManager) CurrentOperation(ctx context.Context) *AtomicOperation {
	if h, ok := ctx.Value(operationKey{}).(*operationHolder); ok {
		return h.op
	}
	return nil
}

// EndAtomicOperation 结束一层嵌套。err不为nil时操作被标记为只能回滚；
// 最外层结束时提交或回滚，并清空ctx上的槽位。
func (m *AtomicOperationsManager) EndAtomicOperation(ctx context.Context, err error) error {
	h, ok := ctx.Value(operationKey{}).(*operationHolder)
	if !ok || h.op == nil {
		return ErrNoActiveOperation
	}
	op := h.op
	if err != nil {
		op.Lock()
		op.rollbackOnly = true
		op.Unlock()
		if h.cause == nil {
			h.cause = err
		}
	}
	h.depth--
	if h.depth > 0 {
		return err
	}
	h.op = nil
	atomic.AddInt64(&m.active, -1)

	if op.IsRollbackOnly() {
		if rerr := m.rollback(op); rerr != nil {
			logger.Errorf("rollback of operation %d failed: %s", op.id, jerrors.ErrorStack(rerr))
		}
		if err != nil {
			return err
		}
		return jerrors.Annotatef(ErrOperationRolledBack, "nested failure: %v", h.cause)
	}
	if cerr := m.commit(op); cerr != nil {
		logger.Errorf("commit of operation %d failed: %s", op.id, jerrors.ErrorStack(cerr))
		return cerr
	}
	return nil
}

// ExecuteInsideAtomicOperation 在原子操作内执行body，正常返回时提交，
// 返回错误或panic时回滚，panic会继续向上抛出
func (m *AtomicOperationsManager) ExecuteInsideAtomicOperation(ctx context.Context, body func(ctx context.Context, op *AtomicOperation) error) (err error) {
	ctx, op := m.StartAtomicOperation(ctx)
	defer func() {
		if r := recover(); r != nil {
			m.EndAtomicOperation(ctx, fmt.Errorf("panic inside atomic operation %d: %v", op.id, r))
			panic(r)
		}
	}()
	err = body(ctx, op)
	return m.EndAtomicOperation(ctx, err)
}

func (m *AtomicOperationsManager) commit(op *AtomicOperation) error {
	op.Lock()
	defer op.Unlock()

	if err := op.checkActive(); err != nil {
		return err
	}
	images := op.commitImages()
	deleted := op.deletedFileList()
	if len(images) == 0 && len(deleted) == 0 {
		op.state = operationCommitted
		op.discardBuffers()
		atomic.AddInt64(&m.committed, 1)
		return nil
	}

	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	if m.redo != nil {
		lsn, err := m.redo.Append(&RedoRecord{OperationID: op.id, Pages: images, DeletedFiles: deleted})
		if err != nil {
			op.state = operationRolledBack
			op.discard()
			atomic.AddInt64(&m.rolledBack, 1)
			return jerrors.Annotatef(err, "commit operation %d", op.id)
		}
		m.lsn = lsn
	} else {
		m.lsn++
		for _, img := range images {
			common.SetPageLSN(img.Data, common.LSNT(m.lsn))
		}
	}

	// 日志已落盘，之后的失败由恢复过程补齐
	op.state = operationCommitted
	atomic.AddInt64(&m.committed, 1)
	if err := m.store.StorePages(images, deleted); err != nil {
		return jerrors.Annotatef(err, "install %d pages for operation %d", len(images), op.id)
	}
	op.discardBuffers()
	logger.WithFields(logrus.Fields{"op": op.id, "pages": len(images), "deleted": len(deleted), "lsn": m.lsn}).Debug("operation committed")
	return nil
}

func (m *AtomicOperationsManager) rollback(op *AtomicOperation) error {
	op.Lock()
	defer op.Unlock()

	if op.state != operationActive {
		return nil
	}
	op.state = operationRolledBack
	atomic.AddInt64(&m.rolledBack, 1)
	logger.Debugf("operation %d rolled back, %d pages discarded", op.id, len(op.pages))
	return op.discard()
}

// LastLSN 最后一次提交使用的LSN
func (m *AtomicOperationsManager) LastLSN() uint64 {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	return m.lsn
}

// ManagerStats 原子操作统计
type ManagerStats struct {
	Active     int64
	Committed  int64
	RolledBack int64
}

func (m *AtomicOperationsManager) Stats() ManagerStats {
	return ManagerStats{
		Active:     atomic.LoadInt64(&m.active),
		Committed:  atomic.LoadInt64(&m.committed),
		RolledBack: atomic.LoadInt64(&m.rolledBack),
	}
}
