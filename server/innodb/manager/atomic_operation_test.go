package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-index/server/common"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/storage/store"
)

const testPageSize = 4096

func newTestManager(t *testing.T) (*AtomicOperationsManager, *store.MemoryPageStore) {
	s := store.NewMemoryPageStore(testPageSize)
	return NewAtomicOperationsManager(s, nil), s
}

func readByte(t *testing.T, s basic.PageStore, fileID, pageIndex uint32, off int) byte {
	page, err := s.LoadPage(fileID, pageIndex)
	require.NoError(t, err)
	defer s.ReleasePage(page)
	return page.Data()[off]
}

// createFile commits a file with n pages, page i filled with byte i+1 at offset 100
func createFile(t *testing.T, m *AtomicOperationsManager, name string, n int) uint32 {
	var fileID uint32
	err := m.ExecuteInsideAtomicOperation(context.Background(), func(ctx context.Context, op *AtomicOperation) error {
		var err error
		fileID, err = op.AddFile(name)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			_, data, err := op.AddPage(fileID)
			if err != nil {
				return err
			}
			data[100] = byte(i + 1)
		}
		return nil
	})
	require.NoError(t, err)
	return fileID
}

func TestCommitInstallsPages(t *testing.T) {
	m, s := newTestManager(t)
	fileID := createFile(t, m, "f", 3)

	filled, err := s.FilledUpTo(fileID)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), filled)
	assert.Equal(t, byte(2), readByte(t, s, fileID, 1, 100))
	assert.Equal(t, 0, s.PinnedPages())

	page, err := s.LoadPage(fileID, 0)
	require.NoError(t, err)
	assert.Equal(t, common.LSNT(1), common.GetPageLSN(page.Data()))
	s.ReleasePage(page)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Committed)
	assert.Equal(t, int64(0), stats.Active)
}

func TestRollbackRestoresState(t *testing.T) {
	m, s := newTestManager(t)
	fileID := createFile(t, m, "f", 2)
	boom := errors.New("boom")

	err := m.ExecuteInsideAtomicOperation(context.Background(), func(ctx context.Context, op *AtomicOperation) error {
		data, err := op.LoadPageForWrite(fileID, 0)
		if err != nil {
			return err
		}
		data[100] = 99

		// reads inside the operation observe its own writes
		page, err := op.LoadPageForRead(fileID, 0)
		if err != nil {
			return err
		}
		assert.Equal(t, byte(99), page.Data()[100])
		op.ReleasePage(page)

		if _, _, err := op.AddPage(fileID); err != nil {
			return err
		}
		if _, err := op.AddFile("tmp"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, byte(1), readByte(t, s, fileID, 0, 100))
	filled, err := s.FilledUpTo(fileID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), filled)
	assert.False(t, s.IsFileExists("tmp"))
	assert.Equal(t, 0, s.PinnedPages())
	assert.Equal(t, int64(1), m.Stats().RolledBack)
}

func TestRollbackIsIdempotent(t *testing.T) {
	m, s := newTestManager(t)
	fileID := createFile(t, m, "f", 1)

	for i := 0; i < 3; i++ {
		err := m.ExecuteInsideAtomicOperation(context.Background(), func(ctx context.Context, op *AtomicOperation) error {
			data, err := op.LoadPageForWrite(fileID, 0)
			if err != nil {
				return err
			}
			data[100]++
			return Abort("retry")
		})
		assert.True(t, IsAbort(err))
		assert.Equal(t, byte(1), readByte(t, s, fileID, 0, 100))
	}
}

func TestNestedOperations(t *testing.T) {
	m, s := newTestManager(t)
	fileID := createFile(t, m, "f", 1)

	ctx, outer := m.StartAtomicOperation(context.Background())
	ctx2, inner := m.StartAtomicOperation(ctx)
	assert.Same(t, outer, inner)
	assert.Same(t, outer, m.CurrentOperation(ctx2))

	data, err := inner.LoadPageForWrite(fileID, 0)
	require.NoError(t, err)
	data[100] = 50
	require.NoError(t, m.EndAtomicOperation(ctx2, nil))

	// inner end does not commit
	assert.Equal(t, byte(1), readByte(t, s, fileID, 0, 100))
	assert.True(t, outer.IsActive())

	require.NoError(t, m.EndAtomicOperation(ctx, nil))
	assert.Equal(t, byte(50), readByte(t, s, fileID, 0, 100))
	assert.Nil(t, m.CurrentOperation(ctx))
	assert.False(t, outer.IsActive())
}

func TestNestedFailureRollsBackOuter(t *testing.T) {
	m, s := newTestManager(t)
	fileID := createFile(t, m, "f", 1)

	err := m.ExecuteInsideAtomicOperation(context.Background(), func(ctx context.Context, op *AtomicOperation) error {
		data, err := op.LoadPageForWrite(fileID, 0)
		if err != nil {
			return err
		}
		data[100] = 7
		inner := m.ExecuteInsideAtomicOperation(ctx, func(ctx context.Context, op *AtomicOperation) error {
			return Abort("inner")
		})
		assert.True(t, IsAbort(inner))
		// swallow the nested failure
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, byte(1), readByte(t, s, fileID, 0, 100))
}

func TestFinishedOperationRejectsAccess(t *testing.T) {
	m, _ := newTestManager(t)
	fileID := createFile(t, m, "f", 1)

	ctx, op := m.StartAtomicOperation(context.Background())
	require.NoError(t, m.EndAtomicOperation(ctx, nil))

	_, err := op.LoadPageForWrite(fileID, 0)
	assert.ErrorIs(t, err, ErrOperationFinished)
	_, _, err = op.AddPage(fileID)
	assert.ErrorIs(t, err, ErrOperationFinished)
	assert.ErrorIs(t, m.EndAtomicOperation(ctx, nil), ErrNoActiveOperation)
}

func TestPanicRollsBack(t *testing.T) {
	m, s := newTestManager(t)
	fileID := createFile(t, m, "f", 1)
	ctx := context.Background()

	assert.Panics(t, func() {
		m.ExecuteInsideAtomicOperation(ctx, func(ctx context.Context, op *AtomicOperation) error {
			data, err := op.LoadPageForWrite(fileID, 0)
			if err != nil {
				return err
			}
			data[100] = 77
			panic("bad")
		})
	})
	assert.Equal(t, byte(1), readByte(t, s, fileID, 0, 100))
	assert.Nil(t, m.CurrentOperation(ctx))
	assert.Equal(t, int64(0), m.Stats().Active)
}

func TestDeleteFileOnCommit(t *testing.T) {
	m, s := newTestManager(t)
	fileID := createFile(t, m, "f", 1)

	err := m.ExecuteInsideAtomicOperation(context.Background(), func(ctx context.Context, op *AtomicOperation) error {
		if err := op.DeleteFile(fileID); err != nil {
			return err
		}
		assert.False(t, op.IsFileExists("f"))
		_, err := op.LoadPageForRead(fileID, 0)
		assert.ErrorIs(t, err, basic.ErrFileNotFound)
		// still visible outside until commit
		assert.True(t, s.IsFileExists("f"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, s.IsFileExists("f"))
}

func TestCalculateInsideAtomicOperation(t *testing.T) {
	m, s := newTestManager(t)
	fileID := createFile(t, m, "f", 1)
	ctx := context.Background()

	out := CalculateInsideAtomicOperation(ctx, m, func(ctx context.Context, op *AtomicOperation) (int, error) {
		data, err := op.LoadPageForWrite(fileID, 0)
		if err != nil {
			return 0, err
		}
		data[100] = 10
		return 42, nil
	})
	assert.True(t, out.OK())
	assert.Equal(t, 42, out.Value)
	assert.False(t, out.Aborted)
	assert.Equal(t, byte(10), readByte(t, s, fileID, 0, 100))

	out = CalculateInsideAtomicOperation(ctx, m, func(ctx context.Context, op *AtomicOperation) (int, error) {
		data, err := op.LoadPageForWrite(fileID, 0)
		if err != nil {
			return 0, err
		}
		data[100] = 11
		return 1, Abort("no")
	})
	assert.True(t, out.Aborted)
	assert.Equal(t, 0, out.Value)
	assert.Equal(t, byte(10), readByte(t, s, fileID, 0, 100))

	broken := errors.New("structural")
	out = CalculateInsideAtomicOperation(ctx, m, func(ctx context.Context, op *AtomicOperation) (int, error) {
		return 0, broken
	})
	assert.False(t, out.Aborted)
	assert.ErrorIs(t, out.Err, broken)
}

func TestReadPinsAreReleased(t *testing.T) {
	m, s := newTestManager(t)
	fileID := createFile(t, m, "f", 2)

	err := m.ExecuteInsideAtomicOperation(context.Background(), func(ctx context.Context, op *AtomicOperation) error {
		page, err := op.LoadPageForRead(fileID, 1)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, s.PinnedPages())
		op.ReleasePage(page)

		if _, err := op.LoadPageForWrite(fileID, 1); err != nil {
			return err
		}
		page, err = op.LoadPageForRead(fileID, 1)
		if err != nil {
			return err
		}
		// working copies are not pinned in the store
		assert.Equal(t, 0, s.PinnedPages())
		op.ReleasePage(page)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, s.PinnedPages())
}
