package hashindex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/storage/store"
)

const testPageSize = 8192

func newTestManager(pageSize int) (*manager.AtomicOperationsManager, *store.MemoryPageStore) {
	s := store.NewMemoryPageStore(pageSize)
	return manager.NewAtomicOperationsManager(s, nil), s
}

func execute(t *testing.T, m *manager.AtomicOperationsManager, body func(op *manager.AtomicOperation) error) {
	t.Helper()
	err := m.ExecuteInsideAtomicOperation(context.Background(), func(ctx context.Context, op *manager.AtomicOperation) error {
		return body(op)
	})
	require.NoError(t, err)
}

func pointersOf(seed int64) []int64 {
	pointers := make([]int64, MaxLevelSize)
	for i := range pointers {
		pointers[i] = seed*1000 + int64(i)
	}
	return pointers
}

func newTestDirectory(t *testing.T, pageSize int) (*Directory, *manager.AtomicOperationsManager, *store.MemoryPageStore) {
	m, s := newTestManager(pageSize)
	d := NewDirectory(s, "dir")
	execute(t, m, func(op *manager.AtomicOperation) error {
		return d.Create(op)
	})
	return d, m, s
}

func TestDirectoryAddNode(t *testing.T) {
	d, m, s := newTestDirectory(t, testPageSize)
	pointers := pointersOf(1)

	execute(t, m, func(op *manager.AtomicOperation) error {
		index, err := d.AddNewNode(op, 2, 3, 4, pointers)
		require.NoError(t, err)
		assert.Equal(t, 0, index)
		return nil
	})

	left, err := d.GetMaxLeftChildDepth(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(2), left)
	right, err := d.GetMaxRightChildDepth(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(3), right)
	depth, err := d.GetNodeLocalDepth(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(4), depth)
	for i := 0; i < MaxLevelSize; i++ {
		ptr, err := d.GetNodePointer(nil, 0, i)
		require.NoError(t, err)
		require.Equal(t, pointers[i], ptr)
	}
	assert.Equal(t, 0, s.PinnedPages())
}

func TestDirectoryReusesFreedSlots(t *testing.T) {
	d, m, _ := newTestDirectory(t, testPageSize)

	execute(t, m, func(op *manager.AtomicOperation) error {
		for i := 0; i < 4; i++ {
			index, err := d.AddNewNode(op, 1, 1, 1, pointersOf(int64(i)))
			require.NoError(t, err)
			require.Equal(t, i, index)
		}
		require.NoError(t, d.DeleteNode(op, 1))
		return d.DeleteNode(op, 3)
	})

	var got []int
	execute(t, m, func(op *manager.AtomicOperation) error {
		for i := 0; i < 3; i++ {
			index, err := d.AddNewNode(op, byte(10+i), byte(20+i), byte(i+2), pointersOf(int64(100+i)))
			require.NoError(t, err)
			got = append(got, index)
		}
		return nil
	})
	assert.Equal(t, []int{3, 1, 4}, got)

	for i, index := range got {
		node, err := d.GetNode(nil, index)
		require.NoError(t, err)
		assert.Equal(t, byte(10+i), node.MaxLeftChildDepth)
		assert.Equal(t, byte(20+i), node.MaxRightChildDepth)
		assert.Equal(t, byte(i+2), node.NodeLocalDepth)
		assert.Equal(t, pointersOf(int64(100+i)), node.Pointers[:])
	}

	// 未删除的节点保持原样
	node, err := d.GetNode(nil, 2)
	require.NoError(t, err)
	assert.Equal(t, pointersOf(2), node.Pointers[:])
}

func TestDirectoryAsymmetricPages(t *testing.T) {
	// 8224: 第一页3个节点，后续页4个节点
	d, m, _ := newTestDirectory(t, 8224)
	first, rest := d.NodesPerPage()
	require.Equal(t, 3, first)
	require.Equal(t, 4, rest)

	execute(t, m, func(op *manager.AtomicOperation) error {
		for i := 0; i < 8; i++ {
			index, err := d.AddNewNode(op, byte(i), 0, 1, pointersOf(int64(i)))
			require.NoError(t, err)
			require.Equal(t, i, index)
		}
		pages, err := d.Pages(op)
		require.NoError(t, err)
		assert.Equal(t, uint32(3), pages)
		return nil
	})

	for i := 0; i < 8; i++ {
		node, err := d.GetNode(nil, i)
		require.NoError(t, err)
		assert.Equal(t, byte(i), node.MaxLeftChildDepth)
		assert.Equal(t, pointersOf(int64(i)), node.Pointers[:])
	}
}

func TestDirectorySetters(t *testing.T) {
	d, m, _ := newTestDirectory(t, testPageSize)

	execute(t, m, func(op *manager.AtomicOperation) error {
		for i := 0; i < 5; i++ {
			_, err := d.AddNewNode(op, 0, 0, 0, make([]int64, MaxLevelSize))
			require.NoError(t, err)
		}
		require.NoError(t, d.SetMaxLeftChildDepth(op, 4, 7))
		require.NoError(t, d.SetMaxRightChildDepth(op, 4, 6))
		require.NoError(t, d.SetNodeLocalDepth(op, 4, 5))
		require.NoError(t, d.SetNodePointer(op, 4, 255, -9))
		require.NoError(t, d.SetNodePointers(op, 3, 0, 128, 42))

		// 操作内读到未提交的修改
		ptr, err := d.GetNodePointer(op, 4, 255)
		require.NoError(t, err)
		assert.Equal(t, int64(-9), ptr)
		return nil
	})

	node, err := d.GetNode(nil, 4)
	require.NoError(t, err)
	assert.Equal(t, byte(7), node.MaxLeftChildDepth)
	assert.Equal(t, byte(6), node.MaxRightChildDepth)
	assert.Equal(t, byte(5), node.NodeLocalDepth)
	assert.Equal(t, int64(-9), node.Pointers[255])

	node, err = d.GetNode(nil, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(42), node.Pointers[127])
	assert.Equal(t, int64(0), node.Pointers[128])

	execute(t, m, func(op *manager.AtomicOperation) error {
		node.Pointers[0] = 77
		return d.SetNode(op, 3, node)
	})
	ptr, err := d.GetNodePointer(nil, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(77), ptr)

	execute(t, m, func(op *manager.AtomicOperation) error {
		assert.ErrorIs(t, d.SetNodeLocalDepth(op, 0, MaxLevelDepth+1), basic.ErrInvalidValue)
		return nil
	})
}

func TestDirectoryStructuralErrors(t *testing.T) {
	d, m, _ := newTestDirectory(t, testPageSize)

	execute(t, m, func(op *manager.AtomicOperation) error {
		_, err := d.AddNewNode(op, 0, 0, 0, make([]int64, MaxLevelSize))
		require.NoError(t, err)
		_, err = d.AddNewNode(op, 0, 0, 0, make([]int64, MaxLevelSize))
		require.NoError(t, err)
		return d.DeleteNode(op, 0)
	})

	_, err := d.GetNode(nil, 0)
	assert.ErrorIs(t, err, basic.ErrNodeDeleted)
	assert.True(t, basic.IsStructural(err))

	_, err = d.GetNodePointer(nil, 5, 0)
	assert.ErrorIs(t, err, basic.ErrNodeOutOfRange)
	_, err = d.GetNode(nil, -1)
	assert.ErrorIs(t, err, basic.ErrNodeOutOfRange)

	err = m.ExecuteInsideAtomicOperation(context.Background(), func(ctx context.Context, op *manager.AtomicOperation) error {
		return d.DeleteNode(op, 0)
	})
	assert.ErrorIs(t, err, basic.ErrNodeDeleted)

	err = m.ExecuteInsideAtomicOperation(context.Background(), func(ctx context.Context, op *manager.AtomicOperation) error {
		_, err := d.AddNewNode(op, 0, 0, 0, make([]int64, 3))
		return err
	})
	assert.ErrorIs(t, err, basic.ErrInvalidValue)

	// 没有原子操作时不能写
	_, err = d.AddNewNode(nil, 0, 0, 0, make([]int64, MaxLevelSize))
	assert.ErrorIs(t, err, manager.ErrNoActiveOperation)

	t.Run("depth beyond node width", func(t *testing.T) {
		err := m.ExecuteInsideAtomicOperation(context.Background(), func(ctx context.Context, op *manager.AtomicOperation) error {
			_, err := d.AddNewNode(op, 0, 0, 0xFF, make([]int64, MaxLevelSize))
			return err
		})
		assert.ErrorIs(t, err, basic.ErrInvalidValue)
		_, err = d.GetNode(nil, 2)
		assert.ErrorIs(t, err, basic.ErrNodeOutOfRange)
	})

	t.Run("slot out of range", func(t *testing.T) {
		_, err := d.GetNodePointer(nil, 1, MaxLevelSize)
		assert.ErrorIs(t, err, basic.ErrNodeOutOfRange)
		_, err = d.GetNodePointer(nil, 1, -1)
		assert.ErrorIs(t, err, basic.ErrNodeOutOfRange)

		execute(t, m, func(op *manager.AtomicOperation) error {
			assert.ErrorIs(t, d.SetNodePointer(op, 1, 300, 1), basic.ErrNodeOutOfRange)
			assert.ErrorIs(t, d.SetNodePointers(op, 1, 0, MaxLevelSize+1, 1), basic.ErrNodeOutOfRange)
			assert.ErrorIs(t, d.SetNodePointers(op, 1, 10, 5, 1), basic.ErrNodeOutOfRange)
			assert.ErrorIs(t, d.SetNodePointers(op, 1, -1, 5, 1), basic.ErrNodeOutOfRange)
			return d.SetNodePointers(op, 1, 0, MaxLevelSize, 3)
		})
		ptr, err := d.GetNodePointer(nil, 1, MaxLevelSize-1)
		require.NoError(t, err)
		assert.Equal(t, int64(3), ptr)
	})
}

func TestDirectoryRollback(t *testing.T) {
	d, m, s := newTestDirectory(t, testPageSize)
	execute(t, m, func(op *manager.AtomicOperation) error {
		_, err := d.AddNewNode(op, 1, 2, 3, pointersOf(1))
		return err
	})

	boom := errors.New("boom")
	err := m.ExecuteInsideAtomicOperation(context.Background(), func(ctx context.Context, op *manager.AtomicOperation) error {
		if err := d.SetNodePointer(op, 0, 10, -1); err != nil {
			return err
		}
		for i := 0; i < 6; i++ {
			if _, err := d.AddNewNode(op, 0, 0, 0, pointersOf(9)); err != nil {
				return err
			}
		}
		if err := d.DeleteNode(op, 0); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	node, err := d.GetNode(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, pointersOf(1), node.Pointers[:])
	_, err = d.GetNode(nil, 1)
	assert.ErrorIs(t, err, basic.ErrNodeOutOfRange)
	filled, err := d.Pages(nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), filled)
	assert.Equal(t, 0, s.PinnedPages())
}

func TestDirectoryClearAndDelete(t *testing.T) {
	d, m, s := newTestDirectory(t, testPageSize)
	execute(t, m, func(op *manager.AtomicOperation) error {
		for i := 0; i < 4; i++ {
			if _, err := d.AddNewNode(op, 0, 0, 0, pointersOf(int64(i))); err != nil {
				return err
			}
		}
		return d.DeleteNode(op, 2)
	})

	execute(t, m, func(op *manager.AtomicOperation) error {
		require.NoError(t, d.Clear(op))
		index, err := d.AddNewNode(op, 0, 0, 0, pointersOf(5))
		require.NoError(t, err)
		assert.Equal(t, 0, index)
		return nil
	})
	_, err := d.GetNode(nil, 1)
	assert.ErrorIs(t, err, basic.ErrNodeOutOfRange)

	execute(t, m, func(op *manager.AtomicOperation) error {
		return d.Delete(op)
	})
	assert.False(t, s.IsFileExists("dir"+DirectoryExtension))

	reopened := NewDirectory(s, "dir")
	assert.ErrorIs(t, reopened.Open(nil), basic.ErrFileNotFound)
}

func TestDirectoryOpen(t *testing.T) {
	d, m, s := newTestDirectory(t, testPageSize)
	execute(t, m, func(op *manager.AtomicOperation) error {
		_, err := d.AddNewNode(op, 3, 0, 2, pointersOf(3))
		return err
	})

	reopened := NewDirectory(s, "dir")
	require.NoError(t, reopened.Open(nil))
	node, err := reopened.GetNode(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(3), node.MaxLeftChildDepth)
	assert.Equal(t, pointersOf(3), node.Pointers[:])
}

func TestDirectoryOpenDetectsShortFile(t *testing.T) {
	d, m, s := newTestDirectory(t, 8224)
	execute(t, m, func(op *manager.AtomicOperation) error {
		for i := 0; i < 8; i++ {
			if _, err := d.AddNewNode(op, 0, 0, 1, pointersOf(int64(i))); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, NewDirectory(s, "dir").Open(nil))

	// 高水位声明的节点超出文件实际的页
	fileID, err := s.LoadFile("dir" + DirectoryExtension)
	require.NoError(t, err)
	page, err := s.LoadPage(fileID, 0)
	require.NoError(t, err)
	first := append([]byte(nil), page.Data()...)
	s.ReleasePage(page)
	setHighWater(first, 12)
	require.NoError(t, s.StorePage(fileID, 0, first))

	err = NewDirectory(s, "dir").Open(nil)
	assert.ErrorIs(t, err, basic.ErrTreeCorrupted)
}
