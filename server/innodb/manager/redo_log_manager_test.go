package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-index/server/innodb/storage/store"
)

func TestRedoLogManager(t *testing.T) {
	testDir := t.TempDir()

	redo, err := NewRedoLogManager(testDir, true)
	require.NoError(t, err)
	defer redo.Close()

	t.Run("append assigns lsn", func(t *testing.T) {
		page := make([]byte, testPageSize)
		lsn, err := redo.Append(&RedoRecord{OperationID: 1, Pages: []RedoPageImage{{FileID: 1, PageIndex: 0, Data: page}}})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), lsn)
		assert.Equal(t, uint64(2), redo.NextLSN())

		_, err = os.Stat(filepath.Join(testDir, redoLogFileName))
		assert.NoError(t, err)
		assert.Equal(t, uint64(1), redo.Stats().Records)
	})

	t.Run("checkpoint truncates", func(t *testing.T) {
		require.NoError(t, redo.Checkpoint())
		assert.Equal(t, int64(0), redo.Size())
		// lsn keeps growing after a checkpoint
		assert.Equal(t, uint64(2), redo.NextLSN())
	})
}

func TestRedoRecordEncoding(t *testing.T) {
	rec := &RedoRecord{
		LSN:          7,
		OperationID:  3,
		Pages:        []RedoPageImage{{FileID: 2, PageIndex: 5, Data: []byte{1, 2, 3}}},
		DeletedFiles: []uint32{9},
	}
	var buf writerBuffer
	encodeRedoRecord(&buf, rec)

	decoded, err := decodeRedoRecord(buf.data[redoFrameHeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)

	_, err = decodeRedoRecord(buf.data[redoFrameHeaderSize : len(buf.data)-2])
	assert.ErrorIs(t, err, ErrRedoCorrupted)
}

type writerBuffer struct {
	data []byte
}

func (w *writerBuffer) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func TestRedoRecovery(t *testing.T) {
	logDir := t.TempDir()

	// committed state lives only in the redo log, the store is lost
	redo, err := NewRedoLogManager(logDir, true)
	require.NoError(t, err)
	s := store.NewMemoryPageStore(testPageSize)
	m := NewAtomicOperationsManager(s, redo)
	fileID := createFile(t, m, "f", 2)
	err = m.ExecuteInsideAtomicOperation(context.Background(), func(ctx context.Context, op *AtomicOperation) error {
		data, err := op.LoadPageForWrite(fileID, 1)
		if err != nil {
			return err
		}
		data[100] = 33
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, redo.Close())

	fresh := store.NewMemoryPageStore(testPageSize)
	freshID, err := fresh.AddFile("f")
	require.NoError(t, err)
	require.Equal(t, fileID, freshID)

	redo, err = NewRedoLogManager(logDir, true)
	require.NoError(t, err)
	defer redo.Close()
	assert.Equal(t, uint64(3), redo.NextLSN())

	replayed, err := redo.Recover(fresh)
	require.NoError(t, err)
	assert.Equal(t, 2, replayed)

	filled, err := fresh.FilledUpTo(freshID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), filled)
	assert.Equal(t, byte(1), readByte(t, fresh, freshID, 0, 100))
	assert.Equal(t, byte(33), readByte(t, fresh, freshID, 1, 100))

	m = NewAtomicOperationsManager(fresh, redo)
	assert.Equal(t, uint64(2), m.LastLSN())
}

func TestRedoTornTail(t *testing.T) {
	logDir := t.TempDir()
	redo, err := NewRedoLogManager(logDir, true)
	require.NoError(t, err)
	_, err = redo.Append(&RedoRecord{OperationID: 1, Pages: []RedoPageImage{{FileID: 1, PageIndex: 0, Data: make([]byte, testPageSize)}}})
	require.NoError(t, err)
	goodSize := redo.Size()
	_, err = redo.Append(&RedoRecord{OperationID: 2, Pages: []RedoPageImage{{FileID: 1, PageIndex: 1, Data: make([]byte, testPageSize)}}})
	require.NoError(t, err)
	require.NoError(t, redo.Close())

	// cut the second record in half
	path := filepath.Join(logDir, redoLogFileName)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, goodSize+(info.Size()-goodSize)/2))

	redo, err = NewRedoLogManager(logDir, true)
	require.NoError(t, err)
	defer redo.Close()
	assert.Equal(t, goodSize, redo.Size())
	assert.Equal(t, uint64(2), redo.NextLSN())

	s := store.NewMemoryPageStore(testPageSize)
	_, err = s.AddFile("f")
	require.NoError(t, err)
	replayed, err := redo.Recover(s)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
	filled, err := s.FilledUpTo(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), filled)
}

func TestRedoRecoverySkipsDeletedFiles(t *testing.T) {
	logDir := t.TempDir()
	redo, err := NewRedoLogManager(logDir, false)
	require.NoError(t, err)
	defer redo.Close()
	_, err = redo.Append(&RedoRecord{OperationID: 1, Pages: []RedoPageImage{{FileID: 5, PageIndex: 0, Data: make([]byte, testPageSize)}}})
	require.NoError(t, err)

	s := store.NewMemoryPageStore(testPageSize)
	replayed, err := redo.Recover(s)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
	assert.Equal(t, 0, s.PinnedPages())
}
