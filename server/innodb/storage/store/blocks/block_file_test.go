package blocks

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-index/server/common"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
)

const testPageSize = 4096

func newPage(fill byte) []byte {
	page := make([]byte, testPageSize)
	for i := common.FileHeaderSize; i < len(page); i++ {
		page[i] = fill
	}
	common.SetPageType(page, common.FIL_PAGE_BTREE_NODE)
	return page
}

func TestBlockFileWriteRead(t *testing.T) {
	dir := t.TempDir()
	bf := NewBlockFile(dir, "data.blk", testPageSize)
	require.NoError(t, bf.Open())
	defer bf.Close()

	assert.Equal(t, uint32(0), bf.PageCount())

	page := newPage(7)
	require.NoError(t, bf.WritePage(0, page))
	require.NoError(t, bf.WritePage(1, newPage(9)))
	assert.Equal(t, uint32(2), bf.PageCount())

	// the caller's slice keeps a zero checksum
	assert.Equal(t, uint32(0), common.GetPageChecksum(page))

	got, err := bf.ReadPage(0)
	require.NoError(t, err)
	assert.Equal(t, byte(7), got[testPageSize-1])
	assert.NotEqual(t, uint32(0), common.GetPageChecksum(got))

	_, err = bf.ReadPage(2)
	assert.ErrorIs(t, err, basic.ErrInvalidPageID)
}

func TestBlockFileReopen(t *testing.T) {
	dir := t.TempDir()
	bf := NewBlockFile(dir, "data.blk", testPageSize)
	require.NoError(t, bf.Open())
	require.NoError(t, bf.WritePage(2, newPage(3)))
	require.NoError(t, bf.Sync())
	require.NoError(t, bf.Close())

	bf = NewBlockFile(dir, "data.blk", testPageSize)
	require.NoError(t, bf.Open())
	defer bf.Close()
	assert.Equal(t, uint32(3), bf.PageCount())

	// never written pages read back as zero pages
	got, err := bf.ReadPage(1)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, testPageSize), got)
}

func TestBlockFileDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	bf := NewBlockFile(dir, "data.blk", testPageSize)
	require.NoError(t, bf.Open())
	require.NoError(t, bf.WritePage(0, newPage(1)))
	require.NoError(t, bf.Close())

	f, err := os.OpenFile(bf.Path(), os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xEE}, 100)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, bf.Open())
	defer bf.Close()
	_, err = bf.ReadPage(0)
	assert.ErrorIs(t, err, basic.ErrPageCorrupted)
}

func TestBlockFileWrongSize(t *testing.T) {
	bf := NewBlockFile(t.TempDir(), "data.blk", testPageSize)
	require.NoError(t, bf.Open())
	defer bf.Close()
	assert.ErrorIs(t, bf.WritePage(0, make([]byte, 10)), basic.ErrInvalidPageSize)
}

func TestBlockFileRemove(t *testing.T) {
	bf := NewBlockFile(t.TempDir(), "data.blk", testPageSize)
	require.NoError(t, bf.Open())
	require.NoError(t, bf.WritePage(0, newPage(1)))
	require.NoError(t, bf.Remove())

	_, err := os.Stat(bf.Path())
	assert.True(t, os.IsNotExist(err))
}
