package store

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-index/server/common"
	"github.com/zhukovaskychina/xmysql-index/server/innodb/basic"
)

const testPageSize = 4096

func newPage(fill byte) []byte {
	page := make([]byte, testPageSize)
	common.SetPageType(page, common.FIL_PAGE_HASH_BUCKET)
	for i := common.FileHeaderSize; i < len(page); i++ {
		page[i] = fill
	}
	return page
}

func openFileStore(t *testing.T, dir string, poolPages int) *FilePageStore {
	s, err := OpenFilePageStore(FileStoreConfig{
		Dir:              dir,
		PageSize:         testPageSize,
		BufferPoolPages:  poolPages,
		FlushParallelism: 2,
	})
	require.NoError(t, err)
	return s
}

func TestPageStoreContract(t *testing.T) {
	stores := map[string]func(t *testing.T) basic.PageStore{
		"memory": func(t *testing.T) basic.PageStore { return NewMemoryPageStore(testPageSize) },
		"file":   func(t *testing.T) basic.PageStore { return openFileStore(t, t.TempDir(), 16) },
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			id, err := s.AddFile("idx.hb")
			require.NoError(t, err)
			assert.True(t, s.IsFileExists("idx.hb"))
			_, err = s.AddFile("idx.hb")
			assert.ErrorIs(t, err, basic.ErrFileExists)

			loaded, err := s.LoadFile("idx.hb")
			require.NoError(t, err)
			assert.Equal(t, id, loaded)
			fileName, err := s.FileName(id)
			require.NoError(t, err)
			assert.Equal(t, "idx.hb", fileName)

			filled, err := s.FilledUpTo(id)
			require.NoError(t, err)
			assert.Equal(t, uint32(0), filled)

			require.NoError(t, s.StorePage(id, 0, newPage(1)))
			require.NoError(t, s.StorePage(id, 1, newPage(2)))
			assert.ErrorIs(t, s.StorePage(id, 5, newPage(3)), basic.ErrInvalidPageID)
			assert.ErrorIs(t, s.StorePage(id, 0, make([]byte, 10)), basic.ErrInvalidPageSize)

			filled, err = s.FilledUpTo(id)
			require.NoError(t, err)
			assert.Equal(t, uint32(2), filled)

			page, err := s.LoadPage(id, 1)
			require.NoError(t, err)
			assert.Equal(t, 1, s.PinnedPages())

			// installed content never changes under a pinned page
			require.NoError(t, s.StorePage(id, 1, newPage(9)))
			assert.Equal(t, byte(2), page.Data()[testPageSize-1])
			s.ReleasePage(page)
			assert.Equal(t, 0, s.PinnedPages())

			page, err = s.LoadPage(id, 1)
			require.NoError(t, err)
			assert.Equal(t, byte(9), page.Data()[testPageSize-1])
			s.ReleasePage(page)

			_, err = s.LoadPage(id, 2)
			assert.ErrorIs(t, err, basic.ErrInvalidPageID)

			require.NoError(t, s.DeleteFile(id))
			assert.False(t, s.IsFileExists("idx.hb"))
			_, err = s.LoadFile("idx.hb")
			assert.ErrorIs(t, err, basic.ErrFileNotFound)
			_, err = s.LoadPage(id, 0)
			assert.ErrorIs(t, err, basic.ErrFileNotFound)

			// ids are not reused
			again, err := s.AddFile("idx.hb")
			require.NoError(t, err)
			assert.NotEqual(t, id, again)
			assert.Equal(t, 0, s.PinnedPages())
		})
	}
}

func lastByte(t *testing.T, s basic.PageStore, fileID, pageIndex uint32) byte {
	page, err := s.LoadPage(fileID, pageIndex)
	require.NoError(t, err)
	defer s.ReleasePage(page)
	return page.Data()[testPageSize-1]
}

func TestPageStoreBatchInstall(t *testing.T) {
	stores := map[string]func(t *testing.T) basic.PageStore{
		"memory": func(t *testing.T) basic.PageStore { return NewMemoryPageStore(testPageSize) },
		"file":   func(t *testing.T) basic.PageStore { return openFileStore(t, t.TempDir(), 16) },
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			a, err := s.AddFile("a")
			require.NoError(t, err)
			b, err := s.AddFile("b")
			require.NoError(t, err)

			require.NoError(t, s.StorePages([]basic.PageImage{
				{FileID: a, PageIndex: 0, Data: newPage(1)},
				{FileID: a, PageIndex: 1, Data: newPage(2)},
				{FileID: b, PageIndex: 0, Data: newPage(3)},
			}, nil))
			filled, err := s.FilledUpTo(a)
			require.NoError(t, err)
			assert.Equal(t, uint32(2), filled)

			t.Run("rejected batch installs nothing", func(t *testing.T) {
				err := s.StorePages([]basic.PageImage{
					{FileID: a, PageIndex: 0, Data: newPage(7)},
					{FileID: a, PageIndex: 5, Data: newPage(7)},
				}, nil)
				assert.ErrorIs(t, err, basic.ErrInvalidPageID)
				err = s.StorePages([]basic.PageImage{{FileID: a, PageIndex: 0, Data: newPage(7)}}, []uint32{99})
				assert.ErrorIs(t, err, basic.ErrFileNotFound)
				assert.Equal(t, byte(1), lastByte(t, s, a, 0))
				filled, err := s.FilledUpTo(a)
				require.NoError(t, err)
				assert.Equal(t, uint32(2), filled)
			})

			t.Run("appends and deletes", func(t *testing.T) {
				require.NoError(t, s.StorePages([]basic.PageImage{
					{FileID: a, PageIndex: 2, Data: newPage(4)},
					{FileID: a, PageIndex: 3, Data: newPage(5)},
				}, []uint32{b}))
				filled, err := s.FilledUpTo(a)
				require.NoError(t, err)
				assert.Equal(t, uint32(4), filled)
				assert.Equal(t, byte(5), lastByte(t, s, a, 3))
				assert.False(t, s.IsFileExists("b"))
			})

			t.Run("view sees whole batches", func(t *testing.T) {
				generation := func(gen int) []basic.PageImage {
					images := make([]basic.PageImage, 4)
					for i := range images {
						images[i] = basic.PageImage{FileID: a, PageIndex: uint32(i), Data: newPage(byte(gen))}
					}
					return images
				}
				require.NoError(t, s.StorePages(generation(0), nil))

				done := make(chan struct{})
				go func() {
					defer close(done)
					for gen := 1; gen <= 100; gen++ {
						if err := s.StorePages(generation(gen), nil); err != nil {
							return
						}
					}
				}()
				for running := true; running; {
					select {
					case <-done:
						running = false
					default:
					}
					err := s.View(func() error {
						first := lastByte(t, s, a, 0)
						for i := uint32(1); i < 4; i++ {
							assert.Equal(t, first, lastByte(t, s, a, i), "page %d", i)
						}
						return nil
					})
					require.NoError(t, err)
				}
				assert.Equal(t, byte(100), lastByte(t, s, a, 3))
				assert.Equal(t, 0, s.PinnedPages())
			})
		})
	}
}

func TestFilePageStoreReopen(t *testing.T) {
	dir := t.TempDir()
	s := openFileStore(t, dir, 4)

	id, err := s.AddFile("tree.sbt")
	require.NoError(t, err)
	other, err := s.AddFile("tree.nbt")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.StorePage(id, uint32(i), newPage(byte(i))))
	}
	require.NoError(t, s.StorePage(other, 0, newPage(42)))
	require.NoError(t, s.Close())

	s = openFileStore(t, dir, 4)
	defer s.Close()

	reopened, err := s.LoadFile("tree.sbt")
	require.NoError(t, err)
	assert.Equal(t, id, reopened)
	filled, err := s.FilledUpTo(id)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), filled)

	for i := 0; i < 10; i++ {
		page, err := s.LoadPage(id, uint32(i))
		require.NoError(t, err)
		assert.Equal(t, byte(i), page.Data()[testPageSize-1])
		assert.Equal(t, common.FIL_PAGE_HASH_BUCKET, common.GetPageType(page.Data()))
		s.ReleasePage(page)
	}
	assert.Equal(t, 0, s.PinnedPages())

	third, err := s.AddFile("third")
	require.NoError(t, err)
	assert.Greater(t, third, other)
	assert.Greater(t, s.BufferPoolStats().PageReads, int64(0))
}

func TestFilePageStoreEvictionWritesBack(t *testing.T) {
	dir := t.TempDir()
	s := openFileStore(t, dir, 2)
	defer s.Close()

	id, err := s.AddFile("data")
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		require.NoError(t, s.StorePage(id, uint32(i), newPage(byte(i+1))))
	}
	for i := 0; i < 8; i++ {
		page, err := s.LoadPage(id, uint32(i))
		require.NoError(t, err)
		assert.Equal(t, byte(i+1), page.Data()[testPageSize-1])
		s.ReleasePage(page)
	}
	assert.Greater(t, s.BufferPoolStats().PageEvictions, int64(0))
}

func TestFilePageStoreDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	s := openFileStore(t, dir, 4)
	id, err := s.AddFile("data")
	require.NoError(t, err)
	require.NoError(t, s.StorePage(id, 0, newPage(5)))
	require.NoError(t, s.Close())

	f, err := os.OpenFile(path.Join(dir, blockFileName("data", id)), os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF, 0xFF}, 200)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s = openFileStore(t, dir, 4)
	defer s.Close()
	_, err = s.LoadPage(id, 0)
	assert.ErrorIs(t, err, basic.ErrPageCorrupted)
	assert.True(t, basic.IsStructural(err))
	assert.Equal(t, 0, s.PinnedPages())
}

func TestFilePageStorePageSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	s := openFileStore(t, dir, 4)
	require.NoError(t, s.Close())

	_, err := OpenFilePageStore(FileStoreConfig{Dir: dir, PageSize: 8192, BufferPoolPages: 4})
	assert.ErrorIs(t, err, basic.ErrInvalidPageSize)
}
