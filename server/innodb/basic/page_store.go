package basic

// CachePage is a read-only handle to the content of one page. Handles
// returned by a PageStore are pinned and must be passed back to
// PageStore.ReleasePage exactly once.
type CachePage struct {
	fileID    uint32
	pageIndex uint32
	data      []byte
	holder    interface{}
}

func NewCachePage(fileID, pageIndex uint32, data []byte, holder interface{}) *CachePage {
	return &CachePage{
		fileID:    fileID,
		pageIndex: pageIndex,
		data:      data,
		holder:    holder,
	}
}

func (p *CachePage) FileID() uint32 {
	return p.fileID
}

func (p *CachePage) PageIndex() uint32 {
	return p.pageIndex
}

// Data returns the page bytes. Callers must not modify them.
func (p *CachePage) Data() []byte {
	return p.data
}

// Holder returns the store private pin token.
func (p *CachePage) Holder() interface{} {
	return p.holder
}

// PageImage is the full content of one page in a StorePages batch.
type PageImage struct {
	FileID    uint32
	PageIndex uint32
	Data      []byte
}

// PageStore is the durable page storage consumed by the index structures.
// Pages are addressed by (fileID, pageIndex) and have a fixed size.
//
// Stored page content is never modified in place: StorePage installs a new
// byte slice, so a pinned CachePage keeps observing the content it was
// loaded with.
type PageStore interface {
	PageSize() int

	AddFile(name string) (uint32, error)
	LoadFile(name string) (uint32, error)
	IsFileExists(name string) bool
	FileName(fileID uint32) (string, error)
	DeleteFile(fileID uint32) error

	// FilledUpTo returns the number of pages in the file.
	FilledUpTo(fileID uint32) (uint32, error)

	LoadPage(fileID, pageIndex uint32) (*CachePage, error)
	ReleasePage(page *CachePage)

	// StorePage takes ownership of data. pageIndex may be equal to
	// FilledUpTo, which appends a page.
	StorePage(fileID, pageIndex uint32, data []byte) error

	// StorePages installs images in order and then deletes deletedFiles as
	// one step: LoadPage and FilledUpTo observe either none or all of it.
	// The batch is validated before anything is installed.
	StorePages(images []PageImage, deletedFiles []uint32) error

	// View runs fn with no StorePages batch in progress, so every page fn
	// loads comes from the same committed state. fn must not call View or
	// StorePages.
	View(fn func() error) error

	// PinnedPages reports the number of loaded pages not yet released.
	PinnedPages() int

	Flush() error
	Close() error
}
