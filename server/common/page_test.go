package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageHeader(t *testing.T) {
	page := make([]byte, DefaultPageSize)

	SetPageType(page, FIL_PAGE_BTREE_NODE)
	SetPageLSN(page, 42)
	SetPageChecksum(page, 0xCAFEBABE)

	assert.Equal(t, FIL_PAGE_BTREE_NODE, GetPageType(page))
	assert.Equal(t, LSNT(42), GetPageLSN(page))
	assert.Equal(t, uint32(0xCAFEBABE), GetPageChecksum(page))
	assert.Equal(t, "BTREE_NODE", GetPageType(page).String())
	assert.Equal(t, "UNKNOWN", PageType(0x7777).String())
}
