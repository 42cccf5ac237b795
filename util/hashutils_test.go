package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash(t *testing.T) {
	a := HashCode([]byte("788788"))
	b := HashCode([]byte("788788"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, HashCode([]byte{0, 0, 0, 1}), HashCode([]byte{0, 0, 0, 2}))
}

func TestChecksum32(t *testing.T) {
	page := make([]byte, 64)
	sum := Checksum32(page)
	page[10] = 1
	assert.NotEqual(t, sum, Checksum32(page))
}

func TestPageChecksumSkipsChecksumField(t *testing.T) {
	page := make([]byte, 64)
	sum := PageChecksum(page, 12)
	page[12] = 0xAB
	page[15] = 0xCD
	assert.Equal(t, sum, PageChecksum(page, 12))
	page[16] = 1
	assert.NotEqual(t, sum, PageChecksum(page, 12))
}
