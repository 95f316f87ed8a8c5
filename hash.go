package assetpreview

import (
	"fmt"
	"hash"
	"io"
	"sync"
)

// Default size for the buffer used when hashing and copying files
const defaultBufferSize = 32 * 1024 // 32KB

// bufferPool is a pool of byte slices used for file I/O
var bufferPool = sync.Pool{
	New: func() interface{} {
		buffer := make([]byte, defaultBufferSize)
		return &buffer
	},
}

// hashFile hashes the content from a reader into h.
func hashFile(content io.Reader, h hash.Hash) error {
	bufPtr := bufferPool.Get().(*[]byte)
	buffer := *bufPtr
	defer bufferPool.Put(bufPtr)

	_, err := io.CopyBuffer(h, content, buffer)
	if err != nil {
		return fmt.Errorf("failed to copy content: %w", err)
	}
	return nil
}

// checksum returns the hex digest of content using hashFunc.
func checksum(hashFunc HashFunc, content io.Reader) (string, error) {
	h := hashFunc()
	if err := hashFile(content, h); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
