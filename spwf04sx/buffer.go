package spwf04sx

import (
	"sync"

	"github.com/pkg/errors"
)

// BufferSize is the capacity of an operation's receive buffer: the longest socket payload the
// module sends plus room for the result codes around it.
const BufferSize = 1500 + 512

// Buffer is a fixed region with independent read and write cursors. The polling loop fills it
// from the write cursor, the caller drains it from the read cursor, and
// 0 <= readCursor <= writeCursor <= capacity holds after every call.
type Buffer struct {
	mu        sync.Mutex
	data      []byte
	nextRead  int
	nextWrite int
}

// NewBuffer returns an empty buffer of the given capacity.
func NewBuffer(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

// Cap returns the capacity of the buffer.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// AvailableWrite returns the room left after the write cursor.
func (b *Buffer) AvailableWrite() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) - b.nextWrite
}

// AvailableRead returns the number of unread bytes.
func (b *Buffer) AvailableRead() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextWrite - b.nextRead
}

// ReadOffset returns the read cursor.
func (b *Buffer) ReadOffset() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextRead
}

// WriteOffset returns the write cursor.
func (b *Buffer) WriteOffset() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextWrite
}

// TryCompress moves the unread bytes to the start of the buffer to regain write room. It is the
// only call that moves data already written. It reports whether anything moved.
func (b *Buffer) TryCompress() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nextRead == 0 {
		return false
	}
	copy(b.data, b.data[b.nextRead:b.nextWrite])
	b.nextWrite -= b.nextRead
	b.nextRead = 0
	return true
}

// Write copies as much of p as fits at the write cursor and advances it. It returns the number of
// bytes taken.
func (b *Buffer) Write(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := copy(b.data[b.nextWrite:], p)
	b.nextWrite += n
	return n
}

// Read consumes count unread bytes, copying them into dst first. A nil dst discards them.
func (b *Buffer) Read(dst []byte, count int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if count < 0 || count > b.nextWrite-b.nextRead {
		return errors.Errorf("cannot consume %d bytes with %d unread", count, b.nextWrite-b.nextRead)
	}
	copy(dst, b.data[b.nextRead:b.nextRead+count])
	b.nextRead += count
	return nil
}

// Peek copies up to len(dst) unread bytes into dst without consuming them.
func (b *Buffer) Peek(dst []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copy(dst, b.data[b.nextRead:b.nextWrite])
}

// Reset zeroes both cursors.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextRead = 0
	b.nextWrite = 0
}
