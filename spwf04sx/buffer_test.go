package spwf04sx

import (
	"fmt"
	"math/rand"
	"testing"

	"go.viam.com/test"
)

func checkCursors(t *testing.T, b *Buffer) {
	t.Helper()
	test.That(t, b.ReadOffset(), test.ShouldBeGreaterThanOrEqualTo, 0)
	test.That(t, b.ReadOffset(), test.ShouldBeLessThanOrEqualTo, b.WriteOffset())
	test.That(t, b.WriteOffset(), test.ShouldBeLessThanOrEqualTo, b.Cap())
	test.That(t, b.AvailableRead(), test.ShouldEqual, b.WriteOffset()-b.ReadOffset())
	test.That(t, b.AvailableWrite(), test.ShouldEqual, b.Cap()-b.WriteOffset())
}

func TestBufferReadWrite(t *testing.T) {
	b := NewBuffer(8)
	checkCursors(t, b)
	test.That(t, b.AvailableWrite(), test.ShouldEqual, 8)

	test.That(t, b.Write([]byte("hello")), test.ShouldEqual, 5)
	checkCursors(t, b)
	test.That(t, b.AvailableRead(), test.ShouldEqual, 5)

	peek := make([]byte, 3)
	test.That(t, b.Peek(peek), test.ShouldEqual, 3)
	test.That(t, string(peek), test.ShouldEqual, "hel")
	test.That(t, b.ReadOffset(), test.ShouldEqual, 0)

	dst := make([]byte, 2)
	test.That(t, b.Read(dst, 2), test.ShouldBeNil)
	test.That(t, string(dst), test.ShouldEqual, "he")
	checkCursors(t, b)

	test.That(t, b.Read(nil, 1), test.ShouldBeNil)
	test.That(t, b.AvailableRead(), test.ShouldEqual, 2)

	test.That(t, b.Read(make([]byte, 3), 3), test.ShouldNotBeNil)
	test.That(t, b.Read(nil, -1), test.ShouldNotBeNil)
	checkCursors(t, b)

	// Only 3 of these fit.
	test.That(t, b.Write([]byte("world")), test.ShouldEqual, 3)
	test.That(t, b.AvailableWrite(), test.ShouldEqual, 0)
	checkCursors(t, b)
}

func TestBufferCompress(t *testing.T) {
	b := NewBuffer(6)
	test.That(t, b.TryCompress(), test.ShouldBeFalse)

	b.Write([]byte("abcdef"))
	test.That(t, b.Read(nil, 4), test.ShouldBeNil)
	test.That(t, b.AvailableWrite(), test.ShouldEqual, 0)

	test.That(t, b.TryCompress(), test.ShouldBeTrue)
	checkCursors(t, b)
	test.That(t, b.ReadOffset(), test.ShouldEqual, 0)
	test.That(t, b.WriteOffset(), test.ShouldEqual, 2)
	test.That(t, b.AvailableWrite(), test.ShouldEqual, 4)

	dst := make([]byte, 2)
	test.That(t, b.Read(dst, 2), test.ShouldBeNil)
	test.That(t, string(dst), test.ShouldEqual, "ef")

	b.Write([]byte("xy"))
	b.Reset()
	checkCursors(t, b)
	test.That(t, b.AvailableRead(), test.ShouldEqual, 0)
	test.That(t, b.AvailableWrite(), test.ShouldEqual, 6)
}

func TestBufferRandomSequences(t *testing.T) {
	for _, tc := range []struct {
		seed     int64
		capacity int
		steps    int
	}{
		{1, 1, 200},
		{2, 7, 500},
		{3, 16, 1000},
		{4, 64, 1000},
		{5, BufferSize, 2000},
	} {
		t.Run(fmt.Sprintf("seed %d cap %d", tc.seed, tc.capacity), func(t *testing.T) {
			rng := rand.New(rand.NewSource(tc.seed))
			b := NewBuffer(tc.capacity)

			// The model keeps the unread bytes and where the read cursor should be.
			var unread []byte
			readOffset := 0
			next := byte(0)

			for i := 0; i < tc.steps; i++ {
				switch rng.Intn(4) {
				case 0, 1:
					p := make([]byte, rng.Intn(tc.capacity+2))
					for j := range p {
						p[j] = next
						next++
					}
					room := tc.capacity - readOffset - len(unread)
					want := len(p)
					if want > room {
						want = room
					}
					test.That(t, b.Write(p), test.ShouldEqual, want)
					unread = append(unread, p[:want]...)
				case 2:
					count := rng.Intn(len(unread) + 2)
					dst := make([]byte, count)
					err := b.Read(dst, count)
					if count > len(unread) {
						test.That(t, err, test.ShouldNotBeNil)
						break
					}
					test.That(t, err, test.ShouldBeNil)
					test.That(t, string(dst), test.ShouldEqual, string(unread[:count]))
					unread = unread[count:]
					readOffset += count
				case 3:
					test.That(t, b.TryCompress(), test.ShouldEqual, readOffset != 0)
					readOffset = 0
				}

				checkCursors(t, b)
				test.That(t, b.ReadOffset(), test.ShouldEqual, readOffset)
				test.That(t, b.AvailableRead(), test.ShouldEqual, len(unread))
				peek := make([]byte, len(unread))
				test.That(t, b.Peek(peek), test.ShouldEqual, len(unread))
				test.That(t, string(peek), test.ShouldEqual, string(unread))
			}
		})
	}
}
