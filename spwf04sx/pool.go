package spwf04sx

import (
	"sync"
)

// Pool hands out reusable objects. It creates a new object only when none is idle and never
// shrinks.
type Pool[T comparable] struct {
	mu        sync.Mutex
	creator   func() T
	all       []T
	idle      map[T]bool
	available []T
}

// NewPool returns an empty pool that builds objects with creator.
func NewPool[T comparable](creator func() T) *Pool[T] {
	return &Pool[T]{creator: creator, idle: map[T]bool{}}
}

// Acquire returns an idle object, or a new one if none is idle.
func (p *Pool[T]) Acquire() T {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.available) == 0 {
		obj := p.creator()
		p.all = append(p.all, obj)
		p.idle[obj] = false
		return obj
	}

	obj := p.available[len(p.available)-1]
	p.available = p.available[:len(p.available)-1]
	p.idle[obj] = false
	return obj
}

// Release returns obj to the pool. Releasing an object the pool never produced, or one that is
// already idle, is an error.
func (p *Pool[T]) Release(obj T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idle, ok := p.idle[obj]
	if !ok {
		return ErrNotFromPool
	}
	if idle {
		return ErrAlreadyReleased
	}
	p.idle[obj] = true
	p.available = append(p.available, obj)
	return nil
}

// ResetAll marks every object the pool has produced as idle.
func (p *Pool[T]) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.available = p.available[:0]
	for _, obj := range p.all {
		p.idle[obj] = true
		p.available = append(p.available, obj)
	}
}

// Available returns the number of idle objects.
func (p *Pool[T]) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// Size returns the number of objects the pool has produced.
func (p *Pool[T]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// OperationPool hands out operations that are already bound to an empty receive buffer.
type OperationPool struct {
	mu         sync.Mutex
	operations *Pool[*Operation]
	buffers    *Pool[*Buffer]
}

// NewOperationPool returns an empty OperationPool whose buffers have BufferSize capacity.
func NewOperationPool() *OperationPool {
	return NewOperationPoolWithBufferSize(BufferSize)
}

// NewOperationPoolWithBufferSize is NewOperationPool with a custom buffer capacity.
func NewOperationPoolWithBufferSize(size int) *OperationPool {
	return &OperationPool{
		operations: NewPool(newOperation),
		buffers:    NewPool(func() *Buffer { return NewBuffer(size) }),
	}
}

// Acquire returns a reset operation bound to a reset buffer.
func (p *OperationPool) Acquire() *Operation {
	p.mu.Lock()
	defer p.mu.Unlock()

	op := p.operations.Acquire()
	op.bind(p.buffers.Acquire())
	return op
}

// Release resets the operation and its buffer and returns both to the pool.
func (p *OperationPool) Release(op *Operation) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := op.Buffer()
	if err := p.operations.Release(op); err != nil {
		return err
	}
	if buf != nil {
		buf.Reset()
		if err := p.buffers.Release(buf); err != nil {
			return err
		}
	}
	op.reset()
	return nil
}

// ResetAll returns every operation and buffer to the pool, abandoning any still in use.
func (p *OperationPool) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffers.ResetAll()
	p.operations.ResetAll()
}

// Available returns the number of idle operations.
func (p *OperationPool) Available() int {
	return p.operations.Available()
}

// Size returns the number of operations the pool has produced.
func (p *OperationPool) Size() int {
	return p.operations.Size()
}
