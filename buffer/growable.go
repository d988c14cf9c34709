// Package buffer provides an append-only buffer that doubles its backing
// storage on overflow. Used for command logs and profile sample buffers.
package buffer

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1000

// Growable is an append-only sequence with explicit capacity. When an append
// would overflow, the backing array is replaced by one of twice the size and
// the existing contents are copied over in order.
//
// Not safe for concurrent use; each buffer has a single owner.
type Growable[T any] struct {
	items []T
	n     int
	grows int
}

// New returns an empty buffer with the given initial capacity.
func New[T any](capacity int) *Growable[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Growable[T]{items: make([]T, capacity)}
}

// Append stores v at the next index, doubling capacity first if full.
func (g *Growable[T]) Append(v T) int {
	if g.n >= len(g.items) {
		g.grow()
	}
	g.items[g.n] = v
	g.n++
	return g.n - 1
}

func (g *Growable[T]) grow() {
	size := len(g.items) * 2
	if size == 0 {
		size = DefaultCapacity
	}
	next := make([]T, size)
	copy(next, g.items[:g.n])
	g.items = next
	g.grows++
}

func (g *Growable[T]) Len() int { return g.n }

func (g *Growable[T]) Cap() int { return len(g.items) }

// Grows reports how many times the buffer has reallocated.
func (g *Growable[T]) Grows() int { return g.grows }

func (g *Growable[T]) At(i int) T {
	if i < 0 || i >= g.n {
		panic("buffer: index out of range")
	}
	return g.items[i]
}

// Ptr returns a pointer to the i-th element. It is invalidated by the next
// Append that grows the buffer.
func (g *Growable[T]) Ptr(i int) *T {
	if i < 0 || i >= g.n {
		panic("buffer: index out of range")
	}
	return &g.items[i]
}

// Last returns a pointer to the most recent element, or nil if empty.
func (g *Growable[T]) Last() *T {
	if g.n == 0 {
		return nil
	}
	return &g.items[g.n-1]
}

func (g *Growable[T]) Set(i int, v T) {
	if i < 0 || i >= g.n {
		panic("buffer: index out of range")
	}
	g.items[i] = v
}

// Items returns a copy of the used prefix.
func (g *Growable[T]) Items() []T {
	out := make([]T, g.n)
	copy(out, g.items[:g.n])
	return out
}

// Trim shrinks capacity to the used length.
func (g *Growable[T]) Trim() {
	if len(g.items) == g.n {
		return
	}
	next := make([]T, g.n)
	copy(next, g.items[:g.n])
	g.items = next
}

// Count returns the number of stored elements for which match is true.
func (g *Growable[T]) Count(match func(T) bool) int {
	c := 0
	for i := 0; i < g.n; i++ {
		if match(g.items[i]) {
			c++
		}
	}
	return c
}

// Reset empties the buffer but keeps its capacity.
func (g *Growable[T]) Reset() {
	var zero T
	for i := 0; i < g.n; i++ {
		g.items[i] = zero
	}
	g.n = 0
}
