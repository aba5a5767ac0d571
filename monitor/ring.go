package monitor

// ring is a fixed capacity circular buffer.  It is not concurrent safe.
type ring[T any] struct {
	buf    []T
	cursor int
	filled bool
}

func newRing[T any](size int) *ring[T] {
	return &ring[T]{buf: make([]T, size)}
}

// Append adds a value to the buffer, overwriting the oldest when full
func (c *ring[T]) Append(v T) {
	if c.cursor == len(c.buf) {
		c.cursor = 0
		c.filled = true
	}
	c.buf[c.cursor] = v
	c.cursor++
}

// Len is the number of values held
func (c *ring[T]) Len() int {
	if c.filled {
		return len(c.buf)
	}
	return c.cursor
}

// Head gets the most recent addition, or the zero value if the buffer is empty
func (c *ring[T]) Head() T {
	var zero T
	if c.Len() == 0 {
		return zero
	}
	return c.buf[c.cursor-1]
}

// Contiguous copies the values from least to most recent.
// An empty buffer gives an empty, non-nil slice.
func (c *ring[T]) Contiguous() []T {
	out := make([]T, 0, c.Len())
	if c.filled {
		out = append(out, c.buf[c.cursor:]...)
	}
	return append(out, c.buf[:c.cursor]...)
}
