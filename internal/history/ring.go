package history

// ring is a fixed-size circular buffer. Once full, each push overwrites the
// oldest value.
type ring[T any] struct {
	data  []T
	head  int
	count int
}

func newRing[T any](size int) *ring[T] {
	if size <= 0 {
		size = 1
	}
	return &ring[T]{data: make([]T, size)}
}

func (r *ring[T]) push(v T) {
	r.data[r.head] = v
	r.head = (r.head + 1) % len(r.data)
	if r.count < len(r.data) {
		r.count++
	}
}

// items returns the stored values oldest first.
func (r *ring[T]) items() []T {
	out := make([]T, r.count)
	start := (r.head - r.count + len(r.data)) % len(r.data)
	for i := 0; i < r.count; i++ {
		out[i] = r.data[(start+i)%len(r.data)]
	}
	return out
}

// retain keeps only values for which keep returns true, preserving order.
// It returns how many were dropped.
func (r *ring[T]) retain(keep func(T) bool) int {
	kept := r.items()
	n := 0
	for _, v := range kept {
		if keep(v) {
			kept[n] = v
			n++
		}
	}
	dropped := r.count - n

	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.head, r.count = 0, 0
	for _, v := range kept[:n] {
		r.push(v)
	}
	return dropped
}

func (r *ring[T]) len() int {
	return r.count
}
