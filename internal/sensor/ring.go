package sensor

// ring is a fixed-capacity circular buffer of samples. It has no locking of
// its own; the owning Core guards it.
type ring struct {
	slots []Sample
	head  int // next write slot
	tail  int // next read slot
	count int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &ring{slots: make([]Sample, capacity)}
}

// push stores s, overwriting the oldest sample when full. It reports whether
// a sample was dropped to make room.
func (r *ring) push(s Sample) bool {
	dropped := false
	if r.count == len(r.slots) {
		r.tail = (r.tail + 1) % len(r.slots)
		r.count--
		dropped = true
	}

	r.slots[r.head] = s
	r.head = (r.head + 1) % len(r.slots)
	r.count++

	return dropped
}

// pop removes and returns the oldest sample.
func (r *ring) pop() (Sample, bool) {
	if r.count == 0 {
		return Sample{}, false
	}

	s := r.slots[r.tail]
	r.slots[r.tail] = Sample{}
	r.tail = (r.tail + 1) % len(r.slots)
	r.count--

	return s, true
}

func (r *ring) len() int {
	return r.count
}

func (r *ring) capacity() int {
	return len(r.slots)
}
