package transport

// DefaultQueueSize is the outbound buffer capacity.
const DefaultQueueSize = 100

// ring is a bounded FIFO of encoded frames. When full, the oldest frame is
// overwritten.
type ring struct {
	buf   [][]byte
	head  int
	count int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &ring{buf: make([][]byte, capacity)}
}

// push appends frame and reports whether an older frame was dropped.
func (r *ring) push(frame []byte) (dropped bool) {
	if r.count == len(r.buf) {
		r.buf[r.head] = frame
		r.head = (r.head + 1) % len(r.buf)
		return true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = frame
	r.count++
	return false
}

// drain removes and returns all frames, oldest first.
func (r *ring) drain() [][]byte {
	out := make([][]byte, 0, r.count)
	for r.count > 0 {
		out = append(out, r.buf[r.head])
		r.buf[r.head] = nil
		r.head = (r.head + 1) % len(r.buf)
		r.count--
	}
	r.head = 0
	return out
}

func (r *ring) len() int { return r.count }

func (r *ring) reset() {
	for i := range r.buf {
		r.buf[i] = nil
	}
	r.head = 0
	r.count = 0
}
