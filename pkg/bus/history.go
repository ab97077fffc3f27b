package bus

// DefaultHistorySize is the number of packets retained for late joiners.
const DefaultHistorySize = 1000

// ring is a fixed-capacity FIFO of serialized packets. Not safe for
// concurrent use; the Bus guards it with its own mutex.
type ring struct {
	buf   [][]byte
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &ring{buf: make([][]byte, capacity)}
}

// add appends data, evicting the oldest entry when full.
func (r *ring) add(data []byte) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = data
		r.size++
		return
	}
	r.buf[r.start] = data
	r.start = (r.start + 1) % len(r.buf)
}

// last returns the most recent n entries, oldest first.
func (r *ring) last(n int) [][]byte {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([][]byte, 0, n)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

func (r *ring) len() int { return r.size }
