package analyzer

// chunkRing is a fixed-capacity FIFO of chunks. Pushing onto a full ring
// evicts the oldest chunk.
type chunkRing struct {
	buf   [][]int16
	start int
	n     int
}

func newChunkRing(capacity int) *chunkRing {
	return &chunkRing{buf: make([][]int16, max(capacity, 1))}
}

func (r *chunkRing) push(c []int16) {
	idx := (r.start + r.n) % len(r.buf)
	r.buf[idx] = c
	if r.n < len(r.buf) {
		r.n++
		return
	}
	r.start = (r.start + 1) % len(r.buf)
}

// tail returns the most recent k chunks in chronological order without copying them.
func (r *chunkRing) tail(k int) [][]int16 {
	k = min(k, r.n)
	out := make([][]int16, 0, k)
	for i := r.n - k; i < r.n; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

func (r *chunkRing) clear() {
	clear(r.buf)
	r.start, r.n = 0, 0
}

func (r *chunkRing) len() int      { return r.n }
func (r *chunkRing) capacity() int { return len(r.buf) }
