package mqtt

// bufferedMsg is a serialized message waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer holds messages published while disconnected. When full, the
// oldest message is overwritten. Not safe for concurrent use.
type ringBuffer struct {
	buf     []bufferedMsg
	next    int // slot of the next push
	count   int
	dropped int // overwritten since the last drain
	total   int // overwritten since creation
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]bufferedMsg, capacity)}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	r.buf[r.next] = msg
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
		return
	}
	r.dropped++
	r.total++
}

// drainAll returns the buffered messages oldest first, how many were lost
// since the previous drain, and empties the buffer.
func (r *ringBuffer) drainAll() ([]bufferedMsg, int) {
	dropped := r.dropped
	r.dropped = 0
	if r.count == 0 {
		return nil, dropped
	}

	out := make([]bufferedMsg, 0, r.count)
	oldest := (r.next - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(oldest+i)%len(r.buf)])
		r.buf[(oldest+i)%len(r.buf)] = bufferedMsg{}
	}
	r.count = 0
	r.next = 0
	return out, dropped
}

func (r *ringBuffer) len() int {
	return r.count
}

func (r *ringBuffer) droppedTotal() int {
	return r.total
}
