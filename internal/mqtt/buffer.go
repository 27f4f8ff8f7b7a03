package mqtt

// bufferedMsg is a serialized MQTT message held for replay after reconnection.
// kind is the pair name or system event it carries and runID the run that
// produced it; both only feed the logs when the message is dropped or fails.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
	kind     string
	runID    string
}

// ringBuffer is a fixed-capacity FIFO that stores messages while disconnected.
// Not safe for concurrent use; the caller must synchronize.
type ringBuffer struct {
	buf      []bufferedMsg
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if any message was dropped since last drain
	dropped  int  // messages overwritten over the buffer's lifetime
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		buf:      make([]bufferedMsg, capacity),
		capacity: capacity,
	}
}

// push appends msg. When the buffer is full the oldest message is overwritten
// and returned with evicted set.
func (r *ringBuffer) push(msg bufferedMsg) (oldest bufferedMsg, evicted bool) {
	if r.count == r.capacity {
		// head already points at the oldest message
		oldest = r.buf[r.head]
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		r.overflow = true
		r.dropped++
		return oldest, true
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
	return bufferedMsg{}, false
}

func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	result := make([]bufferedMsg, r.count)
	// Oldest item is at (head - count) mod capacity
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}

	r.count = 0
	r.head = 0
	r.overflow = false
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}

// runs counts the buffered messages of each run, oldest run first.
func (r *ringBuffer) runs() (ids []string, counts map[string]int) {
	counts = make(map[string]int)
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		id := r.buf[(start+i)%r.capacity].runID
		if _, seen := counts[id]; !seen {
			ids = append(ids, id)
		}
		counts[id]++
	}
	return ids, counts
}
