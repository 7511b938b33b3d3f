package dalekbridge

// BufferPool hands out fixed-size byte slices. It is a buffered channel, so
// Get and Put are safe from any goroutine without a lock.
type BufferPool struct {
	pool    chan []byte
	bufSize int
}

// NewBufferPool preallocates count buffers of bufSize bytes.
func NewBufferPool(bufSize, count int) *BufferPool {
	bp := &BufferPool{
		pool:    make(chan []byte, count),
		bufSize: bufSize,
	}
	for i := 0; i < count; i++ {
		bp.pool <- make([]byte, bufSize)
	}
	return bp
}

// Get returns a pooled buffer of length bufSize, allocating when the pool is
// drained.
func (bp *BufferPool) Get() []byte {
	select {
	case buf := <-bp.pool:
		return buf[:bp.bufSize]
	default:
		return make([]byte, bp.bufSize)
	}
}

// Put returns buf to the pool. Buffers of a foreign capacity, and buffers
// arriving when the pool is full, are dropped.
func (bp *BufferPool) Put(buf []byte) {
	if cap(buf) != bp.bufSize {
		return
	}
	select {
	case bp.pool <- buf[:bp.bufSize]:
	default:
	}
}

// Size is the length of every buffer handed out by Get.
func (bp *BufferPool) Size() int {
	return bp.bufSize
}
