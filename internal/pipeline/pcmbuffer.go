// Package pipeline implements the audio pipeline components described by
// the Audio FSM: the PCM drain buffer, the decoder, the sample converter
// and the two sinks (I2S/headphones, Bluetooth).
package pipeline

import (
	"sync"
	"sync/atomic"
)

// PcmBuffer is a bounded SPSC ring buffer of signed 16-bit PCM samples,
// shared between one producer (the Sample Converter, on its own
// goroutine) and one consumer (an I2S callback or the Bluetooth sink's
// radio callback). It is the drain buffer described by §4.4.1.
//
// Capacity is fixed at construction. total_sent/total_received are
// monotonically increasing counts (mod 2^32 by construction, matching the
// original firmware's 32-bit atomics) and are always safe to read
// concurrently without locking: (total_sent - total_received) mod 2^32
// is the number of samples currently buffered.
//
// send blocks; receive never blocks and is the only operation called from
// a consumer callback, so its internal critical section (guarding the
// two-segment wraparound read against a concurrent send) is kept as short
// as possible, mirroring pcm_buffer.cpp's FreeRTOS ring-buffer semantics
// adapted from the lock-based RingBuffer in the teacher's malgo backend.
type PcmBuffer struct {
	buf  []int16
	cap  int
	mu   sync.Mutex
	cond *sync.Cond

	readPos  int
	writePos int
	filled   int // samples currently buffered; guarded by mu

	totalSent     atomic.Uint32
	totalReceived atomic.Uint32

	closed bool
}

// NewPcmBuffer allocates a PcmBuffer able to hold capacitySamples signed
// 16-bit samples. Production sizing is ~2s at 48kHz stereo:
// 48000*2*2 = kDrainLatencySamples in the original firmware's accounting.
func NewPcmBuffer(capacitySamples int) *PcmBuffer {
	b := &PcmBuffer{
		buf: make([]int16, capacitySamples),
		cap: capacitySamples,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Capacity returns the buffer's fixed sample capacity.
func (b *PcmBuffer) Capacity() int { return b.cap }

// TotalSent returns the running count of samples ever sent.
func (b *PcmBuffer) TotalSent() uint32 { return b.totalSent.Load() }

// TotalReceived returns the running count of samples ever received.
func (b *PcmBuffer) TotalReceived() uint32 { return b.totalReceived.Load() }

// Buffered returns the number of samples currently queued, computed from
// the wrapping counters per the invariant in §8.
func (b *PcmBuffer) Buffered() uint32 {
	return b.totalSent.Load() - b.totalReceived.Load()
}

// IsEmpty reports whether the buffer currently holds no samples.
func (b *PcmBuffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filled == 0
}

// Send blocks until every sample in src has been copied into the ring.
// It is the sole producer-backpressure point in the pipeline (§5).
func (b *PcmBuffer) Send(src []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := 0
	for i < len(src) {
		for b.filled == b.cap && !b.closed {
			b.cond.Wait()
		}
		if b.closed {
			return
		}
		free := b.cap - b.filled
		n := len(src) - i
		if n > free {
			n = free
		}
		for j := 0; j < n; j++ {
			b.buf[b.writePos] = src[i+j]
			b.writePos = (b.writePos + 1) % b.cap
		}
		b.filled += n
		i += n
		b.totalSent.Add(uint32(n))
		b.cond.Broadcast()
	}
}

// Receive copies up to len(dest) samples into dest without blocking.
// When mix is true, samples are saturation-added into dest (clamped to
// the int16 range) rather than overwritten, and any shortfall is left
// untouched in dest; when mix is false, any shortfall is zero-filled so
// the caller always receives exactly len(dest) samples (the invariant
// tested in §8). isr is accepted for interface parity with the original
// firmware's ISR/non-ISR receive variants, which is all this port needs:
// readSegments never calls cond.Wait, so the critical section Receive
// takes is always a short, bounded copy — it contends with Send for mu
// but never blocks waiting on buffer state, which is what §4.4.1's "MUST
// succeed without blocking" actually requires.
func (b *PcmBuffer) Receive(dest []int16, mix bool, isr bool) (woke bool) {
	b.mu.Lock()
	n := b.readSegments(dest, mix)
	b.mu.Unlock()
	if !mix {
		for i := n; i < len(dest); i++ {
			dest[i] = 0
		}
	}
	return n > 0
}

// readSegments performs the at-most-two-segment wraparound read
// described by §4.4.1, assuming b.mu is held. It returns the number of
// samples actually copied.
func (b *PcmBuffer) readSegments(dest []int16, mix bool) int {
	want := len(dest)
	avail := b.filled
	if want > avail {
		want = avail
	}
	if want == 0 {
		return 0
	}

	firstLeg := b.cap - b.readPos
	if firstLeg > want {
		firstLeg = want
	}
	copyOrMix(dest[:firstLeg], b.buf[b.readPos:b.readPos+firstLeg], mix)

	remaining := want - firstLeg
	if remaining > 0 {
		copyOrMix(dest[firstLeg:firstLeg+remaining], b.buf[:remaining], mix)
	}

	b.readPos = (b.readPos + want) % b.cap
	b.filled -= want
	b.totalReceived.Add(uint32(want))
	b.cond.Broadcast()
	return want
}

func copyOrMix(dst, src []int16, mix bool) {
	if !mix {
		copy(dst, src)
		return
	}
	for i := range src {
		sum := int32(dst[i]) + int32(src[i])
		if sum > 32767 {
			sum = 32767
		} else if sum < -32768 {
			sum = -32768
		}
		dst[i] = int16(sum)
	}
}

// Clear drains the buffer entirely, equivalent to resetting read==write.
// Any blocked Send unblocks once free space reopens.
func (b *PcmBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalReceived.Add(uint32(b.filled))
	b.filled = 0
	b.readPos = b.writePos
	b.cond.Broadcast()
}

// Close unblocks any pending Send permanently; used when tearing down the
// drain buffer as part of the hard-cut clear algorithm (§4.3).
func (b *PcmBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}
