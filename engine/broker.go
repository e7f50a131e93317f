package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/fortuned/stepseq"
)

type (
	// Broker carries messages between the audio goroutine, the preload and
	// recorder goroutines and the control side. Each recipient has its own
	// channel. Additionally, the broker has a sync.Pool for
	// *stepseq.AudioBuffers, so the audio goroutine can pass copies of the
	// rendered audio around without allocating every time.
	//
	// Goroutines are closed with a channel pair: a close channel with capacity
	// 1, so sending struct{}{} to it never blocks (if it is already full,
	// someone already asked for the closure), and a finished channel that is
	// only ever closed, by the goroutine when it has cleaned up. Waiting for it
	// is combined with a timeout, see TimeoutReceive.
	Broker struct {
		ToControl  chan Alert
		ToRecorder chan *stepseq.AudioBuffer

		bufferPool sync.Pool
	}

	// Alert is a non-fatal condition noticed off the control goroutine, for
	// example a sample that failed to decode in the audio callback.
	Alert struct {
		Type    AlertType
		Message string
		Time    time.Time
	}

	// AlertType is the severity of an Alert.
	AlertType int
)

const (
	None AlertType = iota
	Notify
	Warning
	Error
)

// NewBroker returns a broker with buffered channels and an empty buffer pool.
func NewBroker() *Broker {
	return &Broker{
		ToControl:  make(chan Alert, 1024),
		ToRecorder: make(chan *stepseq.AudioBuffer, 1024),
		bufferPool: sync.Pool{New: func() any { return &stepseq.AudioBuffer{} }},
	}
}

// Alertf sends an alert to the control side without blocking. The alert is
// dropped if the channel is full.
func (b *Broker) Alertf(t AlertType, format string, args ...any) {
	TrySend(b.ToControl, Alert{Type: t, Message: fmt.Sprintf(format, args...), Time: time.Now()})
}

// GetAudioBuffer returns an audio buffer from the buffer pool. The buffer is
// guaranteed to be empty. After using the buffer, it should be returned to the
// pool with PutAudioBuffer.
func (b *Broker) GetAudioBuffer() *stepseq.AudioBuffer {
	return b.bufferPool.Get().(*stepseq.AudioBuffer)
}

// PutAudioBuffer returns an audio buffer to the buffer pool. Its length is
// reset, but the capacity kept.
func (b *Broker) PutAudioBuffer(buf *stepseq.AudioBuffer) {
	if len(*buf) > 0 {
		*buf = (*buf)[:0]
	}
	b.bufferPool.Put(buf)
}

func (t AlertType) String() string {
	switch t {
	case Notify:
		return "notify"
	case Warning:
		return "warning"
	case Error:
		return "error"
	}
	return "none"
}

// TrySend sends a value to a channel if it is not full. It is guaranteed to be
// non-blocking. Returns true if the value was sent, false otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive blocks until a value is received from a channel, or times
// out after t. ok will be false if the timeout occurred or if the channel is
// closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
