package app

import (
	"sync"

	"github.com/petems/sound-detection/internal/audio"
)

// Queue moves frame processing off the capture goroutine. Frames are
// processed one at a time in arrival order; when the queue is full the
// incoming frame is dropped so the capture goroutine never blocks.
type Queue struct {
	frames  chan audio.Frame
	process func(audio.Frame)
	onDrop  func()

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewQueue creates a queue holding up to depth frames. onDrop may be nil.
func NewQueue(depth int, process func(audio.Frame), onDrop func()) *Queue {
	if depth < 1 {
		depth = 1
	}
	return &Queue{
		frames:  make(chan audio.Frame, depth),
		process: process,
		onDrop:  onDrop,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the processing goroutine.
func (q *Queue) Start() {
	q.startOnce.Do(func() { go q.run() })
}

// Enqueue is an audio.FrameHandler.
func (q *Queue) Enqueue(samples []float32, sampleRate float64) {
	select {
	case <-q.stop:
		return
	default:
	}

	select {
	case q.frames <- audio.NewFrame(samples, sampleRate):
	default:
		if q.onDrop != nil {
			q.onDrop()
		}
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			return
		default:
		}

		select {
		case <-q.stop:
			return
		case f := <-q.frames:
			q.process(f)
		}
	}
}

// Close stops the processing goroutine and waits for it. Frames still
// queued are discarded.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.stop)
		q.startOnce.Do(func() { close(q.done) })
		<-q.done
	})
}
