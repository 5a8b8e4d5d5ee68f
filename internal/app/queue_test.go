package app

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petems/sound-detection/internal/audio"
)

func TestQueueDropsNewestWhenFull(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var got []float32

	var dropped atomic.Int32
	q := NewQueue(2, func(f audio.Frame) {
		<-release
		mu.Lock()
		got = append(got, f.Samples[0])
		mu.Unlock()
	}, func() { dropped.Add(1) })
	q.Start()

	// The first frame is taken by the worker and blocks on release; the
	// next two fill the queue; the rest are dropped.
	q.Enqueue([]float32{1}, 8000)
	deadline := time.Now().Add(time.Second)
	for len(q.frames) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first frame")
		}
		time.Sleep(time.Millisecond)
	}
	for i := 2; i <= 5; i++ {
		q.Enqueue([]float32{float32(i)}, 8000)
	}
	if dropped.Load() != 2 {
		t.Errorf("expected 2 drops, got %d", dropped.Load())
	}

	close(release)
	deadline = time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 processed frames, got %d", n)
		}
		time.Sleep(time.Millisecond)
	}
	q.Close()

	for i, want := range []float32{1, 2, 3} {
		if got[i] != want {
			t.Errorf("frame %d: expected %v, got %v", i, want, got[i])
		}
	}
}

func TestQueueCloseWithoutStart(t *testing.T) {
	q := NewQueue(1, func(audio.Frame) {}, nil)
	q.Close()
	q.Close()
	q.Enqueue([]float32{1}, 8000)
}

func TestQueueNoProcessingAfterClose(t *testing.T) {
	var processed atomic.Int32
	q := NewQueue(8, func(audio.Frame) { processed.Add(1) }, nil)
	q.Start()
	q.Close()

	q.Enqueue([]float32{1}, 8000)
	time.Sleep(10 * time.Millisecond)
	if processed.Load() != 0 {
		t.Error("expected no frames processed after Close")
	}
}
