package state

import (
	"sync"
	"testing"
	"time"

	"github.com/petems/sound-detection/internal/audio"
)

// frameN returns a one-sample frame tagged with n.
func frameN(n int) audio.Frame {
	return audio.Frame{Samples: []float32{float32(n)}, SampleRate: 48000}
}

func TestHistoryKeepsNewestFrames(t *testing.T) {
	m := New()
	for i := 1; i <= 35; i++ {
		m.PushFrame(frameN(i))
	}

	h := m.Snapshot().History
	if len(h) != HistoryCapacity {
		t.Fatalf("expected %d frames, got %d", HistoryCapacity, len(h))
	}
	for i, f := range h {
		if want := float32(i + 6); f.Samples[0] != want {
			t.Errorf("history[%d]: expected frame %v, got %v", i, want, f.Samples[0])
		}
	}
}

func TestPublishedSnapshotIsNotMutatedByLaterPushes(t *testing.T) {
	m := New()
	for i := 1; i <= HistoryCapacity; i++ {
		m.PushFrame(frameN(i))
	}
	before := m.Snapshot()
	m.PushFrame(frameN(99))

	if before.History[0].Samples[0] != 1 || len(before.History) != HistoryCapacity {
		t.Error("expected earlier snapshot to be unchanged")
	}
}

func TestSettersPublishUnconditionally(t *testing.T) {
	m := New()
	m.SetBlowing(true)
	m.SetBlowing(true)
	m.SetWhistling(false)

	s := m.Snapshot()
	if !s.Blowing || s.Whistling {
		t.Errorf("unexpected flags: %+v", s)
	}
	if s.Seq != 3 {
		t.Errorf("expected 3 publishes, got %d", s.Seq)
	}
	if !m.IsBlowing() || m.IsWhistling() {
		t.Error("accessors disagree with snapshot")
	}
}

func TestApplyUpdatesFlagsAndHistoryTogether(t *testing.T) {
	m := New()
	s := m.Apply(true, true, frameN(1))
	if !s.Blowing || !s.Whistling || len(s.History) != 1 || s.Seq != 1 {
		t.Errorf("unexpected snapshot: %+v", s)
	}
	s = m.Apply(false, true, frameN(2))
	if s.Blowing || !s.Whistling || len(s.History) != 2 {
		t.Errorf("unexpected snapshot: %+v", s)
	}
}

func TestSubscribeDeliversLatest(t *testing.T) {
	m := New()
	ch, cancel := m.Subscribe()
	defer cancel()

	// Never read in between: the writer must not block.
	for i := 1; i <= 10; i++ {
		m.Apply(i%2 == 0, false, frameN(i))
	}

	select {
	case s := <-ch:
		if s.Seq != 10 {
			t.Errorf("expected latest snapshot (seq 10), got seq %d", s.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a snapshot")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := New()
	ch, cancel := m.Subscribe()
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
	m.SetBlowing(true)
}

func TestConcurrentReaders(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := m.Snapshot()
				if len(s.History) > HistoryCapacity {
					t.Errorf("history exceeded capacity: %d", len(s.History))
					return
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		m.Apply(i%3 == 0, i%5 == 0, frameN(i))
	}
	close(stop)
	wg.Wait()
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name    string
		history []audio.Frame
		want    []float64
	}{
		{"empty", nil, []float64{}},
		{"silent", []audio.Frame{{Samples: []float32{0, 0}}, {Samples: []float32{0}}}, []float64{0, 0}},
		{
			"peak normalised",
			[]audio.Frame{{Samples: []float32{0.25, -0.25}}, {Samples: []float32{0.5, -0.5}}},
			[]float64{0.5, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Snapshot{History: tt.history}.Levels()
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if diff := got[i] - tt.want[i]; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("level %d: expected %f, got %f", i, tt.want[i], got[i])
				}
			}
		})
	}
}
