// Package state holds the published detection flags and the recent frame
// history. There is a single writer (the frame pipeline) and any number of
// readers. Readers never take the writer's lock and the writer never waits
// for a subscriber.
package state

import (
	"sync"
	"sync/atomic"

	"github.com/petems/sound-detection/internal/audio"
	"github.com/petems/sound-detection/internal/detect"
	"gonum.org/v1/gonum/floats"
)

// HistoryCapacity is the number of frames kept for visualization.
const HistoryCapacity = 30

// Snapshot is an immutable view of the monitor. History is ordered oldest
// first and must not be modified by the caller.
type Snapshot struct {
	Blowing   bool
	Whistling bool
	History   []audio.Frame
	// Seq increases by one on every publish.
	Seq uint64
}

// Levels returns the RMS of each history frame divided by the largest one.
func (s Snapshot) Levels() []float64 {
	levels := make([]float64, len(s.History))
	for i, f := range s.History {
		levels[i] = detect.RMS(f.Float64s())
	}
	if len(levels) == 0 {
		return levels
	}
	if peak := floats.Max(levels); peak > 0 {
		floats.Scale(1/peak, levels)
	}
	return levels
}

type Monitor struct {
	current atomic.Pointer[Snapshot]

	// wmu serialises writers; the pipeline is the only one in practice.
	wmu sync.Mutex

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}
}

func New() *Monitor {
	m := &Monitor{subs: make(map[chan Snapshot]struct{})}
	m.current.Store(&Snapshot{})
	return m
}

// Snapshot returns the last published state.
func (m *Monitor) Snapshot() Snapshot {
	return *m.current.Load()
}

func (m *Monitor) IsBlowing() bool {
	return m.current.Load().Blowing
}

func (m *Monitor) IsWhistling() bool {
	return m.current.Load().Whistling
}

// SetBlowing publishes v even if it is unchanged.
func (m *Monitor) SetBlowing(v bool) {
	m.update(func(s *Snapshot) { s.Blowing = v })
}

// SetWhistling publishes v even if it is unchanged.
func (m *Monitor) SetWhistling(v bool) {
	m.update(func(s *Snapshot) { s.Whistling = v })
}

// PushFrame appends f to the history, evicting the oldest frame beyond
// HistoryCapacity.
func (m *Monitor) PushFrame(f audio.Frame) {
	m.update(func(s *Snapshot) { s.History = appendCapped(s.History, f) })
}

// Apply publishes both flags and the frame as a single update, so observers
// never see the flags of one frame next to the history of another.
func (m *Monitor) Apply(blowing, whistling bool, f audio.Frame) Snapshot {
	return m.update(func(s *Snapshot) {
		s.Blowing = blowing
		s.Whistling = whistling
		s.History = appendCapped(s.History, f)
	})
}

func (m *Monitor) update(mutate func(*Snapshot)) Snapshot {
	m.wmu.Lock()
	defer m.wmu.Unlock()

	next := *m.current.Load()
	mutate(&next)
	next.Seq++
	m.current.Store(&next)
	m.publish(next)
	return next
}

// appendCapped returns a new slice so published snapshots stay immutable.
func appendCapped(history []audio.Frame, f audio.Frame) []audio.Frame {
	start := 0
	if len(history) >= HistoryCapacity {
		start = len(history) - HistoryCapacity + 1
	}
	out := make([]audio.Frame, 0, HistoryCapacity)
	out = append(out, history[start:]...)
	return append(out, f)
}

// Subscribe returns a channel that receives the latest snapshot after each
// publish. A slow reader only ever misses intermediate snapshots. The
// returned func unsubscribes and closes the channel.
func (m *Monitor) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, ch)
			close(ch)
			m.subMu.Unlock()
		})
	}
}

func (m *Monitor) publish(s Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for ch := range m.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// Full: replace the stale snapshot with this one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}
