package prolink

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time read of a Metronome's beat timeline: which
// beat is current as of Instant, and how far into that beat playback has
// progressed.
type Snapshot struct {
	Instant   time.Time
	Tempo     float64 // BPM
	Beat      int64   // 1-based beat index since the timeline's epoch
	BeatPhase float64 // 0 (start of beat) .. 1 (end of beat)
}

// Metronome models a steady BPM timeline anchored at an epoch beat, the
// abstraction the Beat Sender (C8) uses to decide exactly when the next
// beat is due without drifting relative to wall-clock time.
type Metronome struct {
	mu    sync.RWMutex
	epoch time.Time
	tempo float64
}

// NewMetronome creates a Metronome whose beat 1 starts at epoch, ticking
// at tempo BPM.
func NewMetronome(epoch time.Time, tempo float64) *Metronome {
	return &Metronome{epoch: epoch, tempo: tempo}
}

// SetTempo changes the BPM and re-anchors the epoch so that the current
// beat index and beat phase are the same at the new tempo, keeping the
// timeline continuous across a tempo change (the same rule EffectiveTempo
// changes follow in the reference device-update model).
func (m *Metronome) SetTempo(tempo float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-anchor the epoch to "now" at the old tempo's current beat so the
	// timeline does not jump discontinuously when tempo changes.
	now := time.Now()
	snap := m.snapshotAtLocked(now)
	beatsElapsed := float64(snap.Beat-1) + snap.BeatPhase
	m.tempo = tempo
	m.epoch = now.Add(-time.Duration(beatsElapsed * m.beatDurationLocked()))
}

func (m *Metronome) beatDurationLocked() float64 {
	return float64(time.Minute) / m.tempo
}

// Tempo returns the current BPM.
func (m *Metronome) Tempo() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tempo
}

// SnapshotAt returns the beat and beat-phase as of instant.
func (m *Metronome) SnapshotAt(instant time.Time) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotAtLocked(instant)
}

func (m *Metronome) snapshotAtLocked(instant time.Time) Snapshot {
	beatDur := m.beatDurationLocked()
	elapsed := instant.Sub(m.epoch)
	beatsElapsed := float64(elapsed) / beatDur

	beatIndex := int64(beatsElapsed) + 1
	phase := beatsElapsed - float64(beatIndex-1)
	if phase < 0 {
		phase = 0
	}

	return Snapshot{Instant: instant, Tempo: m.tempo, Beat: beatIndex, BeatPhase: phase}
}

// TimeOfBeat returns the wall-clock instant at which the given beat index
// begins.
func (m *Metronome) TimeOfBeat(beat int64) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	beatDur := m.beatDurationLocked()
	return m.epoch.Add(time.Duration(float64(beat-1) * beatDur))
}
