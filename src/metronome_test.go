package prolink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetronome_SnapshotAtEpochIsBeatOne(t *testing.T) {
	epoch := time.Now()
	m := NewMetronome(epoch, 120)

	snap := m.SnapshotAt(epoch)
	assert.Equal(t, int64(1), snap.Beat)
	assert.InDelta(t, 0, snap.BeatPhase, 1e-9)
}

func TestMetronome_SnapshotAtHalfwayThroughBeat(t *testing.T) {
	epoch := time.Now()
	m := NewMetronome(epoch, 120) // 500ms/beat

	snap := m.SnapshotAt(epoch.Add(250 * time.Millisecond))
	assert.Equal(t, int64(1), snap.Beat)
	assert.InDelta(t, 0.5, snap.BeatPhase, 1e-6)
}

func TestMetronome_SnapshotAtAdvancesBeatIndex(t *testing.T) {
	epoch := time.Now()
	m := NewMetronome(epoch, 120) // 500ms/beat

	snap := m.SnapshotAt(epoch.Add(1200 * time.Millisecond))
	assert.Equal(t, int64(3), snap.Beat)
	assert.InDelta(t, 0.4, snap.BeatPhase, 1e-6)
}

func TestMetronome_TimeOfBeatRoundTrip(t *testing.T) {
	epoch := time.Now()
	m := NewMetronome(epoch, 128)

	target := m.TimeOfBeat(5)
	snap := m.SnapshotAt(target)
	assert.Equal(t, int64(5), snap.Beat)
	assert.InDelta(t, 0, snap.BeatPhase, 1e-6)
}

func TestMetronome_SetTempoPreservesPhaseContinuity(t *testing.T) {
	epoch := time.Now().Add(-3 * time.Second)
	m := NewMetronome(epoch, 120)

	before := m.SnapshotAt(time.Now())
	m.SetTempo(140)
	after := m.SnapshotAt(time.Now())

	assert.Equal(t, float64(140), m.Tempo())
	assert.InDelta(t, before.BeatPhase, after.BeatPhase, 0.05)
	assert.Equal(t, before.Beat, after.Beat)
}
