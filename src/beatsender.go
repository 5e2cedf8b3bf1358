package prolink

import (
	"sync"
	"time"
)

// Timing thresholds for the Beat Sender's hybrid sleep/busy-wait loop
// (§4.8): sleep in large chunks until within beatThreshold of the next
// beat, then busy-wait the last stretch (shorter than sleepThreshold is
// pointless to sleep for — the OS scheduler's own jitter would overshoot
// it) for sub-millisecond beat emission accuracy.
const (
	beatThreshold  = 10 * time.Millisecond
	sleepThreshold = 5 * time.Millisecond
)

// BeatSender drives a Metronome and emits a Beat broadcast on every beat
// boundary via the supplied send function, matching a real CDJ's
// heartbeat. A Virtual CDJ runs its BeatSender while it is marked playing
// (see VirtualCDJ.SetPlaying), whether or not it holds the tempo-master
// role.
type BeatSender struct {
	lifecycle

	mu        sync.Mutex
	metronome *Metronome
	send      func(beatIndex int64, snap Snapshot)

	stopCh chan struct{}
	doneCh chan struct{}

	changed chan struct{}
}

// NewBeatSender constructs a stopped BeatSender. send is called once per
// beat boundary with the beat index and the Snapshot at that boundary; it
// should be fast (building and broadcasting a Beat datagram), since the
// timing loop blocks on it.
func NewBeatSender(metronome *Metronome, send func(beatIndex int64, snap Snapshot)) *BeatSender {
	return &BeatSender{
		lifecycle: newLifecycle("beatsender"),
		metronome: metronome,
		send:      send,
		changed:   make(chan struct{}, 1),
	}
}

// Start begins the timing loop.
func (s *BeatSender) Start() error {
	if s.IsRunning() {
		return newErr(ErrAlreadyRunning, "beat sender already running")
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.setRunning(true)
	go s.run()
	return nil
}

// Stop halts the timing loop and waits for it to exit.
func (s *BeatSender) Stop() error {
	if !s.IsRunning() {
		return nil
	}
	s.setRunning(false)
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// TimelineChanged wakes the timing loop immediately so a tempo or epoch
// change (SetTempo on the underlying Metronome) is reflected in the next
// beat's timing rather than waiting out a stale sleep.
func (s *BeatSender) TimelineChanged() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *BeatSender) run() {
	defer close(s.doneCh)

	lastSent := int64(0)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		now := time.Now()
		snap := s.metronome.SnapshotAt(now)
		nextBeat := snap.Beat
		if nextBeat <= lastSent {
			nextBeat = lastSent + 1
		}
		target := s.metronome.TimeOfBeat(nextBeat)
		wait := target.Sub(now)

		if wait > beatThreshold {
			sleepFor := wait - sleepThreshold
			timer := time.NewTimer(sleepFor)
			select {
			case <-s.stopCh:
				timer.Stop()
				return
			case <-s.changed:
				timer.Stop()
				continue
			case <-timer.C:
			}
			continue
		}

		if wait > 0 {
			// Busy-wait the final stretch: sleeping this short a duration is
			// dominated by scheduler wakeup jitter, which would blow past
			// the beat boundary.
			for time.Now().Before(target) {
				select {
				case <-s.stopCh:
					return
				default:
				}
			}
		}

		emitAt := s.metronome.SnapshotAt(time.Now())
		s.send(nextBeat, emitAt)
		lastSent = nextBeat
	}
}
