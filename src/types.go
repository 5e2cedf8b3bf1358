package prolink

import (
	"hash/fnv"
	"net"
	"net/netip"
	"sync"
	"time"
)

// DeviceReference is the identity tuple (device number, IPv4 address) for a
// device observed on the network. Construction is interned: GetDeviceRef
// always returns the same *DeviceReference for the same tuple, so callers
// may compare references with == instead of deep-comparing fields.
type DeviceReference struct {
	Number  uint8
	Address netip.Addr
}

const deviceRefShardCount = 16

type deviceRefShard struct {
	mu    sync.Mutex
	byKey map[DeviceReference]*DeviceReference
}

var deviceRefShards = func() [deviceRefShardCount]*deviceRefShard {
	var shards [deviceRefShardCount]*deviceRefShard
	for i := range shards {
		shards[i] = &deviceRefShard{byKey: make(map[DeviceReference]*DeviceReference)}
	}
	return shards
}()

func deviceRefShardFor(key DeviceReference) *deviceRefShard {
	h := fnv.New32a()
	h.Write([]byte{key.Number})
	if b, err := key.Address.MarshalBinary(); err == nil {
		h.Write(b)
	}
	return deviceRefShards[h.Sum32()%deviceRefShardCount]
}

// GetDeviceRef returns the canonical *DeviceReference for (number, addr),
// constructing and interning it on first use.
func GetDeviceRef(number uint8, addr netip.Addr) *DeviceReference {
	key := DeviceReference{Number: number, Address: addr}
	shard := deviceRefShardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if ref, ok := shard.byKey[key]; ok {
		return ref
	}
	ref := &DeviceReference{Number: number, Address: addr}
	shard.byKey[key] = ref
	return ref
}

// DeviceAnnouncement is the immutable record derived from a device's
// periodic keep-alive broadcast on port 50000.
type DeviceAnnouncement struct {
	Address    netip.Addr
	Timestamp  time.Time
	Name       string
	Number     uint8
	MAC        net.HardwareAddr
	PeerCount  uint8
	IsOpusQuad bool
	IsXDJAZ    bool
	Raw        []byte
}

// Reference returns the canonical DeviceReference for this announcement.
func (a *DeviceAnnouncement) Reference() *DeviceReference {
	return GetDeviceRef(a.Number, a.Address)
}

// UpdateKind discriminates the DeviceUpdate sum type.
type UpdateKind int

const (
	UpdateCdjStatus UpdateKind = iota
	UpdateMixerStatus
	UpdateBeat
	UpdatePrecisePosition
	UpdateMediaDetails
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateCdjStatus:
		return "CdjStatus"
	case UpdateMixerStatus:
		return "MixerStatus"
	case UpdateBeat:
		return "Beat"
	case UpdatePrecisePosition:
		return "PrecisePosition"
	case UpdateMediaDetails:
		return "MediaDetails"
	default:
		return "Unknown"
	}
}

// UpdateCommon holds the envelope fields shared by every DeviceUpdate
// variant.
type UpdateCommon struct {
	Address      netip.Addr
	Timestamp    time.Time
	DeviceName   string
	DeviceNumber uint8
	Raw          []byte
}

// Reference returns the canonical DeviceReference for this update's
// envelope.
func (c UpdateCommon) Reference() *DeviceReference {
	return GetDeviceRef(c.DeviceNumber, c.Address)
}

// NoMasterHandoff is the sentinel handing-master-to-device value (0xff)
// meaning "not currently handing off to anyone."
const NoMasterHandoff uint8 = 0xff

// DeviceUpdate is the tagged-variant sum type for everything received on
// the beat (50001) and update (50002) sockets, replacing the reference
// implementation's polymorphic DeviceUpdate subclasses with a closed set
// of concrete types plus a Kind discriminator. Callers that used to call
// virtual methods like IsTempoMaster or GetEffectiveTempo read those
// directly off the concrete variant, or through these interface methods
// when the concrete type is not needed.
type DeviceUpdate interface {
	Kind() UpdateKind
	Common() UpdateCommon
	Reference() *DeviceReference
	// EffectiveTempo is BPM * pitch multiplier. MediaDetails has no
	// tempo and returns 0.
	EffectiveTempo() float64
	IsTempoMaster() bool
	// IsBeatWithinBarMeaningful reports whether BeatWithinBar() carries
	// real musical position. Always false for MixerStatus, MediaDetails,
	// and (absent external context) PrecisePosition — see
	// PrecisePositionBeatWithinBarMeaningful for the context-aware
	// answer the reference implementation computes via the Virtual CDJ.
	IsBeatWithinBarMeaningful() bool
	BeatWithinBar() uint8
	// HandingMasterTo returns the device number this update's sender is
	// yielding master to, and whether it is handing off at all.
	HandingMasterTo() (uint8, bool)
}

// TrackSlot identifies the media slot a track is loaded from.
type TrackSlot uint8

const (
	TrackSlotNone TrackSlot = 0
	TrackSlotCD   TrackSlot = 1
	TrackSlotSD   TrackSlot = 2
	TrackSlotUSB  TrackSlot = 3
	TrackSlotRB   TrackSlot = 4
)

// TrackType identifies the kind of media a track came from.
type TrackType uint8

const (
	TrackTypeNone       TrackType = 0
	TrackTypeRekordbox  TrackType = 1
	TrackTypeUnanalyzed TrackType = 2
	TrackTypeCDDigital  TrackType = 5
)

// CdjStatus is the status packet broadcast by a CDJ-family player.
type CdjStatus struct {
	Env UpdateCommon

	Pitch             uint32
	BPMx100           uint16
	BeatWithinBarNum  uint8

	Playing    bool
	Master     bool
	Synced     bool
	OnAir      bool
	Busy       bool
	Looping    bool
	HandingOff bool

	SourcePlayer uint8
	SourceSlot   TrackSlot
	TrackType    TrackType
	TrackNumber  uint16

	LoopStart    uint32
	LoopEnd      uint32
	CueCountdown uint16

	Firmware string

	// HandingMasterToDevice is the device number this status is handing
	// master to, or NoMasterHandoff.
	HandingMasterToDevice uint8
}

func (s *CdjStatus) Kind() UpdateKind            { return UpdateCdjStatus }
func (s *CdjStatus) Common() UpdateCommon        { return s.Env }
func (s *CdjStatus) Reference() *DeviceReference { return s.Env.Reference() }
func (s *CdjStatus) EffectiveTempo() float64 {
	return float64(s.BPMx100) / 100.0 * PitchToMultiplier(s.Pitch)
}
func (s *CdjStatus) IsTempoMaster() bool             { return s.Master }
func (s *CdjStatus) IsBeatWithinBarMeaningful() bool { return true }
func (s *CdjStatus) BeatWithinBar() uint8            { return s.BeatWithinBarNum }
func (s *CdjStatus) HandingMasterTo() (uint8, bool) {
	if s.HandingMasterToDevice == NoMasterHandoff {
		return 0, false
	}
	return s.HandingMasterToDevice, true
}

// MixerStatus is the status packet broadcast by a mixer.
type MixerStatus struct {
	Env UpdateCommon

	Pitch            uint32
	BPMx100          uint16
	BeatWithinBarNum uint8 // not musically meaningful for a mixer

	Master bool
	Synced bool

	HandingMasterToDevice uint8
}

func (s *MixerStatus) Kind() UpdateKind            { return UpdateMixerStatus }
func (s *MixerStatus) Common() UpdateCommon        { return s.Env }
func (s *MixerStatus) Reference() *DeviceReference { return s.Env.Reference() }
func (s *MixerStatus) EffectiveTempo() float64 {
	return float64(s.BPMx100) / 100.0 * PitchToMultiplier(s.Pitch)
}
func (s *MixerStatus) IsTempoMaster() bool             { return s.Master }
func (s *MixerStatus) IsBeatWithinBarMeaningful() bool { return false }
func (s *MixerStatus) BeatWithinBar() uint8            { return s.BeatWithinBarNum }
func (s *MixerStatus) HandingMasterTo() (uint8, bool) {
	if s.HandingMasterToDevice == NoMasterHandoff {
		return 0, false
	}
	return s.HandingMasterToDevice, true
}

// Beat is a beat broadcast: the per-beat heartbeat every device (real or
// virtual) emits on port 50001. It carries no track source/slot and never
// yields master (the field is terminal per §3).
type Beat struct {
	Env UpdateCommon

	Pitch            uint32
	BPMx100          uint16
	BeatWithinBarNum uint8
}

func (b *Beat) Kind() UpdateKind            { return UpdateBeat }
func (b *Beat) Common() UpdateCommon        { return b.Env }
func (b *Beat) Reference() *DeviceReference { return b.Env.Reference() }
func (b *Beat) EffectiveTempo() float64 {
	return float64(b.BPMx100) / 100.0 * PitchToMultiplier(b.Pitch)
}
func (b *Beat) IsTempoMaster() bool             { return false }
func (b *Beat) IsBeatWithinBarMeaningful() bool { return true }
func (b *Beat) BeatWithinBar() uint8            { return b.BeatWithinBarNum }
func (b *Beat) HandingMasterTo() (uint8, bool)  { return 0, false }

// PrecisePosition is the high-resolution playback position report emitted
// by CDJ-3000-class hardware.
type PrecisePosition struct {
	Env UpdateCommon

	TrackLengthSeconds     uint32
	PlaybackPositionMillis uint32
	PitchPercentX100       int32
	BPMx100                uint16
}

func (p *PrecisePosition) Kind() UpdateKind            { return UpdatePrecisePosition }
func (p *PrecisePosition) Common() UpdateCommon        { return p.Env }
func (p *PrecisePosition) Reference() *DeviceReference { return p.Env.Reference() }
func (p *PrecisePosition) EffectiveTempo() float64 {
	mult := 1.0 + float64(p.PitchPercentX100)/10000.0
	return float64(p.BPMx100) / 100.0 * mult
}
func (p *PrecisePosition) IsTempoMaster() bool { return false }

// IsBeatWithinBarMeaningful always returns false without further context:
// per §9's open question the reference implementation delegates this to
// the latest CDJ status seen via the Virtual CDJ, which can fail if no
// Virtual CDJ is running. Use PrecisePositionBeatWithinBarMeaningful for
// that context-aware, error-returning answer rather than trusting this
// default.
func (p *PrecisePosition) IsBeatWithinBarMeaningful() bool { return false }
func (p *PrecisePosition) BeatWithinBar() uint8            { return 0 }
func (p *PrecisePosition) HandingMasterTo() (uint8, bool)  { return 0, false }

// PrecisePositionBeatWithinBarMeaningful resolves §9's open question
// explicitly: it is meaningful exactly when vcdj is running and has a
// cached CdjStatus for the same device reporting Playing, matching the
// reference implementation's delegation instead of silently defaulting.
func PrecisePositionBeatWithinBarMeaningful(vcdj *VirtualCDJ, p *PrecisePosition) (bool, error) {
	if vcdj == nil || !vcdj.IsRunning() {
		return false, newErr(ErrNotRunning, "virtual CDJ is not running")
	}
	latest := vcdj.GetLatestStatusFor(p.Reference())
	status, ok := latest.(*CdjStatus)
	if !ok {
		return false, nil
	}
	return status.Playing, nil
}

// MediaDetails carries the envelope around a rekordbox media-slot
// notification (LOAD_TRACK_ACK / MEDIA_RESPONSE); Raw is handed to the
// dbserver reply parsers when decoded metadata is wanted.
type MediaDetails struct {
	Env UpdateCommon

	Slot        TrackSlot
	TrackType   TrackType
	TrackNumber uint16
}

func (m *MediaDetails) Kind() UpdateKind               { return UpdateMediaDetails }
func (m *MediaDetails) Common() UpdateCommon           { return m.Env }
func (m *MediaDetails) Reference() *DeviceReference    { return m.Env.Reference() }
func (m *MediaDetails) EffectiveTempo() float64         { return 0 }
func (m *MediaDetails) IsTempoMaster() bool             { return false }
func (m *MediaDetails) IsBeatWithinBarMeaningful() bool { return false }
func (m *MediaDetails) BeatWithinBar() uint8            { return 0 }
func (m *MediaDetails) HandingMasterTo() (uint8, bool)  { return 0, false }
