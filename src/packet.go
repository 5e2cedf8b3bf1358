package prolink

import (
	"net/netip"
	"sync"
	"time"
)

// Minimum lengths per §4.2 / §6. Oversize packets are accepted; a given
// (kind, length) combination is logged at most once via oversizeLogger.
const (
	minLenAnnouncement     = 54
	minLenBeat             = 96
	minLenMixerStatus      = 0x38
	minLenCdjStatus        = 0xd4
	minLenPrecisePosition  = 0x3c
	minLenMediaDetails     = 0xc0
)

// Generic device-name field offset/length used by every packet type except
// the keep-alive, whose name field sits at a different offset (§6).
const (
	nameOffsetGeneric = 11
	nameOffsetKeepAlive = 12
	nameLen             = 20
)

var oversizeOnce sync.Map // key: [2]int{kind, length} -> struct{}

func logOversizeOnce(kind PacketType, length int) {
	key := [2]int{int(kind), length}
	if _, loaded := oversizeOnce.LoadOrStore(key, struct{}{}); !loaded {
		componentLogger("codec").Warnf("oversize packet kind=%v length=%d", kind, length)
	}
}

// ParseDeviceAnnouncement decodes a 54+ byte keep-alive datagram.
func ParseDeviceAnnouncement(raw []byte, addr netip.Addr, now time.Time) (*DeviceAnnouncement, error) {
	if len(raw) < minLenAnnouncement {
		return nil, newErr(ErrPacketTooShort, "announcement shorter than 54 bytes")
	}
	if len(raw) > minLenAnnouncement {
		logOversizeOnce(PacketDeviceKeepAlive, len(raw))
	}

	flags := raw[37]

	return &DeviceAnnouncement{
		Address:    addr,
		Timestamp:  now,
		Name:       trimName(raw[nameOffsetKeepAlive : nameOffsetKeepAlive+nameLen]),
		Number:     raw[36],
		MAC:        append([]byte(nil), raw[38:44]...),
		PeerCount:  raw[48],
		IsOpusQuad: flags&0x01 != 0,
		IsXDJAZ:    flags&0x02 != 0,
		Raw:        append([]byte(nil), raw...),
	}, nil
}

// deviceNumberOffset is the byte offset of the device number field in
// status-family packets (beat, CDJ status, mixer status) per §6.
const deviceNumberOffset = 33

func commonEnvelope(raw []byte, addr netip.Addr, now time.Time) UpdateCommon {
	return UpdateCommon{
		Address:      addr,
		Timestamp:    now,
		DeviceName:   trimName(raw[nameOffsetGeneric : nameOffsetGeneric+nameLen]),
		DeviceNumber: raw[deviceNumberOffset],
		Raw:          append([]byte(nil), raw...),
	}
}

// ParseBeat decodes a 96+ byte beat packet.
func ParseBeat(raw []byte, addr netip.Addr, now time.Time) (*Beat, error) {
	if len(raw) < minLenBeat {
		return nil, newErr(ErrPacketTooShort, "beat shorter than 96 bytes")
	}
	if len(raw) > minLenBeat {
		logOversizeOnce(PacketBeat, len(raw))
	}

	return &Beat{
		Env:              commonEnvelope(raw, addr, now),
		Pitch:            uint32(bytesToNumber(raw, 85, 3)),
		BPMx100:          uint16(bytesToNumber(raw, 90, 2)),
		BeatWithinBarNum: raw[92],
	}, nil
}

// payloadOffset returns the BuildPacket-payload-relative index for an
// absolute wire offset, given BuildPacket lays payload down right after
// the 31 byte magic+type+name prefix.
func payloadOffset(absolute int) int { return absolute - (minPacketHeaderLen + nameLen) }

// EncodeBeat builds the outbound datagram for a Beat, the inverse of
// ParseBeat over the fields it carries.
func EncodeBeat(deviceName string, pitch uint32, bpmX100 uint16, beatWithinBar uint8) []byte {
	payload := make([]byte, minLenBeat-(minPacketHeaderLen+nameLen))
	putNumber(payload, payloadOffset(85), 3, uint64(pitch))
	putNumber(payload, payloadOffset(90), 2, uint64(bpmX100))
	payload[payloadOffset(92)] = beatWithinBar
	return BuildPacket(byte(tbBeat), deviceName, payload)
}

// ParseMixerStatus decodes a 0x38+ byte mixer status packet.
func ParseMixerStatus(raw []byte, addr netip.Addr, now time.Time) (*MixerStatus, error) {
	if len(raw) < minLenMixerStatus {
		return nil, newErr(ErrPacketTooShort, "mixer status shorter than minimum")
	}
	if len(raw) > minLenMixerStatus {
		logOversizeOnce(PacketMixerStatus, len(raw))
	}

	handoff := raw[0x36]
	flags := raw[0x27]

	return &MixerStatus{
		Env:              commonEnvelope(raw, addr, now),
		Pitch:            uint32(bytesToNumber(raw, 0x28, 4)),
		BPMx100:          uint16(bytesToNumber(raw, 0x2E, 2)),
		BeatWithinBarNum: raw[55],
		Master:           flags&0x01 != 0,
		Synced:           flags&0x02 != 0,
		HandingMasterToDevice: handoff,
	}, nil
}

// cdjFlagsOffset and bit positions for CdjStatus's status-flags byte. The
// exact firmware layout beyond the fields spec.md enumerates is
// unspecified and varies by model; this offset/bit assignment is this
// implementation's own consistent choice, tolerant of longer packets from
// newer firmware (§4.2, §9).
const cdjFlagsOffset = 0x89

const (
	cdjFlagPlaying = 1 << iota
	cdjFlagMaster
	cdjFlagSynced
	cdjFlagOnAir
	cdjFlagBusy
	cdjFlagLooping
	cdjFlagHandingOff
)

// ParseCdjStatus decodes a 0xd4+ byte CDJ status packet.
func ParseCdjStatus(raw []byte, addr netip.Addr, now time.Time) (*CdjStatus, error) {
	if len(raw) < minLenCdjStatus {
		return nil, newErr(ErrPacketTooShort, "CDJ status shorter than minimum")
	}
	if len(raw) > minLenCdjStatus {
		logOversizeOnce(PacketCDJStatus, len(raw))
	}

	flags := raw[cdjFlagsOffset]
	handoff := raw[0xa4]

	return &CdjStatus{
		Env:              commonEnvelope(raw, addr, now),
		Pitch:            uint32(bytesToNumber(raw, 0x8d, 3)),
		BPMx100:          uint16(bytesToNumber(raw, 0x92, 2)),
		BeatWithinBarNum: raw[0x9c],

		Playing:    flags&cdjFlagPlaying != 0,
		Master:     flags&cdjFlagMaster != 0,
		Synced:     flags&cdjFlagSynced != 0,
		OnAir:      flags&cdjFlagOnAir != 0,
		Busy:       flags&cdjFlagBusy != 0,
		Looping:    flags&cdjFlagLooping != 0,
		HandingOff: flags&cdjFlagHandingOff != 0,

		SourcePlayer: raw[0x28],
		SourceSlot:   TrackSlot(raw[0x29]),
		TrackType:    TrackType(raw[0x2a]),
		TrackNumber:  uint16(bytesToNumber(raw, 0x2c, 2)),

		LoopStart:    uint32(bytesToNumber(raw, 0x90+4, 4)),
		LoopEnd:      uint32(bytesToNumber(raw, 0x90+8, 4)),
		CueCountdown: uint16(bytesToNumber(raw, 0xa6, 2)),

		Firmware: trimName(raw[0x7c : 0x7c+4]),

		HandingMasterToDevice: handoff,
	}, nil
}

// EncodeCdjStatus builds an outbound status datagram with the subset of
// fields the Virtual CDJ needs to assert (pitch, bpm, beat-within-bar, role
// flags, handoff target); other bytes are zeroed.
func EncodeCdjStatus(deviceName string, s *CdjStatus) []byte {
	payload := make([]byte, minLenCdjStatus-(minPacketHeaderLen+nameLen))
	o := payloadOffset

	putNumber(payload, o(0x8d), 3, uint64(s.Pitch))
	putNumber(payload, o(0x92), 2, uint64(s.BPMx100))
	payload[o(0x9c)] = s.BeatWithinBarNum

	var flags byte
	if s.Playing {
		flags |= cdjFlagPlaying
	}
	if s.Master {
		flags |= cdjFlagMaster
	}
	if s.Synced {
		flags |= cdjFlagSynced
	}
	if s.OnAir {
		flags |= cdjFlagOnAir
	}
	if s.Busy {
		flags |= cdjFlagBusy
	}
	if s.Looping {
		flags |= cdjFlagLooping
	}
	if s.HandingOff {
		flags |= cdjFlagHandingOff
	}
	payload[o(cdjFlagsOffset)] = flags

	payload[o(0x28)] = s.SourcePlayer
	payload[o(0x29)] = byte(s.SourceSlot)
	payload[o(0x2a)] = byte(s.TrackType)
	putNumber(payload, o(0x2c), 2, uint64(s.TrackNumber))

	putNumber(payload, o(0x94), 4, uint64(s.LoopStart))
	putNumber(payload, o(0x98), 4, uint64(s.LoopEnd))
	putNumber(payload, o(0xa6), 2, uint64(s.CueCountdown))

	copy(payload[o(0x7c):o(0x7c)+4], padName(s.Firmware, 4))

	handoff := s.HandingMasterToDevice
	if handoff == 0 {
		handoff = NoMasterHandoff
	}
	payload[o(0xa4)] = handoff

	return BuildPacket(byte(tbCDJStatus), deviceName, payload)
}

// ParsePrecisePosition decodes a 0x3c+ byte precise-position packet
// (CDJ-3000 and later).
func ParsePrecisePosition(raw []byte, addr netip.Addr, now time.Time) (*PrecisePosition, error) {
	if len(raw) < minLenPrecisePosition {
		return nil, newErr(ErrPacketTooShort, "precise position shorter than minimum")
	}
	if len(raw) > minLenPrecisePosition {
		logOversizeOnce(PacketPrecisePosition, len(raw))
	}

	return &PrecisePosition{
		Env:                    commonEnvelope(raw, addr, now),
		TrackLengthSeconds:     uint32(bytesToNumber(raw, 0x24, 4)),
		PlaybackPositionMillis: uint32(bytesToNumber(raw, 0x28, 4)),
		PitchPercentX100:       int32(bytesToNumber(raw, 0x2C, 4)),
		BPMx100:                uint16(bytesToNumber(raw, 0x38, 2)),
	}, nil
}

// ParseMediaDetails decodes a 0xc0+ byte LOAD_TRACK_ACK/MEDIA_RESPONSE
// packet. The metadata payload beyond slot/type/number is left in Raw for
// the dbserver parsers.
func ParseMediaDetails(raw []byte, addr netip.Addr, now time.Time) (*MediaDetails, error) {
	if len(raw) < minLenMediaDetails {
		return nil, newErr(ErrPacketTooShort, "media details shorter than minimum")
	}
	if len(raw) > minLenMediaDetails {
		logOversizeOnce(PacketMediaResponse, len(raw))
	}

	return &MediaDetails{
		Env:         commonEnvelope(raw, addr, now),
		Slot:        TrackSlot(raw[0x28]),
		TrackType:   TrackType(raw[0x29]),
		TrackNumber: uint16(bytesToNumber(raw, 0x2c, 2)),
	}, nil
}

// SyncControlMessage asks (or tells) a device to enable/disable sync.
type SyncControlMessage struct {
	DeviceNumber uint8
	Enabled      bool
}

// EncodeSyncControl builds an outbound sync-control datagram.
func EncodeSyncControl(deviceName string, msg SyncControlMessage) []byte {
	payload := make([]byte, 2)
	payload[0] = msg.DeviceNumber
	if msg.Enabled {
		payload[1] = 1
	}
	return BuildPacket(byte(tbSyncControl), deviceName, payload)
}

// DecodeSyncControl parses a sync-control datagram's payload (the bytes
// following the common header+name).
func DecodeSyncControl(raw []byte) (SyncControlMessage, error) {
	if len(raw) < minPacketHeaderLen+nameLen+2 {
		return SyncControlMessage{}, newErr(ErrPacketTooShort, "sync control shorter than minimum")
	}
	body := raw[minPacketHeaderLen+nameLen:]
	return SyncControlMessage{
		DeviceNumber: body[0],
		Enabled:      body[1] != 0,
	}, nil
}

// MasterHandoffRequest asks the receiving device to yield the tempo-master
// role to RequestingDevice.
type MasterHandoffRequest struct {
	RequestingDevice uint8
}

// EncodeMasterHandoffRequest builds the outbound datagram.
func EncodeMasterHandoffRequest(deviceName string, req MasterHandoffRequest) []byte {
	return BuildPacket(byte(tbMasterHandoffRequest), deviceName, []byte{req.RequestingDevice})
}

// DecodeMasterHandoffRequest parses a handoff-request datagram's payload.
func DecodeMasterHandoffRequest(raw []byte) (MasterHandoffRequest, error) {
	if len(raw) < minPacketHeaderLen+nameLen+1 {
		return MasterHandoffRequest{}, newErr(ErrPacketTooShort, "handoff request shorter than minimum")
	}
	return MasterHandoffRequest{RequestingDevice: raw[minPacketHeaderLen+nameLen]}, nil
}

// MasterHandoffResponse grants or denies a MasterHandoffRequest.
type MasterHandoffResponse struct {
	RequestingDevice uint8
	Granted          bool
}

// EncodeMasterHandoffResponse builds the outbound datagram.
func EncodeMasterHandoffResponse(deviceName string, resp MasterHandoffResponse) []byte {
	granted := byte(0)
	if resp.Granted {
		granted = 1
	}
	return BuildPacket(byte(tbMasterHandoffResponse), deviceName, []byte{resp.RequestingDevice, granted})
}

// DecodeMasterHandoffResponse parses a handoff-response datagram's
// payload.
func DecodeMasterHandoffResponse(raw []byte) (MasterHandoffResponse, error) {
	if len(raw) < minPacketHeaderLen+nameLen+2 {
		return MasterHandoffResponse{}, newErr(ErrPacketTooShort, "handoff response shorter than minimum")
	}
	body := raw[minPacketHeaderLen+nameLen:]
	return MasterHandoffResponse{RequestingDevice: body[0], Granted: body[1] != 0}, nil
}

// EncodeDeviceAnnouncement is the inverse of ParseDeviceAnnouncement,
// building the 54 byte keep-alive datagram a Virtual CDJ broadcasts every
// 1.5s. Unlike the status-family packets, the keep-alive's name field
// starts one byte later than BuildPacket's generic layout (there is a
// reserved byte at offset 11), so this assembles the frame directly
// instead of going through BuildPacket.
func EncodeDeviceAnnouncement(dev *DeviceAnnouncement) []byte {
	raw := make([]byte, minLenAnnouncement)
	copy(raw[0:10], magicHeader)
	raw[10] = byte(tbDeviceKeepAlive)
	copy(raw[nameOffsetKeepAlive:nameOffsetKeepAlive+nameLen], padName(dev.Name, nameLen))
	raw[36] = dev.Number
	copy(raw[38:44], dev.MAC[:6])
	raw[48] = dev.PeerCount

	var flags byte
	if dev.IsOpusQuad {
		flags |= 0x01
	}
	if dev.IsXDJAZ {
		flags |= 0x02
	}
	raw[37] = flags

	return raw
}
