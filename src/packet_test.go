package prolink

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testAddr = netip.MustParseAddr("192.168.1.50")

// TestEncodeBeat_MatchesWorkedExample reproduces the worked example: a
// beat at full tempo (pitch 1048576), 120.50 BPM, third beat of the bar.
func TestEncodeBeat_MatchesWorkedExample(t *testing.T) {
	packet := EncodeBeat("player", PitchFull, 12050, 3)

	require.GreaterOrEqual(t, len(packet), 93)
	assert.Equal(t, []byte{0x10, 0x00, 0x00}, packet[85:88])
	assert.Equal(t, []byte{0x2f, 0x12}, packet[90:92])
	assert.Equal(t, byte(3), packet[92])
}

func TestBeat_RoundTrip(t *testing.T) {
	packet := EncodeBeat("CDJ-3000", PitchFull, 12050, 3)
	beat, err := ParseBeat(packet, testAddr, time.Now())
	require.NoError(t, err)

	assert.Equal(t, PitchFull, beat.Pitch)
	assert.Equal(t, uint16(12050), beat.BPMx100)
	assert.Equal(t, uint8(3), beat.BeatWithinBarNum)
	assert.Equal(t, "CDJ-3000", beat.Env.DeviceName)
}

func Test_beatRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pitch := rapid.Uint32Range(0, PitchMax).Draw(t, "pitch")
		// Pitch is carried in 3 bytes on the wire; keep within that range.
		pitch &= 0xffffff
		bpm := rapid.Uint16Range(0, 65535).Draw(t, "bpm")
		beatWithinBar := uint8(rapid.IntRange(1, 4).Draw(t, "beatWithinBar"))
		name := rapid.StringMatching(`[A-Za-z0-9 ]{0,19}`).Draw(t, "name")

		packet := EncodeBeat(name, pitch, bpm, beatWithinBar)
		beat, err := ParseBeat(packet, testAddr, time.Now())
		require.NoError(t, err)

		assert.Equal(t, pitch, beat.Pitch)
		assert.Equal(t, bpm, beat.BPMx100)
		assert.Equal(t, beatWithinBar, beat.BeatWithinBarNum)
		assert.Equal(t, name, beat.Env.DeviceName)
	})
}

func TestCdjStatus_RoundTrip(t *testing.T) {
	original := &CdjStatus{
		Pitch:                 PitchFull,
		BPMx100:                12000,
		BeatWithinBarNum:       2,
		Playing:                true,
		Master:                 true,
		Synced:                 true,
		OnAir:                  false,
		Busy:                   false,
		Looping:                true,
		HandingOff:             false,
		SourcePlayer:           2,
		SourceSlot:             TrackSlot(1),
		TrackType:              TrackType(1),
		TrackNumber:            42,
		LoopStart:              1000,
		LoopEnd:                2000,
		CueCountdown:           9,
		Firmware:               "v100",
		HandingMasterToDevice:  NoMasterHandoff,
	}

	packet := EncodeCdjStatus("CDJ-2000", original)
	decoded, err := ParseCdjStatus(packet, testAddr, time.Now())
	require.NoError(t, err)

	assert.Equal(t, original.Pitch, decoded.Pitch)
	assert.Equal(t, original.BPMx100, decoded.BPMx100)
	assert.Equal(t, original.BeatWithinBarNum, decoded.BeatWithinBarNum)
	assert.True(t, decoded.Playing)
	assert.True(t, decoded.Master)
	assert.True(t, decoded.Synced)
	assert.False(t, decoded.OnAir)
	assert.True(t, decoded.Looping)
	assert.Equal(t, original.SourcePlayer, decoded.SourcePlayer)
	assert.Equal(t, original.SourceSlot, decoded.SourceSlot)
	assert.Equal(t, original.TrackType, decoded.TrackType)
	assert.Equal(t, original.TrackNumber, decoded.TrackNumber)
	assert.Equal(t, original.LoopStart, decoded.LoopStart)
	assert.Equal(t, original.LoopEnd, decoded.LoopEnd)
	assert.Equal(t, original.CueCountdown, decoded.CueCountdown)
	assert.Equal(t, "v100", decoded.Firmware)
	assert.Equal(t, NoMasterHandoff, decoded.HandingMasterToDevice)
	assert.Equal(t, "CDJ-2000", decoded.Env.DeviceName)
}

func TestDeviceAnnouncement_RoundTrip(t *testing.T) {
	original := &DeviceAnnouncement{
		Name:       "CDJ-3000",
		Number:     3,
		MAC:        []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02},
		PeerCount:  2,
		IsOpusQuad: false,
		IsXDJAZ:    true,
	}

	raw := EncodeDeviceAnnouncement(original)
	decoded, err := ParseDeviceAnnouncement(raw, testAddr, time.Now())
	require.NoError(t, err)

	assert.Equal(t, original.Name, decoded.Name)
	assert.Equal(t, original.Number, decoded.Number)
	assert.Equal(t, original.MAC, decoded.MAC)
	assert.Equal(t, original.PeerCount, decoded.PeerCount)
	assert.False(t, decoded.IsOpusQuad)
	assert.True(t, decoded.IsXDJAZ)
}

func TestParseDeviceAnnouncement_RejectsShortPacket(t *testing.T) {
	_, err := ParseDeviceAnnouncement(make([]byte, 10), testAddr, time.Now())
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrPacketTooShort, e.Kind)
}

func TestSyncControl_RoundTrip(t *testing.T) {
	packet := EncodeSyncControl("CDJ-2000", SyncControlMessage{DeviceNumber: 2, Enabled: true})
	msg, err := DecodeSyncControl(packet)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), msg.DeviceNumber)
	assert.True(t, msg.Enabled)
}

func TestMasterHandoffRequest_RoundTrip(t *testing.T) {
	packet := EncodeMasterHandoffRequest("CDJ-2000", MasterHandoffRequest{RequestingDevice: 4})
	req, err := DecodeMasterHandoffRequest(packet)
	require.NoError(t, err)
	assert.Equal(t, uint8(4), req.RequestingDevice)
}

func TestMasterHandoffResponse_RoundTrip(t *testing.T) {
	packet := EncodeMasterHandoffResponse("CDJ-2000", MasterHandoffResponse{RequestingDevice: 4, Granted: true})
	resp, err := DecodeMasterHandoffResponse(packet)
	require.NoError(t, err)
	assert.Equal(t, uint8(4), resp.RequestingDevice)
	assert.True(t, resp.Granted)
}

func TestParseMixerStatus_RejectsShortPacket(t *testing.T) {
	_, err := ParseMixerStatus(make([]byte, 4), testAddr, time.Now())
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrPacketTooShort, e.Kind)
}
