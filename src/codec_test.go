package prolink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestValidateHeader_RejectsShortPacket(t *testing.T) {
	_, err := ValidateHeader([]byte{0x01, 0x02}, PortAnnounce)
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrPacketTooShort, e.Kind)
}

func TestValidateHeader_RejectsBadMagic(t *testing.T) {
	buf := make([]byte, minPacketHeaderLen)
	copy(buf, magicHeader)
	buf[0] = 0xff
	_, err := ValidateHeader(buf, PortAnnounce)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrPacketMagicMismatch, e.Kind)
}

func TestValidateHeader_DeviceHelloDispatchOnAnnouncePort(t *testing.T) {
	buf := make([]byte, minPacketHeaderLen)
	copy(buf, magicHeader)
	buf[0x0A] = byte(tbDeviceHello)
	pt, err := ValidateHeader(buf, PortAnnounce)
	require.NoError(t, err)
	assert.Equal(t, PacketDeviceHello, pt)
}

func TestValidateHeader_KeepAliveDispatch(t *testing.T) {
	buf := make([]byte, minPacketHeaderLen)
	copy(buf, magicHeader)
	buf[0x0A] = byte(tbDeviceKeepAlive)
	pt, err := ValidateHeader(buf, PortAnnounce)
	require.NoError(t, err)
	assert.Equal(t, PacketDeviceKeepAlive, pt)
}

func TestValidateHeader_UnknownTypeByte(t *testing.T) {
	buf := make([]byte, minPacketHeaderLen)
	copy(buf, magicHeader)
	buf[0x0A] = 0x77
	_, err := ValidateHeader(buf, PortUpdate)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrUnknownPacketType, e.Kind)
}

func TestPitchToMultiplier_FullSpeedIsOne(t *testing.T) {
	assert.InDelta(t, 1.0, PitchToMultiplier(PitchFull), 1e-9)
}

func TestPitchToMultiplier_DoubleSpeedAtMax(t *testing.T) {
	assert.InDelta(t, 2.0, PitchToMultiplier(PitchMax), 1e-9)
}

// Test_pitchToMultiplierMonotonic checks PitchToMultiplier never reorders
// two raw pitch values, the property a tempo fader's UI depends on.
func Test_pitchToMultiplierMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Uint32Range(0, PitchMax).Draw(t, "a")
		b := rapid.Uint32Range(0, PitchMax).Draw(t, "b")

		if a <= b {
			assert.LessOrEqual(t, PitchToMultiplier(a), PitchToMultiplier(b))
		} else {
			assert.Greater(t, PitchToMultiplier(a), PitchToMultiplier(b))
		}
	})
}

func Test_halfFrameMillisRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// Restrict to multiples of 15 half-frames (whole 100ms chunks) since
		// the conversion is lossy at arbitrary inputs (integer division).
		hf := rapid.Uint32Range(0, 100000).Draw(t, "hf") * 15
		ms := HalfFrameToMillis(hf)
		back := MillisToHalfFrame(ms)
		assert.Equal(t, hf, back)
	})
}

func Test_bytesToNumberRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		maxVal := uint64(1)<<(uint(n)*8) - 1
		v := rapid.Uint64Range(0, maxVal).Draw(t, "v")

		buf := make([]byte, n)
		putNumber(buf, 0, n, v)
		assert.Equal(t, v, bytesToNumber(buf, 0, n))
	})
}

func Test_padTrimNameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[A-Za-z0-9 ]{0,19}`).Draw(t, "name")
		padded := padName(name, 20)
		assert.Equal(t, name, trimName(padded))
	})
}
