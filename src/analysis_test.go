package prolink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeatGrid_RoundTrip(t *testing.T) {
	entries := []BeatGridEntry{
		{Beat: 1, BPMx100: 12000, TimeMillis: 0},
		{Beat: 2, BPMx100: 12000, TimeMillis: 500},
		{Beat: 3, BPMx100: 12000, TimeMillis: 1000},
		{Beat: 4, BPMx100: 12000, TimeMillis: 1500},
	}

	encoded := EncodeBeatGrid(entries)
	decoded, err := ParseBeatGrid(encoded)
	require.NoError(t, err)
	assert.Equal(t, entries, decoded)
}

func TestParseBeatGrid_RejectsBadTag(t *testing.T) {
	encoded := EncodeBeatGrid(nil)
	encoded[0] = 'X'
	_, err := ParseBeatGrid(encoded)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrPacketMagicMismatch, e.Kind)
}

func TestCueList_RoundTrip(t *testing.T) {
	entries := []CueEntry{
		{Type: CueTypeMemory, TimeMillis: 1000, ColorID: 0},
		{Type: CueTypeHot, HotCueSlot: 2, TimeMillis: 4200, ColorID: 3},
	}

	encoded := EncodeCueList(entries)
	decoded, err := ParseCueList(encoded)
	require.NoError(t, err)
	assert.Equal(t, entries, decoded)
}

func TestParseCueList_RejectsBadTag(t *testing.T) {
	encoded := EncodeCueList(nil)
	encoded[0] = 'X'
	_, err := ParseCueList(encoded)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrPacketMagicMismatch, e.Kind)
}

func TestWaveformPreview_RoundTrip(t *testing.T) {
	w := WaveformPreview{Columns: []byte{0x1f, 0x00, (3 << 5) | 10, 5}}

	encoded := EncodeWaveformPreview(w)
	decoded, err := ParseWaveformPreview(encoded)
	require.NoError(t, err)
	assert.Equal(t, w.Columns, decoded.Columns)

	assert.Equal(t, uint8(0x1f), decoded.Amplitude(0))
	assert.Equal(t, uint8(10), decoded.Amplitude(2))
	assert.Equal(t, uint8(3), decoded.ColorID(2))
}

func TestParseWaveformPreview_RejectsBadTag(t *testing.T) {
	encoded := EncodeWaveformPreview(WaveformPreview{})
	encoded[0] = 'X'
	_, err := ParseWaveformPreview(encoded)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrPacketMagicMismatch, e.Kind)
}
