package prolink

import (
	"encoding/binary"
)

// beatGridTag is the four-byte tag identifying a beat grid section within
// an analysis file fetched over the dbserver's file-transfer channel.
var beatGridTag = [4]byte{'P', 'Q', 'T', 'Z'}

// beatGridHeaderLen is the fixed tag+length+entry-count header preceding
// the beat grid entries.
const beatGridHeaderLen = 20

// beatGridEntryLen is the size of one beat grid entry: a 1-byte
// beat-within-bar at offset 0, a 2-byte tempo (BPM x100) at offset 2, and
// a 4-byte time at offset 4; the remaining bytes are not decoded. The time
// field is little endian, like cue list positions and unlike the other
// multi-byte fields in this protocol (§6).
const beatGridEntryLen = 16

// BeatGridEntry locates one beat within a track's beat grid.
type BeatGridEntry struct {
	// Beat is this entry's position within its bar: 1, 2, 3, or 4.
	Beat uint8
	// BPMx100 is the tempo in effect starting at this beat.
	BPMx100 uint16
	// TimeMillis is the track-relative playback position of this beat.
	TimeMillis uint32
}

// ParseBeatGrid decodes a PQTZ-tagged beat grid section. data must begin
// at the section's tag, as returned verbatim from the file-transfer
// channel.
func ParseBeatGrid(data []byte) ([]BeatGridEntry, error) {
	if len(data) < beatGridHeaderLen {
		return nil, newErr(ErrPacketTooShort, "beat grid shorter than header")
	}
	for i, b := range beatGridTag {
		if data[i] != b {
			return nil, newErr(ErrPacketMagicMismatch, "beat grid tag mismatch")
		}
	}

	body := data[beatGridHeaderLen:]
	count := len(body) / beatGridEntryLen
	entries := make([]BeatGridEntry, 0, count)

	for i := 0; i < count; i++ {
		rec := body[i*beatGridEntryLen : (i+1)*beatGridEntryLen]
		entries = append(entries, BeatGridEntry{
			Beat:       rec[0],
			BPMx100:    binary.BigEndian.Uint16(rec[2:4]),
			TimeMillis: binary.LittleEndian.Uint32(rec[4:8]),
		})
	}

	return entries, nil
}

// EncodeBeatGrid is the inverse of ParseBeatGrid, used by tests to build
// fixtures.
func EncodeBeatGrid(entries []BeatGridEntry) []byte {
	out := make([]byte, beatGridHeaderLen+len(entries)*beatGridEntryLen)
	copy(out[0:4], beatGridTag[:])
	binary.BigEndian.PutUint32(out[4:8], uint32(len(out)))
	binary.BigEndian.PutUint32(out[8:12], uint32(len(entries)))

	body := out[beatGridHeaderLen:]
	for i, e := range entries {
		rec := body[i*beatGridEntryLen : (i+1)*beatGridEntryLen]
		rec[0] = e.Beat
		binary.BigEndian.PutUint16(rec[2:4], e.BPMx100)
		binary.LittleEndian.PutUint32(rec[4:8], e.TimeMillis)
	}
	return out
}
