package prolink

import "encoding/binary"

// cueListTag identifies a memory-cue/hot-cue list section.
var cueListTag = [4]byte{'P', 'C', 'O', 'B'}

const cueListHeaderLen = 20
const cueEntryLen = 36

// CueType distinguishes a memory cue from a hot cue slot.
type CueType uint8

const (
	CueTypeMemory CueType = 0
	CueTypeHot    CueType = 1
)

// CueEntry is one memory cue or hot cue within a track.
type CueEntry struct {
	Type       CueType
	HotCueSlot uint8 // meaningful only when Type == CueTypeHot
	TimeMillis uint32
	ColorID    uint8
}

// ParseCueList decodes a PCOB-tagged cue list section.
func ParseCueList(data []byte) ([]CueEntry, error) {
	if len(data) < cueListHeaderLen {
		return nil, newErr(ErrPacketTooShort, "cue list shorter than header")
	}
	for i, b := range cueListTag {
		if data[i] != b {
			return nil, newErr(ErrPacketMagicMismatch, "cue list tag mismatch")
		}
	}

	body := data[cueListHeaderLen:]
	count := len(body) / cueEntryLen
	entries := make([]CueEntry, 0, count)

	for i := 0; i < count; i++ {
		rec := body[i*cueEntryLen : (i+1)*cueEntryLen]
		entries = append(entries, CueEntry{
			Type:       CueType(rec[0]),
			HotCueSlot: rec[1],
			TimeMillis: binary.LittleEndian.Uint32(rec[12:16]),
			ColorID:    rec[8],
		})
	}

	return entries, nil
}

// EncodeCueList is the inverse of ParseCueList, for test fixtures.
func EncodeCueList(entries []CueEntry) []byte {
	out := make([]byte, cueListHeaderLen+len(entries)*cueEntryLen)
	copy(out[0:4], cueListTag[:])
	binary.BigEndian.PutUint32(out[4:8], uint32(len(out)))
	binary.BigEndian.PutUint32(out[8:12], uint32(len(entries)))

	body := out[cueListHeaderLen:]
	for i, e := range entries {
		rec := body[i*cueEntryLen : (i+1)*cueEntryLen]
		rec[0] = byte(e.Type)
		rec[1] = e.HotCueSlot
		binary.LittleEndian.PutUint32(rec[12:16], e.TimeMillis)
		rec[8] = e.ColorID
	}
	return out
}
