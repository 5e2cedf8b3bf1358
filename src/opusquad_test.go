package prolink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitOpusQuadAnnouncement_PassesThroughNonOpusQuad(t *testing.T) {
	ann := &DeviceAnnouncement{Number: 1, IsOpusQuad: false}
	split := SplitOpusQuadAnnouncement(ann)
	require.Len(t, split, 1)
	assert.Same(t, ann, split[0])
}

func TestSplitOpusQuadAnnouncement_ExpandsToFourChannels(t *testing.T) {
	ann := &DeviceAnnouncement{Name: "OPUS-QUAD", Number: 9, IsOpusQuad: true}
	split := SplitOpusQuadAnnouncement(ann)
	require.Len(t, split, opusQuadChannelCount)

	for i, s := range split {
		assert.Equal(t, uint8(i+1), s.Number)
		assert.Equal(t, "OPUS-QUAD", s.Name)
		assert.True(t, s.IsOpusQuad)
	}
}
