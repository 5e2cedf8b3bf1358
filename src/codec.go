package prolink

import (
	"encoding/binary"
	"net"
)

// Port is one of the three well-known PRO DJ LINK UDP ports.
type Port int

const (
	PortAnnounce Port = 50000
	PortBeat     Port = 50001
	PortUpdate   Port = 50002
)

// magicHeader begins every PRO DJ LINK wire packet.
var magicHeader = []byte{0x51, 0x73, 0x70, 0x74, 0x31, 0x57, 0x6d, 0x4a, 0x4f, 0x4c}

// PacketType identifies the decoded shape of a wire packet; the same byte
// value means different things in isolation, so dispatch is always
// (Port, type byte) together.
type PacketType int

const (
	PacketUnknown PacketType = iota
	PacketFaderStart
	PacketChannelsOnAir
	PacketDeviceHello
	PacketDeviceKeepAlive
	PacketNumberClaim1
	PacketNumberClaim2
	PacketNumberClaim3
	PacketCDJStatus
	PacketMasterHandoffRequest
	PacketMasterHandoffResponse
	PacketBeat
	PacketMixerStatus
	PacketSyncControl
	PacketLoadTrackAck
	PacketMediaQuery
	PacketMediaResponse
	PacketPrecisePosition
)

// typeByte is the raw byte found at offset 0x0A of the wire packet.
type typeByte byte

const (
	tbFaderStart            typeByte = 0x02
	tbChannelsOnAir         typeByte = 0x03
	tbDeviceHello           typeByte = 0x00
	tbDeviceKeepAlive       typeByte = 0x06
	tbNumberClaim1          typeByte = 0x00
	tbCDJStatus             typeByte = 0x0A
	tbMasterHandoffRequest  typeByte = 0x26
	tbMasterHandoffResponse typeByte = 0x27
	tbBeat                  typeByte = 0x28
	tbMixerStatus           typeByte = 0x29
	tbSyncControl           typeByte = 0x2A
	tbLoadTrackAck          typeByte = 0x19
	tbMediaQuery            typeByte = 0x05
	tbMediaResponse         typeByte = 0x06
	tbPrecisePosition       typeByte = 0x0b
)

// dispatchKey is a (port, type byte) pair used to look up the decoded
// PacketType for an inbound datagram.
type dispatchKey struct {
	port Port
	typ  typeByte
}

// dispatchTable is the non-exhaustive port/type table from §4.1. Ports
// 50000 and 50002 both use type byte 0x06 for different meanings (device
// keep-alive vs. media response), so every lookup is always port-qualified.
var dispatchTable = map[dispatchKey]PacketType{
	{PortBeat, tbFaderStart}:            PacketFaderStart,
	{PortBeat, tbChannelsOnAir}:         PacketChannelsOnAir,
	{PortAnnounce, tbDeviceKeepAlive}:   PacketDeviceKeepAlive,
	{PortUpdate, tbCDJStatus}:           PacketCDJStatus,
	{PortBeat, tbMasterHandoffRequest}:  PacketMasterHandoffRequest,
	{PortBeat, tbMasterHandoffResponse}: PacketMasterHandoffResponse,
	{PortBeat, tbBeat}:                  PacketBeat,
	{PortUpdate, tbMixerStatus}:         PacketMixerStatus,
	{PortBeat, tbSyncControl}:           PacketSyncControl,
	{PortUpdate, tbLoadTrackAck}:        PacketLoadTrackAck,
	{PortUpdate, tbMediaQuery}:          PacketMediaQuery,
	{PortUpdate, tbMediaResponse}:       PacketMediaResponse,
	{PortUpdate, tbPrecisePosition}:     PacketPrecisePosition,
}

// minPacketHeaderLen is the shortest a packet can be and still carry a
// magic header and a type byte.
const minPacketHeaderLen = 11

// ValidateHeader checks a raw datagram's magic header and looks up its
// PacketType for the port it arrived on. It never inspects length beyond
// the header itself — per-variant minimum lengths are enforced by the
// decoders in packet.go.
func ValidateHeader(packet []byte, port Port) (PacketType, error) {
	if len(packet) < minPacketHeaderLen {
		return PacketUnknown, newErr(ErrPacketTooShort, "datagram shorter than header")
	}

	for i, b := range magicHeader {
		if packet[i] != b {
			return PacketUnknown, newErr(ErrPacketMagicMismatch, "magic header mismatch")
		}
	}

	tb := typeByte(packet[0x0A])

	// DEVICE_HELLO and the three number-claim steps share type byte 0x00
	// on port 50000 and are distinguished by the caller needing only to
	// recognize "not a keep-alive" — see announce.go's dispatch.
	if port == PortAnnounce && tb == tbDeviceHello {
		return PacketDeviceHello, nil
	}

	pt, ok := dispatchTable[dispatchKey{port, tb}]
	if !ok {
		return PacketUnknown, wrapErr(ErrUnknownPacketType, "no packet type registered", nil)
	}

	return pt, nil
}

// unsign masks a byte to its unsigned value. Present mainly so call sites
// reflecting the protocol's own "unsign(b)" helper read the same as the
// reference implementation.
func unsign(b byte) int {
	return int(b) & 0xff
}

// bytesToNumber reads a big-endian unsigned integer of n bytes (n <= 8)
// starting at start.
func bytesToNumber(buf []byte, start, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<8 | uint64(buf[start+i])
	}
	return v
}

// bytesToNumberLE reads a little-endian unsigned integer of n bytes (n <=
// 8) starting at start. Only BeatGrid time fields and CueList positions
// use this byte order.
func bytesToNumberLE(buf []byte, start, n int) uint64 {
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[start+i])
	}
	return v
}

// putNumber writes a big-endian unsigned integer of n bytes into buf at
// start.
func putNumber(buf []byte, start, n int, v uint64) {
	for i := n - 1; i >= 0; i-- {
		buf[start+i] = byte(v & 0xff)
		v >>= 8
	}
}

// PitchFull is the raw pitch value corresponding to a 1.0x tempo
// multiplier.
const PitchFull uint32 = 1048576

// PitchMax is the largest raw pitch value the protocol carries.
const PitchMax uint32 = 2097152

// PitchToMultiplier converts a raw pitch value to a tempo multiplier,
// where PitchFull maps to exactly 1.0.
func PitchToMultiplier(pitch uint32) float64 {
	return float64(pitch) / float64(PitchFull)
}

// PitchToPercentage converts a raw pitch value to the +/- percentage shown
// on a CDJ's tempo fader.
func PitchToPercentage(pitch uint32) float64 {
	return (float64(pitch) - 1048567) / 10485.76
}

// HalfFrameToMillis converts a half-frame count (1/150 second, the native
// unit in cue lists and beat grids) to milliseconds.
func HalfFrameToMillis(hf uint32) uint32 {
	return hf * 100 / 15
}

// MillisToHalfFrame converts milliseconds to a half-frame count, the
// inverse of HalfFrameToMillis.
func MillisToHalfFrame(ms uint32) uint32 {
	return ms * 15 / 100
}

// BuildPacket prepends the magic header, type byte, and 20-byte padded
// device name to payload, producing a complete outbound datagram.
func BuildPacket(tb byte, deviceName string, payload []byte) []byte {
	out := make([]byte, 0, 10+1+20+len(payload))
	out = append(out, magicHeader...)
	out = append(out, tb)
	out = append(out, padName(deviceName, 20)...)
	out = append(out, payload...)
	return out
}

// padName returns name truncated/zero-padded to exactly n bytes, ASCII.
func padName(name string, n int) []byte {
	buf := make([]byte, n)
	copy(buf, []byte(name))
	return buf
}

// trimName trims trailing zero bytes from a fixed-width ASCII name field.
func trimName(buf []byte) string {
	end := len(buf)
	for end > 0 && buf[end-1] == 0 {
		end--
	}
	return string(buf[:end])
}

// parseIPv4 reads a 4 byte big-endian field as a net.IP.
func parseIPv4(buf []byte) net.IP {
	return net.IPv4(buf[0], buf[1], buf[2], buf[3]).To4()
}

// putUint16 / putUint32 are thin wrappers kept for call-site clarity next
// to the hand-rolled BE helpers above, used where a single fixed-width
// field is written without the generality of putNumber.
func putUint16(buf []byte, v uint16) { binary.BigEndian.PutUint16(buf, v) }
func putUint32(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }
