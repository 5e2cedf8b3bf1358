package prolink

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
	"unicode/utf16"
)

// dbServerQueryPort is the fixed TCP port every rekordbox-capable device
// listens on to answer "what port is your actual database server on"
// (§4.11).
const dbServerQueryPort = 12523

// dbSeparator delimits fields/sections within a dbserver TCP message. Its
// exact meaning is undocumented by Pioneer; it reliably marks boundaries.
var dbSeparator = []byte{0x11, 0x87, 0x23, 0x49, 0xae, 0x11}

// Field is one tagged value of a dbserver message.
type Field struct {
	Tag  byte
	Data []byte
}

// Reply is a dbserver response message split on dbSeparator boundaries
// into raw byte sections, with the 4-byte per-message counter stripped
// from each section. Sections are not decoded into Fields.
type Reply struct {
	MessageID uint32
	Sections  [][]byte
}

// DBClient talks to one device's rekordbox metadata/database server over
// TCP, for track metadata and file paths (GetTrack); it does not request
// beat grids, cue lists, or waveform previews (§4.11). Connection setup and the query wire format are grounded on the
// same handshake a lightweight reference client in this ecosystem uses.
type DBClient struct {
	mu       sync.Mutex
	conn     net.Conn
	msgCount uint32
	ourID    uint8
}

// buildDBPacket prepends the separator and big-endian message counter to
// payload.
func buildDBPacket(messageID uint32, payload []byte) []byte {
	count := make([]byte, 4)
	binary.BigEndian.PutUint32(count, messageID)
	return bytes.Join([][]byte{dbSeparator, count, payload}, nil)
}

// queryDBServerAddr asks deviceIP's fixed query port which TCP port its
// actual database server is listening on.
func queryDBServerAddr(deviceIP net.IP) (string, error) {
	addr := fmt.Sprintf("%s:%d", deviceIP, dbServerQueryPort)

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return "", wrapErr(ErrSocketError, "dialing dbserver query port", err)
	}
	defer conn.Close()

	query := bytes.Join([][]byte{
		{0x00, 0x00, 0x00, 0x0f},
		[]byte("RemoteDBServer"),
		{0x00},
	}, nil)
	if _, err := conn.Write(query); err != nil {
		return "", wrapErr(ErrSocketError, "querying dbserver port", err)
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBuf); err != nil {
		return "", wrapErr(ErrSocketError, "reading dbserver port", err)
	}

	port := binary.BigEndian.Uint16(portBuf)
	return fmt.Sprintf("%s:%d", deviceIP, port), nil
}

// Connect opens the TCP connection to device at deviceIP and performs the
// dbserver handshake, identifying this client as device number
// ourDeviceNumber.
func Connect(deviceIP net.IP, ourDeviceNumber uint8) (*DBClient, error) {
	addr, err := queryDBServerAddr(deviceIP)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, wrapErr(ErrSocketError, "dialing dbserver", err)
	}

	if _, err := conn.Write([]byte{0x11, 0x00, 0x00, 0x00, 0x01}); err != nil {
		conn.Close()
		return nil, wrapErr(ErrSocketError, "opening dbserver session", err)
	}
	if _, err := io.CopyN(io.Discard, conn, 5); err != nil {
		conn.Close()
		return nil, wrapErr(ErrSocketError, "reading dbserver session ack", err)
	}

	identify := bytes.Join([][]byte{
		dbSeparator,
		{0xff, 0xff, 0xff, 0xfe},
		{
			0x10, 0x00, 0x00, 0x0f, 0x01, 0x14, 0x00, 0x00,
			0x00, 0x0c, 0x06, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x11, 0x00,
			0x00, 0x00,
		},
		{ourDeviceNumber},
	}, nil)
	if _, err := conn.Write(identify); err != nil {
		conn.Close()
		return nil, wrapErr(ErrSocketError, "identifying to dbserver", err)
	}
	if _, err := io.CopyN(io.Discard, conn, 42); err != nil {
		conn.Close()
		return nil, wrapErr(ErrSocketError, "reading dbserver identify ack", err)
	}

	return &DBClient{conn: conn, msgCount: 1, ourID: ourDeviceNumber}, nil
}

// Close closes the underlying TCP connection.
func (c *DBClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

func (c *DBClient) send(payload []byte) error {
	packet := buildDBPacket(c.msgCount, payload)
	if _, err := c.conn.Write(packet); err != nil {
		return wrapErr(ErrSocketError, "writing dbserver message", err)
	}
	c.msgCount++
	return nil
}

// query sends a two-part request and collects every section of the
// multi-part reply up to the sentinel "final section" a dbserver always
// terminates a multi-message response with.
func (c *DBClient) query(part1, part2 []byte) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send(part1); err != nil {
		return nil, err
	}
	messageID := c.msgCount - 1

	if _, err := io.CopyN(io.Discard, c.conn, 42); err != nil {
		return nil, wrapErr(ErrSocketError, "reading dbserver query ack", err)
	}

	if err := c.send(part2); err != nil {
		return nil, err
	}

	finalSection := buildDBPacket(messageID, []byte{
		0x10, 0x42, 0x01, 0x0f, 0x00, 0x14, 0x00, 0x00, 0x00,
		0x0c, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	})

	buf := make([]byte, 1024)
	var full []byte
	for !bytes.HasSuffix(full, finalSection) {
		n, err := c.conn.Read(buf)
		if err != nil {
			return nil, wrapErr(ErrSocketError, "reading dbserver reply", err)
		}
		full = append(full, buf[:n]...)
	}

	sections := bytes.Split(full, dbSeparator)
	if len(sections) < 3 {
		return nil, newErr(ErrPacketTooShort, "dbserver reply too short to contain sections")
	}
	sections = sections[2 : len(sections)-1]
	for i := range sections {
		if len(sections[i]) >= 4 {
			sections[i] = sections[i][4:]
		}
	}

	return &Reply{MessageID: messageID, Sections: sections}, nil
}

// utf16StringField decodes a dbserver string field: a 4-byte big-endian
// count of UTF-16 code units followed by that many UTF-16BE code units.
// The last decoded character (the field's trailing NUL) is dropped.
func utf16StringField(s []byte) string {
	if len(s) < 4 {
		return ""
	}
	size := binary.BigEndian.Uint32(s[:4])
	body := s[4:]
	if uint32(len(body)) < size*2 {
		return ""
	}
	body = body[:size*2]

	units := make([]uint16, 0, size)
	for len(body) > 0 {
		units = append(units, binary.BigEndian.Uint16(body[:2]))
		body = body[2:]
	}

	decoded := string(utf16.Decode(units))
	if len(decoded) == 0 {
		return decoded
	}
	return decoded[:len(decoded)-1]
}

// Track is the metadata a dbserver query returns about one track.
type Track struct {
	ID      uint32
	Path    string
	Title   string
	Artist  string
	Album   string
	Label   string
	Genre   string
	Comment string
	Key     string
	Length  time.Duration
}

// TrackQuery identifies a track to look up metadata for.
type TrackQuery struct {
	TrackID uint32
	Slot    TrackSlot
}

// GetTrack queries title/artist/album/etc metadata and file path for a
// track, following the two-phase metadata-then-path query sequence a
// dbserver expects.
func (c *DBClient) GetTrack(q TrackQuery) (*Track, error) {
	if q.Slot == TrackSlotCD {
		return nil, newErr(ErrUnexpectedSlot, "reading metadata from CD slots is not supported")
	}

	trackID := make([]byte, 4)
	binary.BigEndian.PutUint32(trackID, q.TrackID)
	dv := byte(c.ourID)
	slot := byte(q.Slot)

	metaPart1 := append([]byte{
		0x10, 0x20, 0x02, 0x0f, 0x02, 0x14, 0x00, 0x00,
		0x00, 0x0c, 0x06, 0x06, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x11, dv,
		0x01, slot, 0x01, 0x11,
	}, trackID...)

	metaPart2 := []byte{
		0x10, 0x30, 0x00, 0x0f, 0x06, 0x14, 0x00, 0x00,
		0x00, 0x0c, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x11, dv,
		0x01, slot, 0x01, 0x11, 0x00, 0x00, 0x00, 0x00,
		0x11, 0x00, 0x00, 0x00, 0x0b, 0x11, 0x00, 0x00,
		0x00, 0x00, 0x11, 0x00, 0x00, 0x00, 0x0b, 0x11,
		0x00, 0x00, 0x00, 0x00,
	}

	reply, err := c.query(metaPart1, metaPart2)
	if err != nil {
		return nil, err
	}
	if len(reply.Sections) < 11 {
		return nil, newErr(ErrPacketTooShort, "metadata reply had fewer sections than expected")
	}

	length := uint32(0)
	if len(reply.Sections[3]) >= 32 {
		length = binary.BigEndian.Uint32(reply.Sections[3][28:32])
	}

	track := &Track{
		ID:      q.TrackID,
		Title:   utf16StringField(reply.Sections[0][38:]),
		Artist:  utf16StringField(reply.Sections[1][38:]),
		Album:   utf16StringField(reply.Sections[2][38:]),
		Comment: utf16StringField(reply.Sections[5][38:]),
		Key:     utf16StringField(reply.Sections[6][38:]),
		Genre:   utf16StringField(reply.Sections[9][38:]),
		Label:   utf16StringField(reply.Sections[10][38:]),
		Length:  time.Duration(length) * time.Second,
	}

	pathPart1 := append([]byte{
		0x10, 0x21, 0x02, 0x0f, 0x02, 0x14, 0x00, 0x00,
		0x00, 0x0c, 0x06, 0x06, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x11, dv,
		0x08, slot, 0x01, 0x11,
	}, trackID...)
	pathPart2 := []byte{
		0x10, 0x30, 0x00, 0x0f, 0x06, 0x14, 0x00, 0x00,
		0x00, 0x0c, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x11, dv,
		0x08, slot, 0x01, 0x11, 0x00, 0x00, 0x00, 0x00,
		0x11, 0x00, 0x00, 0x00, 0x06, 0x11, 0x00, 0x00,
		0x00, 0x00, 0x11, 0x00, 0x00, 0x00, 0x06, 0x11,
		0x00, 0x00, 0x00, 0x00,
	}
	pathReply, err := c.query(pathPart1, pathPart2)
	if err != nil {
		return nil, err
	}
	if len(pathReply.Sections) > 4 {
		track.Path = utf16StringField(pathReply.Sections[4][38:])
	}

	return track, nil
}
