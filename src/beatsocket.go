package prolink

import (
	"net"
	"net/netip"
	"time"
)

// BeatSocket listens on port 50001 for beat, fader-start, channels-on-air,
// sync-control, and master-handoff broadcasts. Delivery is inline (§4.5):
// every beat listener runs synchronously on the receive goroutine, so
// subscribers are expected to return quickly and a listener sees each beat
// with no queueing delay.
type BeatSocket struct {
	lifecycle

	iface *MatchedInterface
	conn  *net.UDPConn

	beats           *Bus[*Beat]
	faderStart      *Bus[netip.Addr]
	channelsOnAir   *Bus[[]uint8]
	syncControl     *Bus[SyncControlMessage]
	handoffRequest  *Bus[MasterHandoffRequest]
	handoffResponse *Bus[MasterHandoffResponse]

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBeatSocket constructs a stopped BeatSocket.
func NewBeatSocket() *BeatSocket {
	return &BeatSocket{
		lifecycle:       newLifecycle("beat"),
		beats:           NewBus[*Beat](InlineDelivery{}, "beat.beats"),
		faderStart:      NewBus[netip.Addr](InlineDelivery{}, "beat.faderStart"),
		channelsOnAir:   NewBus[[]uint8](InlineDelivery{}, "beat.channelsOnAir"),
		syncControl:     NewBus[SyncControlMessage](InlineDelivery{}, "beat.syncControl"),
		handoffRequest:  NewBus[MasterHandoffRequest](InlineDelivery{}, "beat.handoffRequest"),
		handoffResponse: NewBus[MasterHandoffResponse](InlineDelivery{}, "beat.handoffResponse"),
	}
}

// Start binds the beat port on iface and begins the receive loop.
func (s *BeatSocket) Start(iface *MatchedInterface) error {
	if s.IsRunning() {
		return newErr(ErrAlreadyRunning, "beat socket already running")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(PortBeat)})
	if err != nil {
		return wrapErr(ErrSocketError, "binding beat socket", err)
	}

	s.iface = iface
	s.conn = conn
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.setRunning(true)
	go s.receiveLoop()

	componentLogger("beat").Infof("listening on %s:%d", iface.Interface.Name, PortBeat)
	return nil
}

// Stop closes the socket.
func (s *BeatSocket) Stop() error {
	if !s.IsRunning() {
		return nil
	}
	s.setRunning(false)
	close(s.stopCh)
	if s.conn != nil {
		_ = s.conn.Close()
	}
	<-s.doneCh
	return nil
}

func (s *BeatSocket) receiveLoop() {
	defer close(s.doneCh)

	buf := make([]byte, 2048)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		n, udpAddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				componentLogger("beat").Warnf("read error: %v", err)
				continue
			}
		}

		addr, ok := netip.AddrFromSlice(udpAddr.IP.To4())
		if !ok {
			continue
		}
		s.dispatch(buf[:n], addr)
	}
}

func (s *BeatSocket) dispatch(data []byte, addr netip.Addr) {
	pt, err := ValidateHeader(data, PortBeat)
	if err != nil {
		return
	}

	switch pt {
	case PacketBeat:
		beat, err := ParseBeat(data, addr, time.Now())
		if err != nil {
			componentLogger("beat").Debugf("malformed beat from %s: %v", addr, err)
			return
		}
		s.beats.Emit(beat)
	case PacketFaderStart:
		s.faderStart.Emit(addr)
	case PacketChannelsOnAir:
		body := data[minPacketHeaderLen+nameLen:]
		channels := append([]uint8(nil), body...)
		s.channelsOnAir.Emit(channels)
	case PacketSyncControl:
		msg, err := DecodeSyncControl(data)
		if err != nil {
			return
		}
		s.syncControl.Emit(msg)
	case PacketMasterHandoffRequest:
		req, err := DecodeMasterHandoffRequest(data)
		if err != nil {
			return
		}
		s.handoffRequest.Emit(req)
	case PacketMasterHandoffResponse:
		resp, err := DecodeMasterHandoffResponse(data)
		if err != nil {
			return
		}
		s.handoffResponse.Emit(resp)
	}
}

// Send broadcasts a pre-built datagram on the beat port.
func (s *BeatSocket) Send(data []byte) error {
	if !s.IsRunning() {
		return newErr(ErrNotRunning, "beat socket not running")
	}
	broadcast := BroadcastAddress(s.iface.Address)
	dst := &net.UDPAddr{IP: net.IP(broadcast.AsSlice()), Port: int(PortBeat)}
	_, err := s.conn.WriteToUDP(data, dst)
	if err != nil {
		return wrapErr(ErrSocketError, "writing beat datagram", err)
	}
	return nil
}

func (s *BeatSocket) OnBeat(fn func(*Beat)) *Subscription[*Beat] { return s.beats.Subscribe(fn) }
func (s *BeatSocket) OnFaderStart(fn func(netip.Addr)) *Subscription[netip.Addr] {
	return s.faderStart.Subscribe(fn)
}
func (s *BeatSocket) OnChannelsOnAir(fn func([]uint8)) *Subscription[[]uint8] {
	return s.channelsOnAir.Subscribe(fn)
}
func (s *BeatSocket) OnSyncControl(fn func(SyncControlMessage)) *Subscription[SyncControlMessage] {
	return s.syncControl.Subscribe(fn)
}
func (s *BeatSocket) OnHandoffRequest(fn func(MasterHandoffRequest)) *Subscription[MasterHandoffRequest] {
	return s.handoffRequest.Subscribe(fn)
}
func (s *BeatSocket) OnHandoffResponse(fn func(MasterHandoffResponse)) *Subscription[MasterHandoffResponse] {
	return s.handoffResponse.Subscribe(fn)
}
