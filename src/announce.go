package prolink

import (
	"net"
	"net/netip"
	"time"
)

// announceIdleTimeout is the read deadline used while no devices are
// tracked yet; announceActiveTimeout is used once at least one device has
// been seen (§4.3). The deadline only bounds how long a read blocks; the
// expiry sweep runs separately, on expiryLoop's one-second ticker.
const (
	announceIdleTimeout   = 60 * time.Second
	announceActiveTimeout = 1 * time.Second
)

// rawAnnounceFrame is an unparsed announce-port datagram, handed to
// subscribers that need to inspect hello/number-claim frames that do not
// decode into a DeviceAnnouncement (the three-step device-number claim
// sequence the Virtual CDJ participates in).
type rawAnnounceFrame struct {
	Data []byte
	Addr netip.Addr
	Type PacketType
}

// AnnouncementSocket listens on port 50000 for device keep-alive and
// hello/number-claim broadcasts, feeding a DeviceRegistry and exposing a
// raw hello/claim event stream for the Virtual CDJ's device-number
// negotiation.
type AnnouncementSocket struct {
	lifecycle

	Registry *DeviceRegistry

	iface *MatchedInterface
	conn  *net.UDPConn

	raw *Bus[rawAnnounceFrame]

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewAnnouncementSocket constructs a stopped AnnouncementSocket bound to
// iface once started, delivering to registry.
func NewAnnouncementSocket(registry *DeviceRegistry) *AnnouncementSocket {
	return &AnnouncementSocket{
		lifecycle: newLifecycle("announce"),
		Registry:  registry,
		raw:       NewBus[rawAnnounceFrame](NewBoundedQueueDelivery(64), "announce.raw"),
	}
}

// Start binds the announce port on iface and begins the receive loop. It
// is an error to call Start while already running.
func (s *AnnouncementSocket) Start(iface *MatchedInterface) error {
	if s.IsRunning() {
		return newErr(ErrAlreadyRunning, "announcement socket already running")
	}

	addr := &net.UDPAddr{IP: net.IPv4bcast, Port: int(PortAnnounce)}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(PortAnnounce)})
	if err != nil {
		return wrapErr(ErrSocketError, "binding announcement socket", err)
	}
	_ = addr // kept for symmetry with the broadcast address the socket expects traffic from

	s.iface = iface
	s.conn = conn
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.setRunning(true)
	go s.receiveLoop()
	go s.expiryLoop()

	componentLogger("announce").Infof("listening on %s:%d", iface.Interface.Name, PortAnnounce)
	return nil
}

// Stop closes the socket and flushes the registry of every device this
// socket was tracking, since it can no longer vouch for their presence.
func (s *AnnouncementSocket) Stop() error {
	if !s.IsRunning() {
		return nil
	}
	s.setRunning(false)
	close(s.stopCh)
	if s.conn != nil {
		_ = s.conn.Close()
	}
	<-s.doneCh
	s.Registry.Flush()
	return nil
}

func (s *AnnouncementSocket) receiveLoop() {
	defer close(s.doneCh)

	buf := make([]byte, 2048)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		timeout := announceIdleTimeout
		if s.Registry.Count() > 0 {
			timeout = announceActiveTimeout
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))

		n, udpAddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
				componentLogger("announce").Warnf("read error: %v", err)
				continue
			}
		}

		addrPort, ok := netip.AddrFromSlice(udpAddr.IP.To4())
		if !ok {
			continue
		}
		s.dispatch(buf[:n], addrPort)
	}
}

func (s *AnnouncementSocket) dispatch(data []byte, addr netip.Addr) {
	pt, err := ValidateHeader(data, PortAnnounce)
	if err != nil {
		return
	}

	switch pt {
	case PacketDeviceKeepAlive:
		ann, err := ParseDeviceAnnouncement(data, addr, time.Now())
		if err != nil {
			componentLogger("announce").Debugf("malformed keep-alive from %s: %v", addr, err)
			return
		}
		for _, split := range SplitOpusQuadAnnouncement(ann) {
			s.Registry.Update(split)
		}
	default:
		// DEVICE_HELLO and the three number-claim steps: handed to raw
		// subscribers (the Virtual CDJ's claim negotiation) unparsed, since
		// their payload shape varies step to step.
		frame := rawAnnounceFrame{Data: append([]byte(nil), data...), Addr: addr, Type: pt}
		s.raw.Emit(frame)
	}
}

func (s *AnnouncementSocket) expiryLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.Registry.Expire(now)
		}
	}
}

// OnRawFrame subscribes to unparsed hello/number-claim frames.
func (s *AnnouncementSocket) OnRawFrame(fn func(rawAnnounceFrame)) *Subscription[rawAnnounceFrame] {
	return s.raw.Subscribe(fn)
}

// Send broadcasts a pre-built datagram on the announce port, used by the
// Virtual CDJ to emit its own keep-alives and hello/claim frames.
func (s *AnnouncementSocket) Send(data []byte) error {
	if !s.IsRunning() {
		return newErr(ErrNotRunning, "announcement socket not running")
	}
	broadcast := BroadcastAddress(s.iface.Address)
	dst := &net.UDPAddr{IP: net.IP(broadcast.AsSlice()), Port: int(PortAnnounce)}
	_, err := s.conn.WriteToUDP(data, dst)
	if err != nil {
		return wrapErr(ErrSocketError, "writing announcement datagram", err)
	}
	return nil
}
