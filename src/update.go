package prolink

import (
	"net"
	"net/netip"
	"time"
)

// UpdateSocket listens on port 50002 for CDJ/mixer status, precise
// position, and media-details broadcasts, and fans each decoded
// DeviceUpdate out to subscribers. Starting it requires at least one
// device already known to the Device Registry, since picking a bind
// interface needs a real device address to match a local subnet against
// (§4.4).
type UpdateSocket struct {
	lifecycle

	Registry *DeviceRegistry

	iface *MatchedInterface
	conn  *net.UDPConn

	updates *Bus[DeviceUpdate]

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewUpdateSocket constructs a stopped UpdateSocket.
func NewUpdateSocket(registry *DeviceRegistry) *UpdateSocket {
	return &UpdateSocket{
		lifecycle: newLifecycle("update"),
		Registry:  registry,
		updates:   NewBus[DeviceUpdate](NewBoundedQueueDelivery(256), "update"),
	}
}

// Start picks a bind interface (requiring registry to already know at
// least one device) unless iface is supplied explicitly, and begins the
// receive loop.
func (s *UpdateSocket) Start(iface *MatchedInterface) error {
	if s.IsRunning() {
		return newErr(ErrAlreadyRunning, "update socket already running")
	}

	if iface == nil {
		devices := s.Registry.CurrentDevices()
		if len(devices) == 0 {
			return newErr(ErrNoMatchingInterface, "no known device to pick an update-socket interface from")
		}
		matched, err := PickInterfaceFor(devices[0].Address)
		if err != nil {
			return err
		}
		if count, err := MatchingInterfaceCount(devices[0].Address); err == nil && count > 1 {
			componentLogger("update").Warnf("%d local interfaces share a subnet with %s; duplicate packets may corrupt state", count, devices[0].Address)
		}
		iface = matched
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(PortUpdate)})
	if err != nil {
		return wrapErr(ErrSocketError, "binding update socket", err)
	}

	s.iface = iface
	s.conn = conn
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.setRunning(true)
	go s.receiveLoop()

	componentLogger("update").Infof("listening on %s:%d", iface.Interface.Name, PortUpdate)
	return nil
}

// Stop closes the socket.
func (s *UpdateSocket) Stop() error {
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

func (s *UpdateSocket) receiveLoop() {
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
				componentLogger("update").Warnf("read error: %v", err)
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

func (s *UpdateSocket) dispatch(data []byte, addr netip.Addr) {
	pt, err := ValidateHeader(data, PortUpdate)
	if err != nil {
		return
	}

	now := time.Now()
	var update DeviceUpdate

	switch pt {
	case PacketCDJStatus:
		status, err := ParseCdjStatus(data, addr, now)
		if err != nil {
			componentLogger("update").Debugf("malformed CDJ status from %s: %v", addr, err)
			return
		}
		update = status
	case PacketMixerStatus:
		status, err := ParseMixerStatus(data, addr, now)
		if err != nil {
			componentLogger("update").Debugf("malformed mixer status from %s: %v", addr, err)
			return
		}
		update = status
	case PacketMediaResponse, PacketLoadTrackAck:
		details, err := ParseMediaDetails(data, addr, now)
		if err != nil {
			componentLogger("update").Debugf("malformed media details from %s: %v", addr, err)
			return
		}
		update = details
	case PacketPrecisePosition:
		pp, err := ParsePrecisePosition(data, addr, now)
		if err != nil {
			componentLogger("update").Debugf("malformed precise position from %s: %v", addr, err)
			return
		}
		update = pp
	case PacketMediaQuery:
		// No device-identity envelope worth surfacing as a DeviceUpdate;
		// dbserver.go's query/reply model handles this exchange instead.
		return
	default:
		return
	}

	s.updates.Emit(update)
}

// OnUpdate subscribes to every decoded DeviceUpdate.
func (s *UpdateSocket) OnUpdate(fn func(DeviceUpdate)) *Subscription[DeviceUpdate] {
	return s.updates.Subscribe(fn)
}

// Send transmits a pre-built datagram to dst on the update port.
func (s *UpdateSocket) Send(data []byte, dst netip.Addr) error {
	if !s.IsRunning() {
		return newErr(ErrNotRunning, "update socket not running")
	}
	addr := &net.UDPAddr{IP: net.IP(dst.AsSlice()), Port: int(PortUpdate)}
	_, err := s.conn.WriteToUDP(data, addr)
	if err != nil {
		return wrapErr(ErrSocketError, "writing update datagram", err)
	}
	return nil
}

// SendBroadcast transmits a pre-built datagram to the bound interface's
// broadcast address on the update port, the way CDJ/mixer status frames
// are actually sent on the wire.
func (s *UpdateSocket) SendBroadcast(data []byte) error {
	if !s.IsRunning() {
		return newErr(ErrNotRunning, "update socket not running")
	}
	broadcast := BroadcastAddress(s.iface.Address)
	return s.Send(data, broadcast)
}
