package prolink

import (
	"net"
	"net/netip"
)

// MatchedInterface is a local network interface found to share a subnet
// with an observed device address.
type MatchedInterface struct {
	Interface net.Interface
	Address   netip.Prefix
}

// interfaceAddresses abstracts net.Interface.Addrs for testability.
type interfaceAddresses func(net.Interface) ([]net.Addr, error)

func defaultInterfaceAddresses(iface net.Interface) ([]net.Addr, error) {
	return iface.Addrs()
}

// PickInterfaceFor scans the host's network interfaces and returns the
// first one whose IPv4 subnet (per its configured prefix length) contains
// target — the algorithm the Virtual CDJ uses at startup to decide which
// local interface to bind its three sockets to, given the address of a
// device the Device Registry has already observed. Returns
// ErrNoMatchingInterface if none match.
func PickInterfaceFor(target netip.Addr) (*MatchedInterface, error) {
	return pickInterfaceFor(target, defaultInterfaceAddresses)
}

func pickInterfaceFor(target netip.Addr, addrsFn interfaceAddresses) (*MatchedInterface, error) {
	matches, err := matchingInterfaces(target, addrsFn)
	if err != nil {
		return nil, err
	}
	return matches[0], nil
}

// MatchingInterfaceCount reports how many local interfaces share a subnet
// with target. The Update Socket calls this at startup and warns when it
// is more than one, since binding to just the first means packets destined
// for the others would never be seen while packets looping back through
// them could still corrupt receive state (§4.4c).
func MatchingInterfaceCount(target netip.Addr) (int, error) {
	matches, err := matchingInterfaces(target, defaultInterfaceAddresses)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

func matchingInterfaces(target netip.Addr, addrsFn interfaceAddresses) ([]*MatchedInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, wrapErr(ErrNoMatchingInterface, "enumerating network interfaces", err)
	}

	var matches []*MatchedInterface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := addrsFn(iface)
		if err != nil {
			continue
		}

		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}

			ones, _ := ipNet.Mask.Size()
			prefixAddr, ok := netip.AddrFromSlice(ip4)
			if !ok {
				continue
			}
			prefix := netip.PrefixFrom(prefixAddr, ones).Masked()

			if prefix.Contains(target) {
				matches = append(matches, &MatchedInterface{
					Interface: iface,
					Address:   netip.PrefixFrom(prefixAddr, ones),
				})
			}
		}
	}

	if len(matches) == 0 {
		return nil, newErr(ErrNoMatchingInterface, "no local interface shares a subnet with the target address")
	}
	return matches, nil
}

// ListCandidateInterfaces returns every up, non-loopback IPv4 interface and
// its address — used by the Virtual CDJ at startup (to find a configured
// interface by name, or to take the first candidate when no device has
// been observed yet), and by the demo CLI's --list-interfaces flag.
func ListCandidateInterfaces() ([]MatchedInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, wrapErr(ErrNoMatchingInterface, "enumerating network interfaces", err)
	}

	var out []MatchedInterface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			ones, _ := ipNet.Mask.Size()
			addr, ok := netip.AddrFromSlice(ip4)
			if !ok {
				continue
			}
			out = append(out, MatchedInterface{Interface: iface, Address: netip.PrefixFrom(addr, ones)})
		}
	}
	return out, nil
}

// BroadcastAddress returns the IPv4 broadcast address for prefix, used by
// the Announcement, Beat, and Update Sockets to address their outbound
// broadcast datagrams.
func BroadcastAddress(prefix netip.Prefix) netip.Addr {
	base := prefix.Masked().Addr().As4()
	bits := prefix.Bits()
	hostBits := 32 - bits
	mask := uint32(0)
	if hostBits > 0 {
		mask = (uint32(1) << hostBits) - 1
	}
	v := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])
	v |= mask
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
