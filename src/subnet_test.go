package prolink

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAddrs(cidr string) interfaceAddresses {
	return func(net.Interface) ([]net.Addr, error) {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		return []net.Addr{ipNet}, nil
	}
}

func TestPickInterfaceFor_MatchesContainingSubnet(t *testing.T) {
	addrsFn := fakeAddrs("192.168.1.10/24")
	target := netip.MustParseAddr("192.168.1.50")

	match, err := pickInterfaceFor(target, addrsFn)
	require.NoError(t, err)
	assert.Equal(t, 24, match.Address.Bits())
}

func TestPickInterfaceFor_NoMatch(t *testing.T) {
	addrsFn := fakeAddrs("10.0.0.1/24")
	target := netip.MustParseAddr("192.168.1.50")

	_, err := pickInterfaceFor(target, addrsFn)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrNoMatchingInterface, e.Kind)
}

func TestBroadcastAddress(t *testing.T) {
	prefix := netip.MustParsePrefix("192.168.1.10/24")
	assert.Equal(t, netip.MustParseAddr("192.168.1.255"), BroadcastAddress(prefix))
}

func TestBroadcastAddress_SlashThirtyOne(t *testing.T) {
	prefix := netip.MustParsePrefix("192.168.1.0/31")
	assert.Equal(t, netip.MustParseAddr("192.168.1.1"), BroadcastAddress(prefix))
}
