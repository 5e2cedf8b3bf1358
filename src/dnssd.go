package prolink

import (
	"context"

	"github.com/brutella/dnssd"
)

// dnssdServiceType is the Bonjour/DNS-SD service type a real CDJ/mixer
// advertises itself under on its wired network, letting rekordbox and
// other controllers discover it without needing to see a keep-alive
// first (§4.14).
const dnssdServiceType = "_rekordbox._tcp"

// startDNSSDAdvertisement registers v as a discoverable Pioneer-protocol
// peer over mDNS. The responder runs for the lifetime of the process;
// callers that want it torn down earlier can cancel the context threaded
// through Start in a future revision — today it is tied to process exit,
// matching how short-lived the demo CLI that is this feature's only
// caller tends to run.
func startDNSSDAdvertisement(v *VirtualCDJ) error {
	cfg := dnssd.Config{
		Name: v.cfg.DeviceName,
		Type: dnssdServiceType,
		Port: uint16(PortUpdate),
	}
	service, err := dnssd.NewService(cfg)
	if err != nil {
		return wrapErr(ErrSocketError, "building dnssd service", err)
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return wrapErr(ErrSocketError, "starting dnssd responder", err)
	}
	if _, err := responder.Add(service); err != nil {
		return wrapErr(ErrSocketError, "registering dnssd service", err)
	}

	go func() {
		if err := responder.Respond(context.Background()); err != nil {
			componentLogger("dnssd").Warnf("responder stopped: %v", err)
		}
	}()
	return nil
}
