// Command djlink-monitor joins a PRO DJ LINK network as a Virtual CDJ,
// printing device found/lost and status events, and lets the operator tap
// a key to become tempo master or broadcast a manual beat.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/djlinkgo/prolink/src"
	"github.com/pkg/term"
	"github.com/spf13/pflag"
)

func main() {
	var deviceName = pflag.StringP("name", "n", "prolink-go", "Device name to broadcast in keep-alives and status.")
	var preferredNumber = pflag.Uint8P("number", "d", 0, "Preferred device number (1-4). 0 to auto-select.")
	var ifaceName = pflag.StringP("interface", "i", "", "Bind to this network interface by name instead of auto-selecting one.")
	var advertiseDNSSD = pflag.BoolP("advertise", "a", false, "Advertise over Bonjour/DNS-SD.")
	var configFile = pflag.StringP("config", "c", "", "Load settings from a YAML config file instead of flags.")
	var listInterfaces = pflag.BoolP("list-interfaces", "l", false, "List candidate network interfaces and exit.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - join a PRO DJ LINK network and print device activity.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nUsage: djlink-monitor [options]\n\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *listInterfaces {
		candidates, err := prolink.ListCandidateInterfaces()
		if err != nil {
			fmt.Fprintf(os.Stderr, "listing interfaces: %v\n", err)
			os.Exit(1)
		}
		for _, c := range candidates {
			fmt.Printf("%-12s %s\n", c.Interface.Name, c.Address)
		}
		os.Exit(0)
	}

	var cfg prolink.Config
	if *configFile != "" {
		loaded, err := prolink.LoadConfigFile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = prolink.DefaultConfig()
		cfg.DeviceName = *deviceName
		cfg.PreferredDeviceNumber = *preferredNumber
		cfg.InterfaceName = *ifaceName
		cfg.AdvertiseDNSSD = *advertiseDNSSD
	}

	vcdj := prolink.NewVirtualCDJ(cfg)

	vcdj.Registry.OnDeviceFound(func(ann *prolink.DeviceAnnouncement) {
		fmt.Printf("%s found  device %2d  %-20s %s\n", prolink.FormatEventTime(ann.Timestamp), ann.Number, ann.Name, ann.Address)
	})
	vcdj.Registry.OnDeviceLost(func(ann *prolink.DeviceAnnouncement) {
		fmt.Printf("%s lost   device %2d  %-20s %s\n", prolink.FormatEventTime(ann.Timestamp), ann.Number, ann.Name, ann.Address)
	})
	vcdj.Update.OnUpdate(func(update prolink.DeviceUpdate) {
		common := update.Common()
		fmt.Printf("%s status device %2d  %-10s tempo=%.2f master=%v\n",
			prolink.FormatEventTime(common.Timestamp), common.DeviceNumber, update.Kind(), update.EffectiveTempo(), update.IsTempoMaster())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := vcdj.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "starting virtual CDJ: %v\n", err)
		os.Exit(1)
	}
	defer vcdj.Stop()

	fmt.Printf("running as device %d — press 'm' to become tempo master, 'b' to send a manual beat, 'q' to quit\n", vcdj.DeviceNumber())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	keys := make(chan byte, 8)
	if t, err := term.Open("/dev/tty"); err == nil {
		_ = term.RawMode(t)
		go readKeys(t, keys)
		defer t.Restore()
		defer t.Close()
	} else {
		fmt.Fprintf(os.Stderr, "keyboard control unavailable (%v); running until interrupted\n", err)
	}

	for {
		select {
		case <-sig:
			return
		case k, ok := <-keys:
			if !ok {
				return
			}
			switch k {
			case 'q':
				return
			case 'm':
				if err := vcdj.BecomeMaster(); err != nil {
					fmt.Fprintf(os.Stderr, "become master: %v\n", err)
				}
			case 'b':
				if err := vcdj.SendBeat(); err != nil {
					fmt.Fprintf(os.Stderr, "send beat: %v\n", err)
				}
			}
		}
	}
}

func readKeys(t *term.Term, out chan<- byte) {
	defer close(out)
	buf := make([]byte, 1)
	for {
		n, err := t.Read(buf)
		if err != nil {
			return
		}
		if n > 0 {
			out <- buf[0]
		}
	}
}
