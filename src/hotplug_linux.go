//go:build linux

package prolink

import (
	"context"

	"github.com/jochenvg/go-udev"
)

// InterfaceWatcher notifies subscribers when a network interface appears
// or disappears, so a long-running Virtual CDJ can react to a USB
// Ethernet adapter being unplugged and replugged rather than staying
// bound to a dead socket (§4.12, Linux-only).
type InterfaceWatcher struct {
	lifecycle

	changed *Bus[InterfaceChangeEvent]

	cancel context.CancelFunc
	done   chan struct{}
}

// InterfaceChangeEvent reports one udev "net" subsystem action.
type InterfaceChangeEvent struct {
	Name   string
	Action string // "add" or "remove"
}

// NewInterfaceWatcher constructs a stopped InterfaceWatcher.
func NewInterfaceWatcher() *InterfaceWatcher {
	return &InterfaceWatcher{
		lifecycle: newLifecycle("hotplug"),
		changed:   NewBus[InterfaceChangeEvent](NewBoundedQueueDelivery(16), "hotplug"),
	}
}

// Start begins watching udev's netlink monitor for "net" subsystem events.
func (w *InterfaceWatcher) Start() error {
	if w.IsRunning() {
		return newErr(ErrAlreadyRunning, "interface watcher already running")
	}

	u := udev.Udev{}
	monitor := u.NewMonitorFromNetlink("udev")
	if err := monitor.FilterAddMatchSubsystem("net"); err != nil {
		return wrapErr(ErrSocketError, "setting udev net filter", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	deviceCh, errCh, err := monitor.DeviceChan(ctx)
	if err != nil {
		cancel()
		return wrapErr(ErrSocketError, "starting udev monitor", err)
	}

	w.cancel = cancel
	w.done = make(chan struct{})
	w.setRunning(true)

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case dev, ok := <-deviceCh:
				if !ok {
					return
				}
				w.changed.Emit(InterfaceChangeEvent{Name: dev.Sysname(), Action: dev.Action()})
			case err, ok := <-errCh:
				if !ok {
					continue
				}
				componentLogger("hotplug").Warnf("udev monitor error: %v", err)
			}
		}
	}()

	return nil
}

// Stop cancels the udev monitor and waits for its goroutine to exit.
func (w *InterfaceWatcher) Stop() error {
	if !w.IsRunning() {
		return nil
	}
	w.setRunning(false)
	w.cancel()
	<-w.done
	return nil
}

// OnChange subscribes to interface add/remove events.
func (w *InterfaceWatcher) OnChange(fn func(InterfaceChangeEvent)) *Subscription[InterfaceChangeEvent] {
	return w.changed.Subscribe(fn)
}
