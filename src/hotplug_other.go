//go:build !linux

package prolink

// InterfaceWatcher is a no-op stand-in on non-Linux platforms, where udev
// is unavailable; Start always fails so callers notice at startup rather
// than silently missing hotplug events.
type InterfaceWatcher struct {
	lifecycle
}

// InterfaceChangeEvent reports one interface add/remove action. Unused on
// non-Linux builds but kept so cross-platform callers compile unchanged.
type InterfaceChangeEvent struct {
	Name   string
	Action string
}

// NewInterfaceWatcher constructs a stopped, non-functional InterfaceWatcher.
func NewInterfaceWatcher() *InterfaceWatcher {
	return &InterfaceWatcher{lifecycle: newLifecycle("hotplug")}
}

// Start always fails: interface hotplug watching is Linux-only (udev).
func (w *InterfaceWatcher) Start() error {
	return newErr(ErrSocketError, "interface hotplug watching is only supported on linux")
}

// Stop is a no-op.
func (w *InterfaceWatcher) Stop() error { return nil }

// OnChange subscribes but will never receive anything on this platform.
func (w *InterfaceWatcher) OnChange(fn func(InterfaceChangeEvent)) *Subscription[InterfaceChangeEvent] {
	return NewBus[InterfaceChangeEvent](InlineDelivery{}, "hotplug").Subscribe(fn)
}
