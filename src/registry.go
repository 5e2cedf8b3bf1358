package prolink

import (
	"sync"
	"time"
)

// deviceExpiry is how long a device can go without a keep-alive before the
// Device Registry considers it gone (§4.6).
const deviceExpiry = 10 * time.Second

// deviceEntry is the registry's bookkeeping record for one observed device.
type deviceEntry struct {
	ref         *DeviceReference
	announcement *DeviceAnnouncement
	firstSeenAt time.Time
	lastSeenAt  time.Time
}

// DeviceRegistry tracks every CDJ/mixer/rekordbox device seen on the
// network via keep-alive announcements, expiring entries that go silent
// for longer than deviceExpiry.
type DeviceRegistry struct {
	lifecycle

	mu      sync.Mutex
	devices map[*DeviceReference]*deviceEntry

	found    *Bus[*DeviceAnnouncement]
	lost     *Bus[*DeviceAnnouncement]
	conflict *Bus[*DeviceAnnouncement]

	ignoredMu sync.RWMutex
	ignored   map[DeviceReference]struct{}

	defendedMu     sync.RWMutex
	defendedNumber uint8
	hasDefended    bool
}

// NewDeviceRegistry constructs an empty registry. Callers feed it
// announcements via Update as they arrive off the Announcement Socket.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		lifecycle: newLifecycle("registry"),
		devices:   make(map[*DeviceReference]*deviceEntry),
		found:     NewBus[*DeviceAnnouncement](NewBoundedQueueDelivery(64), "registry.found"),
		lost:      NewBus[*DeviceAnnouncement](NewBoundedQueueDelivery(64), "registry.lost"),
		conflict:  NewBus[*DeviceAnnouncement](NewBoundedQueueDelivery(64), "registry.conflict"),
		ignored:   make(map[DeviceReference]struct{}),
	}
}

// Ignore excludes a device reference (typically a Virtual CDJ's own
// reference) from tracking and from found/lost notifications — the
// self-defense boundary described in §4.3/§4.7.
func (r *DeviceRegistry) Ignore(ref *DeviceReference) {
	r.ignoredMu.Lock()
	defer r.ignoredMu.Unlock()
	r.ignored[*ref] = struct{}{}
}

// Unignore reverses a prior Ignore.
func (r *DeviceRegistry) Unignore(ref *DeviceReference) {
	r.ignoredMu.Lock()
	defer r.ignoredMu.Unlock()
	delete(r.ignored, *ref)
}

func (r *DeviceRegistry) isIgnored(ref *DeviceReference) bool {
	r.ignoredMu.RLock()
	defer r.ignoredMu.RUnlock()
	_, ok := r.ignored[*ref]
	return ok
}

// Update records a newly received announcement, emitting a OnDeviceFound
// notification the first time this reference is seen (or re-seen after
// expiry). Ignored references are dropped silently.
func (r *DeviceRegistry) Update(ann *DeviceAnnouncement) {
	ref := ann.Reference()
	if r.isIgnored(ref) {
		return
	}

	r.mu.Lock()
	entry, known := r.devices[ref]
	now := ann.Timestamp
	if !known {
		entry = &deviceEntry{ref: ref, firstSeenAt: now}
		r.devices[ref] = entry
	}
	entry.announcement = ann
	entry.lastSeenAt = now
	r.mu.Unlock()

	if !known {
		// Delivered via a bounded background queue rather than inline:
		// callers reacting to device-found by e.g. opening a dbserver
		// connection must not stall the announce receive loop.
		r.found.Emit(ann)
	}

	r.defend(ann)
}

// SetDefendedNumber tells the registry which device number this process's
// own Virtual CDJ currently holds. Every subsequent announcement claiming
// that same number from a different address is treated as an intruder and
// reported via OnConflict, so the Virtual CDJ can respond with a
// defensive announcement burst (§4.3/§4.6).
func (r *DeviceRegistry) SetDefendedNumber(number uint8) {
	r.defendedMu.Lock()
	defer r.defendedMu.Unlock()
	r.defendedNumber = number
	r.hasDefended = true
}

// ClearDefendedNumber turns off self-defense checks, used once the Virtual
// CDJ holding number stops.
func (r *DeviceRegistry) ClearDefendedNumber() {
	r.defendedMu.Lock()
	defer r.defendedMu.Unlock()
	r.hasDefended = false
}

// defend reports ann to OnConflict subscribers if it claims the currently
// defended device number. Ignored references (this process's own address)
// never reach here, so only a genuinely different device announcing the
// same number triggers it.
func (r *DeviceRegistry) defend(ann *DeviceAnnouncement) {
	r.defendedMu.RLock()
	number, active := r.defendedNumber, r.hasDefended
	r.defendedMu.RUnlock()

	if active && ann.Number == number {
		r.conflict.Emit(ann)
	}
}

// Expire removes every device whose last announcement is older than
// deviceExpiry as of now, emitting an OnDeviceLost notification for each.
// Callers run this on a periodic tick (the Announcement Socket does so
// once a second).
func (r *DeviceRegistry) Expire(now time.Time) {
	var lost []*DeviceAnnouncement

	r.mu.Lock()
	for ref, entry := range r.devices {
		if now.Sub(entry.lastSeenAt) > deviceExpiry {
			lost = append(lost, entry.announcement)
			delete(r.devices, ref)
		}
	}
	// firstSeenAt tracking only has meaning while at least one device is
	// present; once the registry is empty there is nothing to reset
	// relative to, so no further bookkeeping is needed here.
	r.mu.Unlock()

	for _, ann := range lost {
		r.lost.Emit(ann)
	}
}

// Flush immediately removes every tracked device, emitting OnDeviceLost for
// each — used when the Announcement Socket stops, since a stopped listener
// can no longer vouch that any of them are still present.
func (r *DeviceRegistry) Flush() {
	r.mu.Lock()
	lost := make([]*DeviceAnnouncement, 0, len(r.devices))
	for ref, entry := range r.devices {
		lost = append(lost, entry.announcement)
		delete(r.devices, ref)
	}
	r.mu.Unlock()

	for _, ann := range lost {
		r.lost.Emit(ann)
	}
}

// CurrentDevices returns a snapshot of every currently tracked
// announcement.
func (r *DeviceRegistry) CurrentDevices() []*DeviceAnnouncement {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*DeviceAnnouncement, 0, len(r.devices))
	for _, entry := range r.devices {
		out = append(out, entry.announcement)
	}
	return out
}

// DeviceFor returns the currently tracked announcement for ref, if any.
func (r *DeviceRegistry) DeviceFor(ref *DeviceReference) (*DeviceAnnouncement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.devices[ref]
	if !ok {
		return nil, false
	}
	return entry.announcement, true
}

// NumberClaimed reports whether number is currently claimed by some other
// tracked device, the check a Virtual CDJ makes before settling on a
// device number during startup.
func (r *DeviceRegistry) NumberClaimed(number uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ref := range r.devices {
		if ref.Number == number {
			return true
		}
	}
	return false
}

// OnDeviceFound subscribes to newly observed devices.
func (r *DeviceRegistry) OnDeviceFound(fn func(*DeviceAnnouncement)) *Subscription[*DeviceAnnouncement] {
	return r.found.Subscribe(fn)
}

// OnDeviceLost subscribes to devices leaving the network (by expiry or
// Flush).
func (r *DeviceRegistry) OnDeviceLost(fn func(*DeviceAnnouncement)) *Subscription[*DeviceAnnouncement] {
	return r.lost.Subscribe(fn)
}

// OnConflict subscribes to intruder announcements claiming the currently
// defended device number (see SetDefendedNumber).
func (r *DeviceRegistry) OnConflict(fn func(*DeviceAnnouncement)) *Subscription[*DeviceAnnouncement] {
	return r.conflict.Subscribe(fn)
}

// Count returns the number of currently tracked devices.
func (r *DeviceRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}
