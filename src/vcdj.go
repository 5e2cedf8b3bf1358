package prolink

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// masterRole is the Virtual CDJ's position in the tempo-master handoff
// state machine (§4.7).
type masterRole int

const (
	roleFollower masterRole = iota
	roleRequestedMaster
	roleMaster
	roleYieldingMaster
)

const (
	masterRequestTimeout = 5 * time.Second
	masterYieldTimeout   = 10 * time.Second
)

// VirtualCDJ presents this process as a PRO DJ LINK device: it claims a
// device number, broadcasts keep-alives, tracks every other device's
// status, and can contest for (and hold, and yield) the tempo-master
// role. It is the orchestrating component the other sockets are built to
// serve.
type VirtualCDJ struct {
	lifecycle

	cfg Config

	Announce *AnnouncementSocket
	Update   *UpdateSocket
	Beat     *BeatSocket
	Registry *DeviceRegistry

	iface        *MatchedInterface
	deviceNumber uint8
	mac          net.HardwareAddr

	statusMu sync.RWMutex
	latest   map[*DeviceReference]DeviceUpdate

	roleMu      sync.Mutex
	role        masterRole
	yieldTarget uint8
	roleTimer   *time.Timer

	stateMu sync.Mutex
	playing bool
	synced  bool
	onAir   bool

	metronome *Metronome

	beatSenderMu sync.Mutex
	beatSender   *BeatSender

	keepAliveStop chan struct{}
	keepAliveDone chan struct{}

	statusStop chan struct{}
	statusDone chan struct{}

	subs []func()
}

// NewVirtualCDJ constructs a stopped VirtualCDJ with its own Device
// Registry and the three protocol sockets wired to it.
func NewVirtualCDJ(cfg Config) *VirtualCDJ {
	registry := NewDeviceRegistry()
	v := &VirtualCDJ{
		lifecycle: newLifecycle("vcdj"),
		cfg:       cfg,
		Announce:  NewAnnouncementSocket(registry),
		Update:    NewUpdateSocket(registry),
		Beat:      NewBeatSocket(),
		Registry:  registry,
		latest:    make(map[*DeviceReference]DeviceUpdate),
		metronome: NewMetronome(time.Now(), 120.0),
	}
	v.beatSender = NewBeatSender(v.metronome, v.emitBeat)
	return v
}

// Start brings up all three sockets concurrently (mirroring the teacher's
// errgroup-based multi-step startup), claims a device number, registers
// self-defense with the registry, and begins keep-alive broadcasting.
func (v *VirtualCDJ) Start(ctx context.Context) error {
	if v.IsRunning() {
		return newErr(ErrAlreadyRunning, "virtual CDJ already running")
	}

	iface, err := v.resolveInterface()
	if err != nil {
		return err
	}
	v.iface = iface
	v.mac = interfaceMAC(iface.Interface)

	number, err := v.claimDeviceNumber()
	if err != nil {
		return err
	}
	v.deviceNumber = number

	selfRef := GetDeviceRef(number, iface.Address.Addr())
	v.Registry.Ignore(selfRef)
	v.Registry.SetDefendedNumber(number)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return v.Announce.Start(iface) })
	g.Go(func() error { return v.Update.Start(iface) })
	g.Go(func() error { return v.Beat.Start(iface) })
	if err := g.Wait(); err != nil {
		return wrapErr(ErrSocketError, "starting protocol sockets", err)
	}

	statusSub := v.Update.OnUpdate(v.recordStatus)
	reqSub := v.Beat.OnHandoffRequest(v.handleHandoffRequest)
	respSub := v.Beat.OnHandoffResponse(v.handleHandoffResponse)
	conflictSub := v.Registry.OnConflict(v.handleConflict)
	v.subs = append(v.subs,
		func() { v.Update.updates.Unsubscribe(statusSub) },
		func() { v.Beat.handoffRequest.Unsubscribe(reqSub) },
		func() { v.Beat.handoffResponse.Unsubscribe(respSub) },
		func() { v.Registry.conflict.Unsubscribe(conflictSub) },
	)

	v.keepAliveStop = make(chan struct{})
	v.keepAliveDone = make(chan struct{})
	go v.keepAliveLoop()

	v.statusStop = make(chan struct{})
	v.statusDone = make(chan struct{})
	go v.statusLoop()

	if v.cfg.AdvertiseDNSSD {
		if err := startDNSSDAdvertisement(v); err != nil {
			componentLogger("vcdj").Warnf("DNS-SD advertisement failed: %v", err)
		}
	}

	v.setRunning(true)
	componentLogger("vcdj").Infof("virtual CDJ running as device %d on %s", number, iface.Interface.Name)
	return nil
}

// Stop halts keep-alives and all three sockets, yielding master first if
// currently held.
func (v *VirtualCDJ) Stop() error {
	if !v.IsRunning() {
		return nil
	}

	if v.isMaster() {
		v.yieldTo(0)
	}

	close(v.keepAliveStop)
	<-v.keepAliveDone

	close(v.statusStop)
	<-v.statusDone

	_ = v.currentBeatSender().Stop()
	_ = v.Announce.Stop()
	_ = v.Update.Stop()
	_ = v.Beat.Stop()

	v.Registry.ClearDefendedNumber()

	for _, unsub := range v.subs {
		unsub()
	}
	v.subs = nil

	v.setRunning(false)
	return nil
}

// currentBeatSender returns the BeatSender instance currently in use,
// synchronized against assumeMaster replacing it concurrently.
func (v *VirtualCDJ) currentBeatSender() *BeatSender {
	v.beatSenderMu.Lock()
	defer v.beatSenderMu.Unlock()
	return v.beatSender
}

func (v *VirtualCDJ) replaceBeatSender(bs *BeatSender) {
	v.beatSenderMu.Lock()
	v.beatSender = bs
	v.beatSenderMu.Unlock()
}

func (v *VirtualCDJ) resolveInterface() (*MatchedInterface, error) {
	if v.cfg.InterfaceName != "" {
		candidates, err := ListCandidateInterfaces()
		if err != nil {
			return nil, err
		}
		for _, c := range candidates {
			if c.Interface.Name == v.cfg.InterfaceName {
				return &c, nil
			}
		}
		return nil, newErr(ErrNoMatchingInterface, "configured interface not found")
	}

	devices := v.Registry.CurrentDevices()
	if len(devices) > 0 {
		return PickInterfaceFor(devices[0].Address)
	}

	candidates, err := ListCandidateInterfaces()
	if err != nil || len(candidates) == 0 {
		return nil, newErr(ErrNoMatchingInterface, "no usable local interface found")
	}
	return &candidates[0], nil
}

func interfaceMAC(iface net.Interface) net.HardwareAddr {
	if len(iface.HardwareAddr) >= 6 {
		return iface.HardwareAddr
	}
	return make(net.HardwareAddr, 6)
}

// claimDeviceNumber tries the configured preference first, then 1-4 in
// order, settling on the first number the registry has not already seen
// claimed by a real device.
func (v *VirtualCDJ) claimDeviceNumber() (uint8, error) {
	order := []uint8{1, 2, 3, 4}
	if v.cfg.PreferredDeviceNumber >= 1 && v.cfg.PreferredDeviceNumber <= 4 {
		order = append([]uint8{v.cfg.PreferredDeviceNumber}, order...)
	}

	seen := map[uint8]bool{}
	for _, n := range order {
		if seen[n] {
			continue
		}
		seen[n] = true
		if !v.Registry.NumberClaimed(n) {
			return n, nil
		}
	}
	return 0, newErr(ErrDeviceNumberConflict, "no free device number in 1-4")
}

func (v *VirtualCDJ) keepAliveLoop() {
	defer close(v.keepAliveDone)
	ticker := time.NewTicker(v.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		v.sendKeepAlive()
		select {
		case <-v.keepAliveStop:
			return
		case <-ticker.C:
		}
	}
}

func (v *VirtualCDJ) sendKeepAlive() {
	ann := &DeviceAnnouncement{
		Name:      v.cfg.DeviceName,
		Number:    v.deviceNumber,
		MAC:       v.mac,
		PeerCount: 1,
	}
	data := EncodeDeviceAnnouncement(ann)
	if err := v.Announce.Send(data); err != nil {
		componentLogger("vcdj").Warnf("keep-alive send failed: %v", err)
	}
}

// recordStatus caches the latest DeviceUpdate per device reference, the
// state GetLatestStatusFor and GetTempoMaster read from.
func (v *VirtualCDJ) recordStatus(update DeviceUpdate) {
	v.statusMu.Lock()
	v.latest[update.Reference()] = update
	v.statusMu.Unlock()
}

// GetLatestStatusFor returns the most recently received DeviceUpdate for
// ref, or nil if none has been seen.
func (v *VirtualCDJ) GetLatestStatusFor(ref *DeviceReference) DeviceUpdate {
	v.statusMu.RLock()
	defer v.statusMu.RUnlock()
	return v.latest[ref]
}

// GetTempoMaster returns the DeviceReference of whichever device's latest
// status claims the tempo-master role, or nil if none does.
func (v *VirtualCDJ) GetTempoMaster() *DeviceReference {
	v.statusMu.RLock()
	defer v.statusMu.RUnlock()
	for ref, update := range v.latest {
		if update.IsTempoMaster() {
			return ref
		}
	}
	if v.isMaster() {
		return GetDeviceRef(v.deviceNumber, v.iface.Address.Addr())
	}
	return nil
}

func (v *VirtualCDJ) isMaster() bool {
	v.roleMu.Lock()
	defer v.roleMu.Unlock()
	return v.role == roleMaster
}

// BecomeMaster starts (or no-ops if already underway) the request side of
// the tempo-master handoff: if no device currently claims master, this
// Virtual CDJ becomes master immediately; otherwise it asks the current
// master to yield and waits up to masterRequestTimeout for a grant.
func (v *VirtualCDJ) BecomeMaster() error {
	if !v.IsRunning() {
		return newErr(ErrNotRunning, "virtual CDJ not running")
	}

	current := v.GetTempoMaster()

	v.roleMu.Lock()
	if v.role == roleMaster || v.role == roleRequestedMaster {
		v.roleMu.Unlock()
		return nil
	}

	if current == nil {
		v.role = roleMaster
		v.roleMu.Unlock()
		v.assumeMaster()
		return nil
	}

	v.role = roleRequestedMaster
	v.roleTimer = time.AfterFunc(masterRequestTimeout, v.onRequestTimeout)
	v.roleMu.Unlock()

	req := EncodeMasterHandoffRequest(v.cfg.DeviceName, MasterHandoffRequest{RequestingDevice: v.deviceNumber})
	return v.Beat.Send(req)
}

func (v *VirtualCDJ) onRequestTimeout() {
	v.roleMu.Lock()
	if v.role == roleRequestedMaster {
		v.role = roleFollower
	}
	v.roleMu.Unlock()
}

func (v *VirtualCDJ) handleHandoffRequest(req MasterHandoffRequest) {
	if !v.isMaster() {
		return
	}
	resp := EncodeMasterHandoffResponse(v.cfg.DeviceName, MasterHandoffResponse{RequestingDevice: req.RequestingDevice, Granted: true})
	if err := v.Beat.Send(resp); err != nil {
		componentLogger("vcdj").Warnf("handoff response send failed: %v", err)
		return
	}
	v.yieldTo(req.RequestingDevice)
}

func (v *VirtualCDJ) handleHandoffResponse(resp MasterHandoffResponse) {
	if resp.RequestingDevice != v.deviceNumber || !resp.Granted {
		return
	}

	v.roleMu.Lock()
	if v.role != roleRequestedMaster {
		v.roleMu.Unlock()
		return
	}
	if v.roleTimer != nil {
		v.roleTimer.Stop()
	}
	v.role = roleMaster
	v.roleMu.Unlock()

	v.assumeMaster()
}

// yieldTo transitions from Master to YieldingMaster(target), broadcasting
// a status frame that names target as the incoming master and starting
// the masterYieldTimeout reassertion timer. target 0 means "yield with no
// specific successor" (used on Stop). The Beat Sender's life is tied to
// set_playing, not to the master role, so yielding never touches it —
// a yielding (or follower) device still emits its own beats while playing.
func (v *VirtualCDJ) yieldTo(target uint8) {
	v.roleMu.Lock()
	if v.role != roleMaster {
		v.roleMu.Unlock()
		return
	}
	v.role = roleYieldingMaster
	v.yieldTarget = target
	v.roleTimer = time.AfterFunc(masterYieldTimeout, v.onYieldTimeout)
	v.roleMu.Unlock()

	v.sendStatus()
}

func (v *VirtualCDJ) onYieldTimeout() {
	v.roleMu.Lock()
	if v.role != roleYieldingMaster {
		v.roleMu.Unlock()
		return
	}
	target := v.yieldTarget
	v.roleMu.Unlock()

	// The named successor never asserted master within the timeout:
	// reassert ourselves rather than leave the network without one.
	if target != 0 {
		if ref := v.GetTempoMaster(); ref != nil && ref.Number == target {
			v.roleMu.Lock()
			v.role = roleFollower
			v.roleMu.Unlock()
			return
		}
	}

	v.roleMu.Lock()
	v.role = roleMaster
	v.roleMu.Unlock()
	v.assumeMaster()
}

func (v *VirtualCDJ) assumeMaster() {
	v.metronome = NewMetronome(time.Now(), v.metronome.Tempo())
	bs := NewBeatSender(v.metronome, v.emitBeat)
	old := v.currentBeatSender()
	v.replaceBeatSender(bs)
	_ = old.Stop()

	// The new BeatSender only needs starting here if this Virtual CDJ was
	// already marked playing before acquiring master — set_playing(true)
	// handles the ordinary case of starting the sender itself.
	v.stateMu.Lock()
	playing := v.playing
	v.stateMu.Unlock()
	if playing && v.IsRunning() {
		_ = bs.Start()
	}
}

func (v *VirtualCDJ) emitBeat(beatIndex int64, snap Snapshot) {
	barPos := uint8((beatIndex-1)%4) + 1
	data := EncodeBeat(v.cfg.DeviceName, PitchFull, uint16(snap.Tempo*100), barPos)
	if err := v.Beat.Send(data); err != nil {
		componentLogger("vcdj").Warnf("beat send failed: %v", err)
	}
}

// SetTempo updates the metronome tempo that the Beat Sender and the
// outbound status packets report.
func (v *VirtualCDJ) SetTempo(bpm float64) {
	v.metronome.SetTempo(bpm)
	v.currentBeatSender().TimelineChanged()
}

// SetPlaying updates the playing role flag reported in this Virtual CDJ's
// outbound status packets. Starting to play while sending status spawns
// the Beat Sender; stopping tears it down (§4.7) — independent of whether
// this Virtual CDJ currently holds the tempo-master role.
func (v *VirtualCDJ) SetPlaying(playing bool) error {
	v.stateMu.Lock()
	changed := v.playing != playing
	v.playing = playing
	v.stateMu.Unlock()

	if !changed || !v.IsRunning() {
		return nil
	}
	if playing {
		return v.currentBeatSender().Start()
	}
	return v.currentBeatSender().Stop()
}

// SetSync updates the synced role flag reported in this Virtual CDJ's
// outbound status packets.
func (v *VirtualCDJ) SetSync(synced bool) {
	v.stateMu.Lock()
	v.synced = synced
	v.stateMu.Unlock()
}

// SetOnAir updates the on-air role flag reported in this Virtual CDJ's
// outbound status packets.
func (v *VirtualCDJ) SetOnAir(onAir bool) {
	v.stateMu.Lock()
	v.onAir = onAir
	v.stateMu.Unlock()
}

// roleFlags returns the current playing/synced/on-air role flags.
func (v *VirtualCDJ) roleFlags() (playing, synced, onAir bool) {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	return v.playing, v.synced, v.onAir
}

// statusLoop periodically broadcasts this Virtual CDJ's CdjStatus on the
// update port, the status half of C7's "broadcast periodic keep-alives and
// status packets to appear as a CDJ" duty (the keep-alive half is
// keepAliveLoop).
func (v *VirtualCDJ) statusLoop() {
	defer close(v.statusDone)
	ticker := time.NewTicker(v.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		v.sendStatus()
		select {
		case <-v.statusStop:
			return
		case <-ticker.C:
		}
	}
}

// sendStatus builds and broadcasts one CdjStatus frame reflecting this
// Virtual CDJ's current role flags, master state, and metronome position.
func (v *VirtualCDJ) sendStatus() {
	playing, synced, onAir := v.roleFlags()

	v.roleMu.Lock()
	master := v.role == roleMaster
	handoff := NoMasterHandoff
	if v.role == roleYieldingMaster {
		handoff = v.yieldTarget
		if handoff == 0 {
			handoff = NoMasterHandoff
		}
	}
	v.roleMu.Unlock()

	snap := v.metronome.SnapshotAt(time.Now())
	barPos := uint8((snap.Beat-1)%4) + 1

	status := &CdjStatus{
		Env:                   UpdateCommon{DeviceName: v.cfg.DeviceName, DeviceNumber: v.deviceNumber},
		Pitch:                 PitchFull,
		BPMx100:               uint16(snap.Tempo * 100),
		BeatWithinBarNum:      barPos,
		Playing:               playing,
		Master:                master,
		Synced:                synced,
		OnAir:                 onAir,
		HandingMasterToDevice: handoff,
	}
	data := EncodeCdjStatus(v.cfg.DeviceName, status)
	if err := v.Update.SendBroadcast(data); err != nil {
		componentLogger("vcdj").Warnf("status send failed: %v", err)
	}
}

// handleConflict reacts to the Device Registry reporting that another
// device is announcing this Virtual CDJ's own device number: it asserts
// its claim with a short burst of keep-alives (§4.3/§4.6), matching the
// reference implementation's defensive-announcement behavior.
func (v *VirtualCDJ) handleConflict(ann *DeviceAnnouncement) {
	componentLogger("vcdj").Warnf("device number %d claimed by intruder at %s, asserting", v.deviceNumber, ann.Address)
	const defenseBurstCount = 4
	const defenseBurstInterval = 50 * time.Millisecond
	for i := 0; i < defenseBurstCount; i++ {
		v.sendKeepAlive()
		if i < defenseBurstCount-1 {
			time.Sleep(defenseBurstInterval)
		}
	}
}

// SendBeat manually emits one beat immediately at the metronome's current
// position, independent of the Beat Sender's own timing loop — used by
// callers driving playback position externally (e.g. the demo CLI's
// keyboard-triggered manual beat).
func (v *VirtualCDJ) SendBeat() error {
	snap := v.metronome.SnapshotAt(time.Now())
	barPos := uint8((snap.Beat-1)%4) + 1
	data := EncodeBeat(v.cfg.DeviceName, PitchFull, uint16(snap.Tempo*100), barPos)
	return v.Beat.Send(data)
}

// DeviceNumber returns the number this Virtual CDJ claimed at Start.
func (v *VirtualCDJ) DeviceNumber() uint8 { return v.deviceNumber }
