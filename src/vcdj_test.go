package prolink

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVCDJ() *VirtualCDJ {
	cfg := DefaultConfig()
	cfg.DeviceName = "test-vcdj"
	v := NewVirtualCDJ(cfg)
	v.iface = &MatchedInterface{Address: netip.MustParsePrefix("192.168.1.99/24")}
	v.deviceNumber = 1
	return v
}

func TestClaimDeviceNumber_PrefersConfigured(t *testing.T) {
	v := newTestVCDJ()
	v.cfg.PreferredDeviceNumber = 3

	n, err := v.claimDeviceNumber()
	require.NoError(t, err)
	assert.Equal(t, uint8(3), n)
}

func TestClaimDeviceNumber_FallsBackWhenPreferredTaken(t *testing.T) {
	v := newTestVCDJ()
	v.cfg.PreferredDeviceNumber = 1
	v.Registry.Update(newTestAnnouncement(1, time.Now()))

	n, err := v.claimDeviceNumber()
	require.NoError(t, err)
	assert.Equal(t, uint8(2), n)
}

func TestClaimDeviceNumber_ErrorsWhenAllTaken(t *testing.T) {
	v := newTestVCDJ()
	for n := uint8(1); n <= 4; n++ {
		v.Registry.Update(newTestAnnouncement(n, time.Now()))
	}

	_, err := v.claimDeviceNumber()
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrDeviceNumberConflict, e.Kind)
}

func TestBecomeMaster_NoCurrentMasterBecomesMasterImmediately(t *testing.T) {
	v := newTestVCDJ()
	v.setRunning(true)
	t.Cleanup(func() { v.currentBeatSender().Stop() })

	require.NoError(t, v.BecomeMaster())
	assert.True(t, v.isMaster())
}

func TestBecomeMaster_ExistingMasterMovesToRequestedState(t *testing.T) {
	v := newTestVCDJ()
	v.setRunning(true)

	masterRef := GetDeviceRef(2, netip.MustParseAddr("192.168.1.2"))
	v.latest[masterRef] = &CdjStatus{
		Env:    UpdateCommon{DeviceNumber: 2},
		Master: true,
	}

	// Beat socket is not started in this test, so the request send fails;
	// the role transition happens before the send is attempted regardless.
	_ = v.BecomeMaster()

	v.roleMu.Lock()
	role := v.role
	v.roleMu.Unlock()
	assert.Equal(t, roleRequestedMaster, role)
}

func TestBecomeMaster_NotRunningErrors(t *testing.T) {
	v := newTestVCDJ()
	err := v.BecomeMaster()
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrNotRunning, e.Kind)
}

func TestOnRequestTimeout_RevertsToFollower(t *testing.T) {
	v := newTestVCDJ()
	v.role = roleRequestedMaster

	v.onRequestTimeout()

	assert.Equal(t, roleFollower, v.role)
}

func TestHandleHandoffResponse_GrantedTransitionsToMaster(t *testing.T) {
	v := newTestVCDJ()
	v.deviceNumber = 3
	v.role = roleRequestedMaster
	t.Cleanup(func() { v.currentBeatSender().Stop() })

	v.handleHandoffResponse(MasterHandoffResponse{RequestingDevice: 3, Granted: true})

	assert.True(t, v.isMaster())
}

func TestHandleHandoffResponse_IgnoresMismatchedDevice(t *testing.T) {
	v := newTestVCDJ()
	v.deviceNumber = 3
	v.role = roleRequestedMaster

	v.handleHandoffResponse(MasterHandoffResponse{RequestingDevice: 9, Granted: true})

	assert.Equal(t, roleRequestedMaster, v.role)
}

func TestHandleHandoffResponse_IgnoresDenial(t *testing.T) {
	v := newTestVCDJ()
	v.deviceNumber = 3
	v.role = roleRequestedMaster

	v.handleHandoffResponse(MasterHandoffResponse{RequestingDevice: 3, Granted: false})

	assert.Equal(t, roleRequestedMaster, v.role)
}

func TestYieldTo_TransitionsToYieldingMaster(t *testing.T) {
	v := newTestVCDJ()
	v.role = roleMaster

	v.yieldTo(2)

	v.roleMu.Lock()
	defer v.roleMu.Unlock()
	assert.Equal(t, roleYieldingMaster, v.role)
	assert.Equal(t, uint8(2), v.yieldTarget)
}

func TestYieldTo_NoopWhenNotMaster(t *testing.T) {
	v := newTestVCDJ()
	v.role = roleFollower

	v.yieldTo(2)

	assert.Equal(t, roleFollower, v.role)
}

func TestOnYieldTimeout_ReassertsMasterWhenSuccessorNeverAppeared(t *testing.T) {
	v := newTestVCDJ()
	v.role = roleYieldingMaster
	v.yieldTarget = 2
	t.Cleanup(func() { v.currentBeatSender().Stop() })

	v.onYieldTimeout()

	assert.True(t, v.isMaster())
}

func TestOnYieldTimeout_StaysFollowerWhenSuccessorTookOver(t *testing.T) {
	v := newTestVCDJ()
	v.role = roleYieldingMaster
	v.yieldTarget = 2

	successorRef := GetDeviceRef(2, netip.MustParseAddr("192.168.1.2"))
	v.latest[successorRef] = &CdjStatus{
		Env:    UpdateCommon{DeviceNumber: 2},
		Master: true,
	}

	v.onYieldTimeout()

	assert.Equal(t, roleFollower, v.role)
}

func TestSetPlaying_StartsAndStopsBeatSenderWhenRunning(t *testing.T) {
	v := newTestVCDJ()
	v.setRunning(true)
	t.Cleanup(func() { v.currentBeatSender().Stop() })

	require.NoError(t, v.SetPlaying(true))
	assert.True(t, v.currentBeatSender().IsRunning())

	require.NoError(t, v.SetPlaying(false))
	assert.False(t, v.currentBeatSender().IsRunning())
}

func TestSetPlaying_NoopWhenUnchanged(t *testing.T) {
	v := newTestVCDJ()
	v.setRunning(true)
	t.Cleanup(func() { v.currentBeatSender().Stop() })

	require.NoError(t, v.SetPlaying(true))
	require.NoError(t, v.SetPlaying(true))
	assert.True(t, v.currentBeatSender().IsRunning())
}

func TestSetPlaying_NotRunningDoesNotStartSender(t *testing.T) {
	v := newTestVCDJ()

	require.NoError(t, v.SetPlaying(true))
	assert.False(t, v.currentBeatSender().IsRunning())
}

func TestAssumeMaster_StartsBeatSenderOnlyWhenAlreadyPlaying(t *testing.T) {
	v := newTestVCDJ()
	v.setRunning(true)
	require.NoError(t, v.SetPlaying(true))
	t.Cleanup(func() { v.currentBeatSender().Stop() })

	require.NoError(t, v.BecomeMaster())

	assert.True(t, v.isMaster())
	assert.True(t, v.currentBeatSender().IsRunning())
}

func TestAssumeMaster_DoesNotStartBeatSenderWhenNotPlaying(t *testing.T) {
	v := newTestVCDJ()
	v.setRunning(true)
	t.Cleanup(func() { v.currentBeatSender().Stop() })

	require.NoError(t, v.BecomeMaster())

	assert.True(t, v.isMaster())
	assert.False(t, v.currentBeatSender().IsRunning())
}

func TestYieldTo_DoesNotStopBeatSenderWhilePlaying(t *testing.T) {
	v := newTestVCDJ()
	v.setRunning(true)
	require.NoError(t, v.SetPlaying(true))
	v.role = roleMaster
	t.Cleanup(func() { v.currentBeatSender().Stop() })

	v.yieldTo(2)

	assert.True(t, v.currentBeatSender().IsRunning())
}

func TestRoleFlags_ReflectsSetters(t *testing.T) {
	v := newTestVCDJ()

	v.SetSync(true)
	v.SetOnAir(true)
	require.NoError(t, v.SetPlaying(true))

	playing, synced, onAir := v.roleFlags()
	assert.True(t, playing)
	assert.True(t, synced)
	assert.True(t, onAir)
}

func TestHandleConflict_CompletesDefensiveBurstPromptly(t *testing.T) {
	v := newTestVCDJ()

	start := time.Now()
	v.handleConflict(newTestAnnouncement(1, start))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 300*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}
