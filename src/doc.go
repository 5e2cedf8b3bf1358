// Package prolink implements a client for the Pioneer PRO DJ LINK network
// protocol: the UDP broadcast protocol used by CDJ players and mixers to
// announce presence, report playback status, and exchange beat-accurate
// timing information.
//
// A VirtualCDJ, once started, passively tracks every other device observed
// on the local broadcast segment via its DeviceRegistry, and participates
// in the network as a peer in its own right, including tempo-master
// election and handoff.
package prolink
