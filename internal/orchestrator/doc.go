// Package orchestrator implements the Scan and Transmission orchestrators:
// multi-step measurement sequences that drive motors, shutter, beamstop,
// and detector through several commands in sequence and report aggregate
// progress upward.
//
// Grounded on original_source/cct/core2/commands/scan.py (the scan
// command's startScan/stopScan/scanstarted/scanfinished/scanprogress
// contract this package's Scan satisfies) and
// original_source/cct/core2/dataclasses/scan.py (the per-point
// motor-value + named-counters record layout persisted here), plus
// original_source/cct/qtgui2/measurement/transmission/transmission.py for
// the empty/sample/dark exposure sequence and the
// T = (I_sample - I_dark) / (I_empty - I_dark) transmission formula.
//
// Like internal/command, orchestrators run on the single event-dispatcher
// thread: Tick is polled periodically by cmd/cctd's main loop and must
// never block. All device interaction goes through
// device.Frontend's asynchronous Get/Set/IssueCommand, exactly as
// internal/command's device-driving commands do.
package orchestrator
