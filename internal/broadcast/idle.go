/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package broadcast

import "time"

// IdleOccurrenceID is the sentinel occurrence id of the fallback loop played
// whenever no real interval resolves.
const IdleOccurrenceID = "idle"

// IdlePlaceholder describes the white-noise fallback asset. Its position at a
// given effective time is effectiveTime mod Loop, so listeners hitting the
// idle state at different times hear a consistent position rather than a loop
// restarting at zero.
type IdlePlaceholder struct {
	Title    string
	AudioURL string
	Loop     time.Duration
}

// PositionAt returns the deterministic loop position for the effective time t.
func (p IdlePlaceholder) PositionAt(t time.Time) time.Duration {
	if p.Loop <= 0 {
		return 0
	}
	pos := time.Duration(t.UnixNano()) % p.Loop
	if pos < 0 {
		pos += p.Loop
	}
	return pos
}

// Interval returns the sentinel interval presented while idle.
func (p IdlePlaceholder) Interval() PlayableInterval {
	return PlayableInterval{
		OccurrenceID: IdleOccurrenceID,
		RecordingID:  IdleOccurrenceID,
		Title:        p.Title,
		AudioURL:     p.AudioURL,
		Duration:     p.Loop,
	}
}
