/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package broadcast

import "time"

// IndexAt returns the index of the interval whose [StartsAt, EndsAt) contains
// t, or -1. A time exactly equal to an interval's EndsAt belongs to the next
// interval, never both. Pure function over the ordered interval list.
func (tl *Timeline) IndexAt(t time.Time) int {
	if tl == nil {
		return -1
	}
	for i, iv := range tl.Intervals {
		if t.Before(iv.StartsAt) {
			break
		}
		if t.Before(iv.EndsAt) {
			return i
		}
	}
	return -1
}

// IntervalAt returns the interval currently scheduled at t, if any.
func (tl *Timeline) IntervalAt(t time.Time) (PlayableInterval, bool) {
	idx := tl.IndexAt(t)
	if idx < 0 {
		return PlayableInterval{}, false
	}
	return tl.Intervals[idx], true
}

// NextIndexAfter returns the index of the first interval starting strictly
// after t, or -1.
func (tl *Timeline) NextIndexAfter(t time.Time) int {
	if tl == nil {
		return -1
	}
	for i, iv := range tl.Intervals {
		if iv.StartsAt.After(t) {
			return i
		}
	}
	return -1
}

// NextAfter returns the first interval starting strictly after t, if any.
func (tl *Timeline) NextAfter(t time.Time) (PlayableInterval, bool) {
	idx := tl.NextIndexAfter(t)
	if idx < 0 {
		return PlayableInterval{}, false
	}
	return tl.Intervals[idx], true
}
