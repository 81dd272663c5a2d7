/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package broadcast implements the virtual radio engine: it derives a
// timeline of absolutely-timestamped playable intervals from the active
// program and deterministically resolves what every listener should hear at
// any effective instant. Nothing here touches audio; the presentation layer
// observes the playback state and plays accordingly.
package broadcast

import (
	"sync"
	"time"
)

// Clock supplies the effective time driving all schedule decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock shifted by an adjustable manual offset. The
// offset exists for demo and testing tooling ("time travel"); in production
// it stays zero.
type SystemClock struct {
	mu     sync.RWMutex
	offset time.Duration
}

// NewSystemClock creates a clock with an initial manual offset.
func NewSystemClock(offset time.Duration) *SystemClock {
	return &SystemClock{offset: offset}
}

// Now returns the effective time in UTC.
func (c *SystemClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().UTC().Add(c.offset)
}

// Offset returns the current manual offset.
func (c *SystemClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// SetOffset replaces the manual offset.
func (c *SystemClock) SetOffset(offset time.Duration) {
	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()
}

// Shift adds delta to the manual offset.
func (c *SystemClock) Shift(delta time.Duration) {
	c.mu.Lock()
	c.offset += delta
	c.mu.Unlock()
}
