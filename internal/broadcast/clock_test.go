/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package broadcast

import (
	"testing"
	"time"
)

func TestSystemClockOffset(t *testing.T) {
	clock := NewSystemClock(time.Hour)

	if got := clock.Offset(); got != time.Hour {
		t.Errorf("Offset() = %v, want 1h", got)
	}

	diff := clock.Now().Sub(time.Now().UTC())
	if diff < 59*time.Minute || diff > 61*time.Minute {
		t.Errorf("Now() offset from wall clock = %v, want about 1h", diff)
	}
}

func TestSystemClockSetAndShift(t *testing.T) {
	clock := NewSystemClock(0)

	clock.SetOffset(30 * time.Minute)
	if got := clock.Offset(); got != 30*time.Minute {
		t.Errorf("after SetOffset: %v", got)
	}

	clock.Shift(-10 * time.Minute)
	if got := clock.Offset(); got != 20*time.Minute {
		t.Errorf("after Shift: %v", got)
	}

	clock.Shift(-time.Hour)
	if got := clock.Offset(); got != -40*time.Minute {
		t.Errorf("after negative Shift: %v", got)
	}
}

func TestSystemClockNowIsUTC(t *testing.T) {
	clock := NewSystemClock(0)
	if loc := clock.Now().Location(); loc != time.UTC {
		t.Errorf("Now() location = %v, want UTC", loc)
	}
}
