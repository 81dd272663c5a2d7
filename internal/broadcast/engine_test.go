/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/soundcommons/etherwave/internal/events"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recorder captures track boundary callbacks in order.
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	kind         string // "started" or "ended"
	occurrenceID string
	position     time.Duration
}

func (r *recorder) TrackStarted(iv PlayableInterval, pos time.Duration) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{"started", iv.OccurrenceID, pos})
	r.mu.Unlock()
}

func (r *recorder) TrackEnded(iv PlayableInterval) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{"ended", iv.OccurrenceID, 0})
	r.mu.Unlock()
}

func (r *recorder) log() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

var engineIdle = IdlePlaceholder{
	Title:    "Off Air",
	AudioURL: "/static/white-noise.mp3",
	Loop:     5 * time.Minute,
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock, *recorder) {
	t.Helper()
	clock := newFakeClock(timelineBase)
	engine := NewEngine(clock, events.NewBus(), engineIdle, zerolog.Nop())
	rec := &recorder{}
	engine.AddListener(rec)
	return engine, clock, rec
}

func TestEngineStartsIdlePaused(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	st := engine.Snapshot()
	if !st.Idle || st.Playing || st.Offline {
		t.Fatalf("initial state = %+v", st)
	}
	if st.Interval.OccurrenceID != IdleOccurrenceID {
		t.Errorf("initial interval = %+v", st.Interval)
	}
}

func TestSetTimelineResolvesWithoutEventsWhilePaused(t *testing.T) {
	engine, clock, rec := newTestEngine(t)

	clock.Set(timelineBase.Add(45 * time.Second))
	engine.SetTimeline(resolverTimeline())

	st := engine.Snapshot()
	if st.Idle {
		t.Fatalf("expected scheduled state, got %+v", st)
	}
	if st.Interval.RecordingID != "rec1" {
		t.Errorf("interval = %+v", st.Interval)
	}
	if st.Position != 45*time.Second {
		t.Errorf("position = %v, want 45s", st.Position)
	}
	// Transitions are silent while paused: the display updates, no events.
	if got := rec.log(); len(got) != 0 {
		t.Errorf("paused transition emitted events: %v", got)
	}
}

func TestTickCrossesBoundaryEndedBeforeStarted(t *testing.T) {
	engine, clock, rec := newTestEngine(t)

	engine.Toggle()
	engine.SetTimeline(resolverTimeline())
	rec.reset()

	clock.Set(timelineBase.Add(65 * time.Second))
	engine.Tick()

	got := rec.log()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %v", got)
	}
	if got[0].kind != "ended" || got[0].occurrenceID != "rec1#0" {
		t.Errorf("first event = %+v, want ended rec1#0", got[0])
	}
	if got[1].kind != "started" || got[1].occurrenceID != "rec2#1" {
		t.Errorf("second event = %+v, want started rec2#1", got[1])
	}
	if got[1].position != 4*time.Second {
		t.Errorf("started position = %v, want 4s", got[1].position)
	}
}

func TestTickSameIntervalOnlyMovesPosition(t *testing.T) {
	engine, clock, rec := newTestEngine(t)

	engine.Toggle()
	engine.SetTimeline(resolverTimeline())
	rec.reset()

	clock.Set(timelineBase.Add(10 * time.Second))
	engine.Tick()
	clock.Set(timelineBase.Add(20 * time.Second))
	engine.Tick()

	if got := rec.log(); len(got) != 0 {
		t.Errorf("in-interval ticks emitted events: %v", got)
	}
	if st := engine.Snapshot(); st.Position != 20*time.Second {
		t.Errorf("position = %v, want 20s", st.Position)
	}
}

func TestTrackFinishedAdvancesToNextListEntry(t *testing.T) {
	engine, clock, rec := newTestEngine(t)

	engine.Toggle()
	clock.Set(timelineBase.Add(59 * time.Second))
	engine.SetTimeline(resolverTimeline())
	rec.reset()

	// The presentation layer reports the end slightly before the schedule's
	// authoritative boundary; the engine must advance to the next entry, not
	// re-resolve the same one from the clock.
	engine.TrackFinished()

	got := rec.log()
	if len(got) != 2 {
		t.Fatalf("expected ended+started, got %v", got)
	}
	if got[0].kind != "ended" || got[0].occurrenceID != "rec1#0" {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].kind != "started" || got[1].occurrenceID != "rec2#1" {
		t.Errorf("second event = %+v", got[1])
	}
	if got[1].position != 0 {
		t.Errorf("next track started at %v, want 0", got[1].position)
	}

	st := engine.Snapshot()
	if st.Interval.RecordingID != "rec2" || st.Position != 0 {
		t.Errorf("state after finish = %+v", st)
	}
}

func TestTickAfterTrackFinishedHoldsAdvancedEntry(t *testing.T) {
	engine, clock, rec := newTestEngine(t)

	engine.Toggle()
	engine.SetTimeline(resolverTimeline())
	clock.Set(timelineBase.Add(59 * time.Second))
	engine.Tick()
	rec.reset()

	// Natural track ends fire at the nominal duration, ~1s before the padded
	// schedule boundary.
	engine.TrackFinished()
	if got := rec.log(); len(got) != 2 || got[1].occurrenceID != "rec2#1" {
		t.Fatalf("finish events = %v", got)
	}
	rec.reset()

	// The next regular tick still resolves inside the finished interval. The
	// advanced entry must hold; dropping back would replay rec1 at its final
	// second and emit a duplicate ended/started pair.
	clock.Set(timelineBase.Add(60 * time.Second))
	engine.Tick()

	if got := rec.log(); len(got) != 0 {
		t.Errorf("boundary tick emitted events: %v", got)
	}
	st := engine.Snapshot()
	if st.Interval.OccurrenceID != "rec2#1" || st.Position != 0 {
		t.Errorf("state after boundary tick = %+v, want rec2#1 at 0", st)
	}

	// Once the clock reaches the advanced interval's start the cursor tracks
	// normally again, still without extra events.
	clock.Set(timelineBase.Add(65 * time.Second))
	engine.Tick()

	st = engine.Snapshot()
	if st.Interval.OccurrenceID != "rec2#1" || st.Position != 4*time.Second {
		t.Errorf("state after catch-up tick = %+v, want rec2#1 at 4s", st)
	}
	if got := rec.log(); len(got) != 0 {
		t.Errorf("catch-up tick emitted events: %v", got)
	}
}

func TestTrackFinishedIgnoredWhilePaused(t *testing.T) {
	engine, clock, rec := newTestEngine(t)

	clock.Set(timelineBase.Add(30 * time.Second))
	engine.SetTimeline(resolverTimeline())
	rec.reset()

	engine.TrackFinished()

	if got := rec.log(); len(got) != 0 {
		t.Errorf("paused TrackFinished emitted events: %v", got)
	}
	if st := engine.Snapshot(); st.Interval.RecordingID != "rec1" {
		t.Errorf("paused TrackFinished moved the cursor: %+v", st)
	}
}

func TestTrackFinishedOnLastIntervalFallsIdle(t *testing.T) {
	engine, clock, rec := newTestEngine(t)

	engine.Toggle()
	clock.Set(timelineBase.Add(91 * time.Second))
	engine.SetTimeline(resolverTimeline())
	rec.reset()

	// Simulate the last track ending right at the schedule boundary.
	clock.Set(timelineBase.Add(92 * time.Second))
	engine.TrackFinished()

	got := rec.log()
	if len(got) != 1 || got[0].kind != "ended" || got[0].occurrenceID != "rec2#1" {
		t.Fatalf("expected single ended for rec2#1, got %v", got)
	}
	st := engine.Snapshot()
	if !st.Idle {
		t.Errorf("expected idle after final track, got %+v", st)
	}
}

func TestPausedListenerTracksWallClock(t *testing.T) {
	engine, clock, rec := newTestEngine(t)

	clock.Set(timelineBase.Add(10 * time.Second))
	engine.SetTimeline(resolverTimeline())

	// Pause for a while; the broadcast marches on.
	clock.Set(timelineBase.Add(70 * time.Second))
	engine.Tick()

	st := engine.Snapshot()
	if st.Interval.RecordingID != "rec2" {
		t.Errorf("paused display did not follow the clock: %+v", st)
	}
	if st.Position != 9*time.Second {
		t.Errorf("position = %v, want 9s", st.Position)
	}
	if got := rec.log(); len(got) != 0 {
		t.Errorf("paused catch-up emitted events: %v", got)
	}
}

func TestToggleResumeSnapsToBroadcastPosition(t *testing.T) {
	engine, clock, rec := newTestEngine(t)

	engine.Toggle()
	engine.SetTimeline(resolverTimeline())
	engine.Toggle() // pause at 0s
	rec.reset()

	clock.Set(timelineBase.Add(75 * time.Second))
	playing := engine.Toggle()
	if !playing {
		t.Fatalf("expected playing after resume")
	}

	st := engine.Snapshot()
	if st.Interval.RecordingID != "rec2" || st.Position != 14*time.Second {
		t.Errorf("resume state = %+v, want rec2 at 14s", st)
	}
	// Resuming into a different interval than the one paused in is a real
	// transition for this listener.
	got := rec.log()
	if len(got) != 2 || got[0].kind != "ended" || got[1].kind != "started" {
		t.Errorf("resume events = %v", got)
	}
}

func TestScheduleEndFallsIdleWithDeterministicPosition(t *testing.T) {
	engine, clock, _ := newTestEngine(t)

	engine.Toggle()
	engine.SetTimeline(resolverTimeline())

	at := timelineBase.Add(10 * time.Minute)
	clock.Set(at)
	engine.Tick()

	st := engine.Snapshot()
	if !st.Idle {
		t.Fatalf("expected idle past schedule end, got %+v", st)
	}
	if want := engineIdle.PositionAt(at); st.Position != want {
		t.Errorf("idle position = %v, want %v", st.Position, want)
	}
	if st.Interval.OccurrenceID != IdleOccurrenceID {
		t.Errorf("idle interval = %+v", st.Interval)
	}
}

func TestIdlePositionConsistentAcrossObservers(t *testing.T) {
	at := timelineBase.Add(17 * time.Minute).Add(3 * time.Second)
	p1 := engineIdle.PositionAt(at)
	p2 := engineIdle.PositionAt(at)
	if p1 != p2 {
		t.Fatalf("idle position not deterministic: %v vs %v", p1, p2)
	}
	if p1 < 0 || p1 >= engineIdle.Loop {
		t.Errorf("idle position %v outside loop", p1)
	}
	// One second of wall time moves the loop position by one second
	// (modulo wraparound).
	p3 := engineIdle.PositionAt(at.Add(time.Second))
	if diff := p3 - p1; diff != time.Second && diff != time.Second-engineIdle.Loop {
		t.Errorf("idle position advanced by %v", diff)
	}
}

func TestMarkOfflineHoldsIdle(t *testing.T) {
	engine, clock, _ := newTestEngine(t)

	engine.Toggle()
	clock.Set(timelineBase.Add(30 * time.Second))
	engine.SetTimeline(resolverTimeline())

	engine.MarkOffline()

	st := engine.Snapshot()
	if !st.Idle || !st.Offline {
		t.Fatalf("offline state = %+v", st)
	}

	// Ticks keep resolving to idle; no retry happens inside the engine.
	clock.Advance(time.Minute)
	engine.Tick()
	if st := engine.Snapshot(); !st.Idle || !st.Offline {
		t.Errorf("offline state after tick = %+v", st)
	}

	// A fresh timeline push clears the flag.
	engine.SetTimeline(resolverTimeline())
	clock.Set(timelineBase.Add(30 * time.Second))
	engine.Tick()
	if st := engine.Snapshot(); st.Offline {
		t.Errorf("offline flag survived a schedule push: %+v", st)
	}
}

func TestIdlePollLifecycle(t *testing.T) {
	engine, clock, _ := newTestEngine(t)

	// Idle and paused: no poll.
	engine.mu.Lock()
	if engine.pollStop != nil {
		t.Errorf("poll armed while paused")
	}
	engine.mu.Unlock()

	// Playing while idle arms the poll.
	engine.Toggle()
	engine.mu.Lock()
	if engine.pollStop == nil {
		t.Errorf("poll not armed while playing idle")
	}
	engine.mu.Unlock()

	// Entering a scheduled interval tears it down.
	clock.Set(timelineBase.Add(10 * time.Second))
	engine.SetTimeline(resolverTimeline())
	engine.mu.Lock()
	if engine.pollStop != nil {
		t.Errorf("poll still armed in scheduled state")
	}
	engine.mu.Unlock()

	// Falling off the end of the schedule re-arms it.
	clock.Set(timelineBase.Add(10 * time.Minute))
	engine.Tick()
	engine.mu.Lock()
	if engine.pollStop == nil {
		t.Errorf("poll not re-armed after schedule end")
	}
	engine.mu.Unlock()

	// Pausing tears it down again.
	engine.Toggle()
	engine.mu.Lock()
	if engine.pollStop != nil {
		t.Errorf("poll still armed after pause")
	}
	engine.mu.Unlock()
}

func TestIdlePollPicksUpProgramStart(t *testing.T) {
	engine, clock, rec := newTestEngine(t)
	engine.pollInterval = 5 * time.Millisecond

	engine.Toggle()

	// Timeline exists but starts in the future: still idle, poll armed.
	clock.Set(timelineBase.Add(-time.Minute))
	engine.SetTimeline(resolverTimeline())
	if st := engine.Snapshot(); !st.Idle {
		t.Fatalf("expected idle before program start, got %+v", st)
	}
	rec.reset()

	// The program start arrives between regular ticks; the poll catches it.
	clock.Set(timelineBase.Add(2 * time.Second))

	deadline := time.After(2 * time.Second)
	for {
		if st := engine.Snapshot(); !st.Idle {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("idle poll never picked up the program start")
		case <-time.After(5 * time.Millisecond):
		}
	}

	got := rec.log()
	if len(got) == 0 || got[len(got)-1].kind != "started" {
		t.Errorf("expected a started event from the poll, got %v", got)
	}
}

func TestGenerationInvalidatesStalePoll(t *testing.T) {
	engine, clock, _ := newTestEngine(t)
	engine.pollInterval = 5 * time.Millisecond

	engine.Toggle()
	clock.Set(timelineBase.Add(-time.Minute))
	engine.SetTimeline(resolverTimeline())

	// Supersede the timeline; the old poll's generation is stale.
	future := testProgram(timelineBase.Add(time.Hour), "late")
	tl := BuildTimeline(future, testRecordings(map[string]time.Duration{
		"late": 60 * time.Second,
	}))
	engine.SetTimeline(tl)

	// Move inside the old timeline's range: the superseded schedule must not
	// resurface.
	clock.Set(timelineBase.Add(10 * time.Second))
	time.Sleep(50 * time.Millisecond)

	st := engine.Snapshot()
	if !st.Idle {
		t.Errorf("superseded timeline resolved an interval: %+v", st)
	}
}
