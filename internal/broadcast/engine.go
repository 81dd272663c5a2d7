/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soundcommons/etherwave/internal/events"
	"github.com/soundcommons/etherwave/internal/telemetry"
)

// TrackListener observes track boundary events. For any single transition
// TrackEnded for the outgoing interval is invoked strictly before
// TrackStarted for the incoming one, so observers never see two currently
// playing intervals at once. Callbacks run on the engine's serialized event
// path and must not call back into the engine.
type TrackListener interface {
	TrackStarted(interval PlayableInterval, position time.Duration)
	TrackEnded(interval PlayableInterval)
}

// PlaybackState is the single source of truth for what is presented to the
// listener. It is pure derived state: reconstructible from the timeline, the
// effective time, and the play flag, and never persisted.
type PlaybackState struct {
	Interval PlayableInterval
	Position time.Duration
	Idle     bool
	Playing  bool
	Offline  bool
}

// Payload renders the state for event bus consumers.
func (s PlaybackState) Payload() events.Payload {
	return events.Payload{
		"occurrence_id":    s.Interval.OccurrenceID,
		"recording_id":     s.Interval.RecordingID,
		"title":            s.Interval.Title,
		"author":           s.Interval.Author,
		"audio_url":        s.Interval.AudioURL,
		"cover_url":        s.Interval.CoverURL,
		"position_seconds": s.Position.Seconds(),
		"idle":             s.Idle,
		"playing":          s.Playing,
		"offline":          s.Offline,
	}
}

// Engine is the playback state machine. Three independent triggers feed it:
// clock ticks, user play/pause, and end-of-track notifications from the
// presentation layer. All of them are serialized through one mutex so no
// handler ever observes a half-applied transition.
type Engine struct {
	clock  Clock
	bus    *events.Bus
	idle   IdlePlaceholder
	logger zerolog.Logger

	tickInterval time.Duration
	pollInterval time.Duration

	mu         sync.Mutex
	timeline   *Timeline
	generation uint64
	playing    bool
	scheduled  bool
	current    PlayableInterval
	currentIdx int
	position   time.Duration
	offline    bool
	pollStop   chan struct{}
	listeners  []TrackListener
}

// NewEngine creates the playback state machine.
func NewEngine(clock Clock, bus *events.Bus, idle IdlePlaceholder, logger zerolog.Logger) *Engine {
	return &Engine{
		clock:        clock,
		bus:          bus,
		idle:         idle,
		logger:       logger.With().Str("component", "engine").Logger(),
		tickInterval: time.Second,
		pollInterval: time.Second,
		currentIdx:   -1,
	}
}

// AddListener registers an ordered track boundary observer.
func (e *Engine) AddListener(l TrackListener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// Run drives the engine with the regular effective-time tick until context
// cancellation. Unconsumed ticks are superseded, not queued.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Msg("broadcast engine started")
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("broadcast engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick resolves the schedule against the current effective time. It is the
// serialized clock-tick entry point; Run calls it once per tick interval.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	telemetry.EngineTicksTotal.Inc()
	e.advanceLocked(e.clock.Now(), "tick")
}

// Toggle flips play/pause and returns the new playing flag. Starting to play
// from the idle state arms the idle poll so a program start is picked up
// promptly rather than after an arbitrary tick alignment.
func (e *Engine) Toggle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.playing = !e.playing
	if e.playing {
		e.advanceLocked(e.clock.Now(), "play")
	} else {
		e.stopIdlePollLocked()
	}
	e.publishNowPlayingLocked()
	return e.playing
}

// TrackFinished is the sole ingress for natural end-of-track reports from the
// presentation layer. While playing it advances to the next interval in the
// timeline's list rather than re-resolving from the clock, which could pick
// the same track again when the report fires slightly early relative to the
// schedule's authoritative end time. Paused listeners are synchronized to the
// broadcast, not engaged in instance playback, so their reports are ignored.
func (e *Engine) TrackFinished() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.playing {
		return
	}

	if e.scheduled && e.timeline != nil && e.currentIdx+1 < len(e.timeline.Intervals) {
		old := e.current
		next := e.timeline.Intervals[e.currentIdx+1]
		e.currentIdx++
		e.current = next
		e.position = 0
		e.emitEndedLocked(old)
		e.emitStartedLocked(next, 0)
		e.publishNowPlayingLocked()
		telemetry.TrackTransitionsTotal.WithLabelValues("track_finished").Inc()
		return
	}

	// No explicit next entry: fall back to clock resolution, typically idle.
	e.advanceLocked(e.clock.Now(), "track_finished")
}

// SetTimeline replaces the timeline (program activation or supersession) and
// immediately re-resolves. The generation counter invalidates any idle poll
// keyed to the superseded timeline.
func (e *Engine) SetTimeline(tl *Timeline) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.generation++
	e.timeline = tl
	e.offline = false
	e.stopIdlePollLocked()
	if tl != nil {
		telemetry.TimelineIntervals.Set(float64(len(tl.Intervals)))
	} else {
		telemetry.TimelineIntervals.Set(0)
	}
	e.advanceLocked(e.clock.Now(), "schedule_update")
}

// ClearTimeline drops the timeline: no active program exists. Identical in
// effect to an empty program.
func (e *Engine) ClearTimeline() {
	e.SetTimeline(nil)
}

// MarkOffline records a repository failure. The engine holds in idle with the
// offline flag raised and re-resolves only when a fresh timeline is pushed;
// there is no retry loop here.
func (e *Engine) MarkOffline() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.generation++
	e.timeline = nil
	e.offline = true
	e.stopIdlePollLocked()
	telemetry.TimelineIntervals.Set(0)
	e.advanceLocked(e.clock.Now(), "repository_offline")
	e.logger.Warn().Msg("program repository unavailable, holding idle")
}

// Snapshot returns the live playback state.
func (e *Engine) Snapshot() PlaybackState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() PlaybackState {
	st := PlaybackState{
		Position: e.position,
		Idle:     !e.scheduled,
		Playing:  e.playing,
		Offline:  e.offline,
	}
	if e.scheduled {
		st.Interval = e.current
	} else {
		st.Interval = e.idle.Interval()
	}
	return st
}

// advanceLocked is the single resolution path shared by ticks, toggles, polls
// and schedule pushes. Transition events are emitted only while playing; a
// paused listener's display still follows the wall clock silently.
func (e *Engine) advanceLocked(now time.Time, cause string) {
	idx := -1
	if e.timeline != nil {
		idx = e.timeline.IndexAt(now)
	}

	if idx >= 0 {
		iv := e.timeline.Intervals[idx]
		if e.scheduled && sameInterval(e.current, iv) {
			e.currentIdx = idx
			e.position = clampPosition(now, iv)
			return
		}

		// An end-of-track advance runs ahead of the schedule by up to the
		// transition pad, so clock resolution still lands in the finished
		// interval until the effective time reaches the advanced interval's
		// start. The cursor never moves backwards within the same timeline.
		if e.scheduled && idx < e.currentIdx &&
			e.currentIdx < len(e.timeline.Intervals) &&
			sameInterval(e.current, e.timeline.Intervals[e.currentIdx]) {
			e.position = clampPosition(now, e.current)
			return
		}

		old, wasScheduled := e.current, e.scheduled
		e.scheduled = true
		e.current = iv
		e.currentIdx = idx
		e.position = clampPosition(now, iv)
		e.stopIdlePollLocked()
		if e.playing {
			if wasScheduled {
				e.emitEndedLocked(old)
			}
			e.emitStartedLocked(iv, e.position)
		}
		e.publishNowPlayingLocked()
		telemetry.TrackTransitionsTotal.WithLabelValues(cause).Inc()
		telemetry.EngineIdle.Set(0)
		return
	}

	// Nothing scheduled now: idle fallback with deterministic loop position.
	wasScheduled := e.scheduled
	old := e.current
	e.scheduled = false
	e.currentIdx = -1
	e.current = PlayableInterval{}
	e.position = e.idle.PositionAt(now)
	e.startIdlePollLocked()
	if wasScheduled {
		if e.playing {
			e.emitEndedLocked(old)
		}
		e.publishNowPlayingLocked()
		telemetry.TrackTransitionsTotal.WithLabelValues(cause).Inc()
	}
	telemetry.EngineIdle.Set(1)
}

func clampPosition(now time.Time, iv PlayableInterval) time.Duration {
	pos := now.Sub(iv.StartsAt)
	if pos < 0 {
		return 0
	}
	if pos > iv.Duration {
		return iv.Duration
	}
	return pos
}

func (e *Engine) emitStartedLocked(iv PlayableInterval, pos time.Duration) {
	for _, l := range e.listeners {
		l.TrackStarted(iv, pos)
	}
	e.bus.Publish(events.EventTrackStarted, events.Payload{
		"occurrence_id":    iv.OccurrenceID,
		"recording_id":     iv.RecordingID,
		"title":            iv.Title,
		"author":           iv.Author,
		"audio_url":        iv.AudioURL,
		"cover_url":        iv.CoverURL,
		"position_seconds": pos.Seconds(),
		"starts_at":        iv.StartsAt,
		"ends_at":          iv.EndsAt,
	})
}

func (e *Engine) emitEndedLocked(iv PlayableInterval) {
	for _, l := range e.listeners {
		l.TrackEnded(iv)
	}
	e.bus.Publish(events.EventTrackEnded, events.Payload{
		"occurrence_id": iv.OccurrenceID,
		"recording_id":  iv.RecordingID,
		"title":         iv.Title,
		"starts_at":     iv.StartsAt,
		"ends_at":       iv.EndsAt,
	})
}

func (e *Engine) publishNowPlayingLocked() {
	e.bus.Publish(events.EventNowPlaying, e.snapshotLocked().Payload())
}

// startIdlePollLocked arms the ~1s idle poll. It only runs while the engine
// is playing with nothing scheduled, and is torn down the moment a scheduled
// state is entered, always on the same serialized path as ticks.
func (e *Engine) startIdlePollLocked() {
	if e.pollStop != nil || !e.playing || e.scheduled || e.offline {
		return
	}
	stop := make(chan struct{})
	e.pollStop = stop
	go e.idlePollLoop(e.generation, stop)
}

func (e *Engine) stopIdlePollLocked() {
	if e.pollStop != nil {
		close(e.pollStop)
		e.pollStop = nil
	}
}

func (e *Engine) idlePollLoop(gen uint64, stop chan struct{}) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			// A generation bump means this poll belongs to a superseded
			// timeline; its result must not be applied.
			if e.generation == gen && e.playing && !e.scheduled {
				e.advanceLocked(e.clock.Now(), "idle_poll")
			}
			e.mu.Unlock()
		}
	}
}
