/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package broadcast

import (
	"fmt"
	"time"

	"github.com/soundcommons/etherwave/internal/models"
)

// TransitionPad is added after each recording's nominal duration before the
// next interval begins, as a buffer against playback drift between clients.
const TransitionPad = time.Second

// PlayableInterval is one occurrence of one recording within a program
// timeline. Display fields are copied from the recording snapshot so the
// presentation layer never re-fetches.
type PlayableInterval struct {
	OccurrenceID string // recording id + ordinal position; unique per timeline
	RecordingID  string
	Title        string
	Author       string
	AudioURL     string
	CoverURL     string
	Duration     time.Duration
	StartsAt     time.Time
	EndsAt       time.Time // exclusive
}

// Contains reports whether t falls inside the half-open range [StartsAt, EndsAt).
func (iv PlayableInterval) Contains(t time.Time) bool {
	return !t.Before(iv.StartsAt) && t.Before(iv.EndsAt)
}

func sameInterval(a, b PlayableInterval) bool {
	return a.OccurrenceID == b.OccurrenceID &&
		a.RecordingID == b.RecordingID &&
		a.StartsAt.Equal(b.StartsAt)
}

// Timeline is the derived, ephemeral schedule of one program activation:
// strictly ordered, contiguous intervals. An empty timeline (EndsAt equal to
// StartsAt) is a valid "nothing scheduled" state, not an error.
type Timeline struct {
	ProgramID    string
	ProgramTitle string
	StartsAt     time.Time
	EndsAt       time.Time
	Intervals    []PlayableInterval
}

// Empty reports whether the timeline carries no playable intervals.
func (tl *Timeline) Empty() bool {
	return tl == nil || len(tl.Intervals) == 0
}

// BuildTimeline walks the program's ordered recording ids and lays out one
// interval per resolvable occurrence, each padded by TransitionPad. Ids with
// no matching recording are skipped without advancing the cursor: stale
// references in community data degrade gracefully instead of aborting the
// program. Negative durations are clamped to zero.
func BuildTimeline(program *models.BroadcastProgram, recordings map[string]models.Recording) *Timeline {
	start := program.StartsAt.UTC()
	tl := &Timeline{
		ProgramID:    program.ID,
		ProgramTitle: program.Title,
		StartsAt:     start,
		EndsAt:       start,
	}

	cursor := start
	for ordinal, id := range program.RecordingIDs() {
		rec, ok := recordings[id]
		if !ok {
			continue
		}
		duration := rec.Duration
		if duration < 0 {
			duration = 0
		}
		interval := PlayableInterval{
			OccurrenceID: fmt.Sprintf("%s#%d", id, ordinal),
			RecordingID:  rec.ID,
			Title:        rec.Title,
			Author:       rec.Author,
			AudioURL:     rec.AudioURL,
			CoverURL:     rec.CoverURL,
			Duration:     duration,
			StartsAt:     cursor,
			EndsAt:       cursor.Add(duration + TransitionPad),
		}
		tl.Intervals = append(tl.Intervals, interval)
		cursor = interval.EndsAt
	}

	tl.EndsAt = cursor
	return tl
}
