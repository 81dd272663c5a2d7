/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package program

import (
	"context"
	"errors"
	"fmt"

	"github.com/soundcommons/etherwave/internal/broadcast"
	"github.com/soundcommons/etherwave/internal/events"
	"github.com/soundcommons/etherwave/internal/telemetry"
)

// TimelineSink receives the outcome of a schedule refresh. The broadcast
// engine implements it.
type TimelineSink interface {
	SetTimeline(tl *broadcast.Timeline)
	ClearTimeline()
	MarkOffline()
}

// RefreshSchedule performs one program activation round: fetch the active
// program, batch-resolve its recordings, build the timeline, and push it into
// the sink. No retry loop lives here; re-fetch is externally triggered.
//
// Failure policy follows the repository contract: no active program (or an
// empty one) is a valid nothing-scheduled state; a failed round trip marks
// the sink offline and propagates the error.
func (s *Service) RefreshSchedule(ctx context.Context, sink TimelineSink) error {
	ctx, span := telemetry.StartSpan(ctx, "program", "RefreshSchedule")
	defer span.End()

	prog, err := s.ActiveProgram(ctx)
	if errors.Is(err, ErrNoActiveProgram) {
		sink.ClearTimeline()
		s.bus.Publish(events.EventScheduleUpdate, events.Payload{"program_id": ""})
		return nil
	}
	if err != nil {
		telemetry.RecordError(span, err)
		sink.MarkOffline()
		s.bus.Publish(events.EventRepositoryOffline, events.Payload{"error": err.Error()})
		return err
	}

	recordings, err := s.RecordingsByIDs(ctx, prog.RecordingIDs())
	if err != nil {
		// The batch fetch failing entirely is a hard error for activation.
		telemetry.RecordError(span, err)
		sink.MarkOffline()
		s.bus.Publish(events.EventRepositoryOffline, events.Payload{"error": err.Error()})
		return fmt.Errorf("resolve program recordings: %w", err)
	}

	tl := broadcast.BuildTimeline(prog, recordings)
	if dropped := len(prog.Entries) - len(tl.Intervals); dropped > 0 {
		s.logger.Warn().
			Str("program", prog.ID).
			Int("dropped", dropped).
			Msg("program references unavailable recordings, occurrences dropped")
	}

	sink.SetTimeline(tl)
	s.bus.Publish(events.EventScheduleUpdate, events.Payload{
		"program_id": prog.ID,
		"intervals":  len(tl.Intervals),
		"starts_at":  tl.StartsAt,
		"ends_at":    tl.EndsAt,
	})
	s.logger.Info().
		Str("program", prog.ID).
		Int("intervals", len(tl.Intervals)).
		Time("starts_at", tl.StartsAt).
		Time("ends_at", tl.EndsAt).
		Msg("schedule refreshed")
	return nil
}
