/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package program

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/soundcommons/etherwave/internal/broadcast"
	"github.com/soundcommons/etherwave/internal/events"
	"github.com/soundcommons/etherwave/internal/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Recording{}, &models.BroadcastProgram{}, &models.ProgramEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(gdb, nil, events.NewBus(), zerolog.Nop())
}

func createTestRecording(t *testing.T, svc *Service, title string, d time.Duration) *models.Recording {
	t.Helper()
	rec := &models.Recording{Title: title, Duration: d}
	if err := svc.CreateRecording(context.Background(), rec); err != nil {
		t.Fatalf("create recording %q: %v", title, err)
	}
	return rec
}

// fakeSink records what the refresh pushed.
type fakeSink struct {
	timeline *broadcast.Timeline
	cleared  bool
	offline  bool
}

func (s *fakeSink) SetTimeline(tl *broadcast.Timeline) { s.timeline = tl }
func (s *fakeSink) ClearTimeline()                     { s.cleared = true }
func (s *fakeSink) MarkOffline()                       { s.offline = true }

func TestActiveProgramNoneActive(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ActiveProgram(context.Background())
	if !errors.Is(err, ErrNoActiveProgram) {
		t.Fatalf("expected ErrNoActiveProgram, got %v", err)
	}
}

func TestActivateProgramIsExclusive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p1, err := svc.CreateProgram(ctx, "First", start, nil)
	if err != nil {
		t.Fatalf("create p1: %v", err)
	}
	p2, err := svc.CreateProgram(ctx, "Second", start, nil)
	if err != nil {
		t.Fatalf("create p2: %v", err)
	}

	if _, err := svc.ActivateProgram(ctx, p1.ID); err != nil {
		t.Fatalf("activate p1: %v", err)
	}
	if _, err := svc.ActivateProgram(ctx, p2.ID); err != nil {
		t.Fatalf("activate p2: %v", err)
	}

	active, err := svc.ActiveProgram(ctx)
	if err != nil {
		t.Fatalf("active program: %v", err)
	}
	if active.ID != p2.ID {
		t.Errorf("active = %s, want %s", active.ID, p2.ID)
	}

	var count int64
	if err := svc.db.Model(&models.BroadcastProgram{}).Where("is_active = ?", true).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("active programs = %d, want 1", count)
	}
}

func TestProgramEntriesKeepOrderAndDuplicates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a := createTestRecording(t, svc, "a", time.Minute)
	b := createTestRecording(t, svc, "b", time.Minute)

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	prog, err := svc.CreateProgram(ctx, "Repeats", start, []string{b.ID, a.ID, b.ID})
	if err != nil {
		t.Fatalf("create program: %v", err)
	}

	fetched, err := svc.GetProgram(ctx, prog.ID)
	if err != nil {
		t.Fatalf("get program: %v", err)
	}
	want := []string{b.ID, a.ID, b.ID}
	got := fetched.RecordingIDs()
	if len(got) != len(want) {
		t.Fatalf("recording ids = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ids[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSetProgramRecordingsReplacesList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a := createTestRecording(t, svc, "a", time.Minute)
	b := createTestRecording(t, svc, "b", time.Minute)

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	prog, err := svc.CreateProgram(ctx, "Reorder", start, []string{a.ID, b.ID})
	if err != nil {
		t.Fatalf("create program: %v", err)
	}

	updated, err := svc.SetProgramRecordings(ctx, prog.ID, []string{b.ID, a.ID})
	if err != nil {
		t.Fatalf("set recordings: %v", err)
	}
	got := updated.RecordingIDs()
	if len(got) != 2 || got[0] != b.ID || got[1] != a.ID {
		t.Errorf("reordered ids = %v", got)
	}

	// Old entries must not linger.
	var count int64
	if err := svc.db.Model(&models.ProgramEntry{}).Where("program_id = ?", prog.ID).Count(&count).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if count != 2 {
		t.Errorf("entry rows = %d, want 2", count)
	}
}

func TestRecordingsByIDsIgnoresMissing(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a := createTestRecording(t, svc, "a", time.Minute)

	got, err := svc.RecordingsByIDs(ctx, []string{a.ID, "no-such-id", a.ID})
	if err != nil {
		t.Fatalf("RecordingsByIDs: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("result size = %d, want 1", len(got))
	}
	if _, ok := got[a.ID]; !ok {
		t.Errorf("present id missing from result")
	}
}

func TestRecordingsByIDsEmpty(t *testing.T) {
	svc := newTestService(t)
	got, err := svc.RecordingsByIDs(context.Background(), nil)
	if err != nil {
		t.Fatalf("RecordingsByIDs(nil): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("result = %v", got)
	}
}

func TestDeleteRecordingNotFound(t *testing.T) {
	svc := newTestService(t)
	if err := svc.DeleteRecording(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteProgramRemovesEntries(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a := createTestRecording(t, svc, "a", time.Minute)
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	prog, err := svc.CreateProgram(ctx, "Gone", start, []string{a.ID})
	if err != nil {
		t.Fatalf("create program: %v", err)
	}

	if err := svc.DeleteProgram(ctx, prog.ID); err != nil {
		t.Fatalf("delete program: %v", err)
	}

	if _, err := svc.GetProgram(ctx, prog.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	var count int64
	if err := svc.db.Model(&models.ProgramEntry{}).Where("program_id = ?", prog.ID).Count(&count).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if count != 0 {
		t.Errorf("entries remaining = %d", count)
	}
}

func TestRefreshScheduleNoActiveProgramClears(t *testing.T) {
	svc := newTestService(t)
	sink := &fakeSink{}

	if err := svc.RefreshSchedule(context.Background(), sink); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !sink.cleared {
		t.Errorf("sink not cleared with no active program")
	}
	if sink.offline || sink.timeline != nil {
		t.Errorf("sink = %+v", sink)
	}
}

func TestRefreshSchedulePushesTimeline(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a := createTestRecording(t, svc, "a", time.Minute)
	b := createTestRecording(t, svc, "b", 30*time.Second)

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	prog, err := svc.CreateProgram(ctx, "Live", start, []string{a.ID, "stale-id", b.ID})
	if err != nil {
		t.Fatalf("create program: %v", err)
	}
	if _, err := svc.ActivateProgram(ctx, prog.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	sink := &fakeSink{}
	if err := svc.RefreshSchedule(ctx, sink); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if sink.timeline == nil {
		t.Fatalf("no timeline pushed")
	}
	// The stale id occurrence is dropped, not fatal.
	if got := len(sink.timeline.Intervals); got != 2 {
		t.Errorf("intervals = %d, want 2", got)
	}
	if sink.timeline.ProgramID != prog.ID {
		t.Errorf("timeline program = %s", sink.timeline.ProgramID)
	}
	if !sink.timeline.StartsAt.Equal(start) {
		t.Errorf("timeline start = %v", sink.timeline.StartsAt)
	}
}

func TestRefreshScheduleRepositoryFailureMarksOffline(t *testing.T) {
	svc := newTestService(t)

	// Break the repository: drop the programs table so the fetch fails.
	if err := svc.db.Migrator().DropTable(&models.BroadcastProgram{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	sink := &fakeSink{}
	if err := svc.RefreshSchedule(context.Background(), sink); err == nil {
		t.Fatalf("expected error from broken repository")
	}
	if !sink.offline {
		t.Errorf("sink not marked offline")
	}
	if sink.cleared || sink.timeline != nil {
		t.Errorf("sink = %+v", sink)
	}
}
