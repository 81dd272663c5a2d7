/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package program is the repository and admin surface for recordings and
// broadcast programs. The broadcast engine consumes it read-only; every
// mutation here invalidates the cache and triggers a schedule push.
package program

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/soundcommons/etherwave/internal/cache"
	"github.com/soundcommons/etherwave/internal/events"
	"github.com/soundcommons/etherwave/internal/models"
	"github.com/soundcommons/etherwave/internal/telemetry"
)

// ErrNoActiveProgram is returned when no broadcast program is flagged active.
var ErrNoActiveProgram = errors.New("no active broadcast program")

// ErrNotFound is returned for lookups of missing recordings or programs.
var ErrNotFound = errors.New("not found")

// Service owns recording and program persistence.
type Service struct {
	db     *gorm.DB
	cache  *cache.Cache
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates the program service. cache may be nil.
func NewService(db *gorm.DB, c *cache.Cache, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		cache:  c,
		bus:    bus,
		logger: logger.With().Str("component", "program").Logger(),
	}
}

// ActiveProgram fetches the single active program with its ordered entries.
// Exactly one round trip is attempted; transient failures propagate to the
// caller, which surfaces an error state instead of retrying.
func (s *Service) ActiveProgram(ctx context.Context) (*models.BroadcastProgram, error) {
	if cached, ok := s.cache.GetActiveProgram(ctx); ok {
		if cached == nil {
			return nil, ErrNoActiveProgram
		}
		return cached, nil
	}

	var program models.BroadcastProgram
	err := s.db.WithContext(ctx).
		Preload("Entries", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Where("is_active = ?", true).
		First(&program).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if cacheErr := s.cache.SetActiveProgram(ctx, nil); cacheErr != nil {
			s.logger.Debug().Err(cacheErr).Msg("failed to cache program absence")
		}
		return nil, ErrNoActiveProgram
	}
	if err != nil {
		telemetry.RepositoryErrorsTotal.WithLabelValues("active_program").Inc()
		return nil, fmt.Errorf("fetch active program: %w", err)
	}

	if cacheErr := s.cache.SetActiveProgram(ctx, &program); cacheErr != nil {
		s.logger.Debug().Err(cacheErr).Msg("failed to cache active program")
	}
	return &program, nil
}

// RecordingsByIDs batch-fetches recordings. Ids without a matching record are
// simply absent from the result; the timeline builder drops those occurrences.
func (s *Service) RecordingsByIDs(ctx context.Context, ids []string) (map[string]models.Recording, error) {
	result := make(map[string]models.Recording, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	distinct := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}

	var recordings []models.Recording
	err := s.db.WithContext(ctx).
		Where("id IN ?", distinct).
		Find(&recordings).Error
	if err != nil {
		telemetry.RepositoryErrorsTotal.WithLabelValues("recordings_by_ids").Inc()
		return nil, fmt.Errorf("fetch recordings: %w", err)
	}

	for _, rec := range recordings {
		result[rec.ID] = rec
	}
	return result, nil
}

// CreateRecording stores a new recording record.
func (s *Service) CreateRecording(ctx context.Context, rec *models.Recording) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Duration < 0 {
		rec.Duration = 0
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	s.cache.InvalidateActiveProgram(ctx)
	return nil
}

// ListRecordings returns all recordings ordered by title.
func (s *Service) ListRecordings(ctx context.Context) ([]models.Recording, error) {
	var recordings []models.Recording
	err := s.db.WithContext(ctx).Order("title ASC").Find(&recordings).Error
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return recordings, nil
}

// GetRecording fetches one recording by id.
func (s *Service) GetRecording(ctx context.Context, id string) (*models.Recording, error) {
	var rec models.Recording
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return &rec, nil
}

// UpdateRecording persists recording changes.
func (s *Service) UpdateRecording(ctx context.Context, rec *models.Recording) error {
	if rec.Duration < 0 {
		rec.Duration = 0
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	s.cache.InvalidateActiveProgram(ctx)
	return nil
}

// DeleteRecording removes a recording. Program entries referencing it become
// stale ids that the timeline builder silently drops.
func (s *Service) DeleteRecording(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&models.Recording{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete recording: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.cache.InvalidateActiveProgram(ctx)
	return nil
}

// CreateProgram stores a program with its ordered recording ids.
func (s *Service) CreateProgram(ctx context.Context, title string, startsAt time.Time, recordingIDs []string) (*models.BroadcastProgram, error) {
	program := &models.BroadcastProgram{
		ID:       uuid.NewString(),
		Title:    title,
		StartsAt: startsAt.UTC(),
	}
	for i, recID := range recordingIDs {
		program.Entries = append(program.Entries, models.ProgramEntry{
			ID:          uuid.NewString(),
			ProgramID:   program.ID,
			Position:    i,
			RecordingID: recID,
		})
	}
	if err := s.db.WithContext(ctx).Create(program).Error; err != nil {
		return nil, fmt.Errorf("create program: %w", err)
	}
	return program, nil
}

// ListPrograms returns all programs with entries, newest first.
func (s *Service) ListPrograms(ctx context.Context) ([]models.BroadcastProgram, error) {
	var programs []models.BroadcastProgram
	err := s.db.WithContext(ctx).
		Preload("Entries", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Order("created_at DESC").
		Find(&programs).Error
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return programs, nil
}

// GetProgram fetches one program with ordered entries.
func (s *Service) GetProgram(ctx context.Context, id string) (*models.BroadcastProgram, error) {
	var program models.BroadcastProgram
	err := s.db.WithContext(ctx).
		Preload("Entries", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		First(&program, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get program: %w", err)
	}
	return &program, nil
}

// UpdateProgram changes title and start time.
func (s *Service) UpdateProgram(ctx context.Context, id, title string, startsAt time.Time) (*models.BroadcastProgram, error) {
	program, err := s.GetProgram(ctx, id)
	if err != nil {
		return nil, err
	}
	program.Title = title
	program.StartsAt = startsAt.UTC()
	if err := s.db.WithContext(ctx).Save(program).Error; err != nil {
		return nil, fmt.Errorf("update program: %w", err)
	}
	s.cache.InvalidateActiveProgram(ctx)
	return program, nil
}

// SetProgramRecordings replaces the program's ordered recording id list
// (curation and drag-reorder both land here). Duplicates are allowed.
func (s *Service) SetProgramRecordings(ctx context.Context, id string, recordingIDs []string) (*models.BroadcastProgram, error) {
	if _, err := s.GetProgram(ctx, id); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.ProgramEntry{}, "program_id = ?", id).Error; err != nil {
			return err
		}
		for i, recID := range recordingIDs {
			entry := models.ProgramEntry{
				ID:          uuid.NewString(),
				ProgramID:   id,
				Position:    i,
				RecordingID: recID,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set program recordings: %w", err)
	}

	s.cache.InvalidateActiveProgram(ctx)
	return s.GetProgram(ctx, id)
}

// DeleteProgram removes a program and its entries.
func (s *Service) DeleteProgram(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.ProgramEntry{}, "program_id = ?", id).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.BroadcastProgram{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete program: %w", err)
	}
	s.cache.InvalidateActiveProgram(ctx)
	return nil
}

// ActivateProgram flags one program active and deactivates every other, so
// the at-most-one-active invariant the engine assumes actually holds.
func (s *Service) ActivateProgram(ctx context.Context, id string) (*models.BroadcastProgram, error) {
	if _, err := s.GetProgram(ctx, id); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.BroadcastProgram{}).
			Where("is_active = ?", true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.BroadcastProgram{}).
			Where("id = ?", id).
			Update("is_active", true).Error
	})
	if err != nil {
		return nil, fmt.Errorf("activate program: %w", err)
	}

	s.cache.InvalidateActiveProgram(ctx)
	s.logger.Info().Str("program", id).Msg("program activated")
	return s.GetProgram(ctx, id)
}
