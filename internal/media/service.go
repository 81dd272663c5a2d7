/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media stores uploaded recording audio and cover art. The broadcast
// engine never reads these files; it only hands their URLs to the
// presentation layer.
package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/soundcommons/etherwave/internal/config"
)

// Storage abstracts the file storage backend.
type Storage interface {
	Store(ctx context.Context, key string, contentType string, file io.Reader) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
	CheckAccess(ctx context.Context) error
}

// Service manages uploaded files.
type Service struct {
	storage Storage
	logger  zerolog.Logger
}

// NewService creates a media service using S3 when a bucket is configured,
// filesystem storage otherwise.
func NewService(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	var storage Storage

	if cfg.S3Bucket != "" {
		s3cfg := S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			UsePathStyle:    cfg.S3UsePathStyle,
		}
		s3Storage, err := NewS3Storage(context.Background(), s3cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize S3 storage: %w", err)
		}
		storage = s3Storage
	} else {
		storage = NewFilesystemStorage(cfg.MediaRoot, cfg.BaseURL, logger)
	}

	return &Service{
		storage: storage,
		logger:  logger.With().Str("component", "media").Logger(),
	}, nil
}

// StoreAudio saves a recording's audio file and returns its storage key and URL.
func (s *Service) StoreAudio(ctx context.Context, recordingID, extension, contentType string, file io.Reader) (string, string, error) {
	return s.store(ctx, "audio", recordingID, extension, contentType, file)
}

// StoreCover saves a recording's cover image and returns its storage key and URL.
func (s *Service) StoreCover(ctx context.Context, recordingID, extension, contentType string, file io.Reader) (string, string, error) {
	return s.store(ctx, "covers", recordingID, extension, contentType, file)
}

func (s *Service) store(ctx context.Context, kind, recordingID, extension, contentType string, file io.Reader) (string, string, error) {
	key := buildMediaKey(kind, recordingID, extension)
	if err := s.storage.Store(ctx, key, contentType, file); err != nil {
		s.logger.Error().Err(err).
			Str("recording_id", recordingID).
			Str("key", key).
			Msg("media store failed")
		return "", "", fmt.Errorf("store media: %w", err)
	}

	s.logger.Info().
		Str("recording_id", recordingID).
		Str("key", key).
		Msg("media stored")
	return key, s.storage.URL(key), nil
}

// Delete removes a stored file by key. Missing files are not an error.
func (s *Service) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.storage.Delete(ctx, key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("media delete failed")
		return fmt.Errorf("delete media: %w", err)
	}
	return nil
}

// URL returns the accessible URL for a stored key.
func (s *Service) URL(key string) string {
	return s.storage.URL(key)
}

// CheckStorageAccess verifies the storage backend is reachable.
func (s *Service) CheckStorageAccess() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.storage.CheckAccess(ctx)
}

// buildMediaKey constructs a hierarchical storage key. Fanning out on the id
// prefix keeps any single directory from accumulating thousands of files.
func buildMediaKey(kind, recordingID, extension string) string {
	if len(recordingID) < 4 {
		return path.Join(kind, recordingID+extension)
	}
	return path.Join(kind, recordingID[0:2], recordingID[2:4], recordingID+extension)
}
