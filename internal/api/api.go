/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: the public player endpoints consumed
// by the web client and the admin endpoints for curating recordings and
// broadcast programs.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/soundcommons/etherwave/internal/broadcast"
	"github.com/soundcommons/etherwave/internal/events"
	"github.com/soundcommons/etherwave/internal/media"
	"github.com/soundcommons/etherwave/internal/models"
	"github.com/soundcommons/etherwave/internal/program"
)

// defaultMaxUploadSize bounds multipart uploads when no override is configured.
const defaultMaxUploadSize = 128 << 20

// API exposes HTTP handlers.
type API struct {
	programs      *program.Service
	media         *media.Service
	engine        *broadcast.Engine
	clock         *broadcast.SystemClock
	bus           *events.Bus
	maxUploadSize int64
	logger        zerolog.Logger
}

// New creates the API router wrapper.
func New(programs *program.Service, mediaSvc *media.Service, engine *broadcast.Engine, clock *broadcast.SystemClock, bus *events.Bus, maxUploadSize int64, logger zerolog.Logger) *API {
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadSize
	}
	return &API{
		programs:      programs,
		media:         mediaSvc,
		engine:        engine,
		clock:         clock,
		bus:           bus,
		maxUploadSize: maxUploadSize,
		logger:        logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all endpoints on the given router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Route("/player", func(r chi.Router) {
			r.Get("/state", a.handlePlayerState)
			r.Post("/toggle", a.handlePlayerToggle)
			r.Post("/finished", a.handlePlayerFinished)
			r.Post("/refresh", a.handlePlayerRefresh)
			r.Get("/ws", a.handlePlayerWebSocket)
		})

		r.Route("/clock", func(r chi.Router) {
			r.Get("/", a.handleClockGet)
			r.Put("/", a.handleClockSet)
		})

		r.Route("/recordings", func(r chi.Router) {
			r.Get("/", a.handleRecordingsList)
			r.Post("/", a.handleRecordingCreate)
			r.Route("/{recordingID}", func(r chi.Router) {
				r.Get("/", a.handleRecordingGet)
				r.Put("/", a.handleRecordingUpdate)
				r.Delete("/", a.handleRecordingDelete)
				r.Post("/audio", a.handleRecordingAudioUpload)
				r.Post("/cover", a.handleRecordingCoverUpload)
			})
		})

		r.Route("/programs", func(r chi.Router) {
			r.Get("/", a.handleProgramsList)
			r.Post("/", a.handleProgramCreate)
			r.Route("/{programID}", func(r chi.Router) {
				r.Get("/", a.handleProgramGet)
				r.Put("/", a.handleProgramUpdate)
				r.Delete("/", a.handleProgramDelete)
				r.Put("/recordings", a.handleProgramSetRecordings)
				r.Post("/activate", a.handleProgramActivate)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Player endpoints

func (a *API) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, playbackStateResponse(a.engine.Snapshot()))
}

func (a *API) handlePlayerToggle(w http.ResponseWriter, r *http.Request) {
	a.engine.Toggle()
	writeJSON(w, http.StatusOK, playbackStateResponse(a.engine.Snapshot()))
}

func (a *API) handlePlayerFinished(w http.ResponseWriter, r *http.Request) {
	a.engine.TrackFinished()
	writeJSON(w, http.StatusOK, playbackStateResponse(a.engine.Snapshot()))
}

// handlePlayerRefresh re-fetches the active program and pushes the rebuilt
// timeline into the engine. This is the external trigger for recovering from
// the offline state.
func (a *API) handlePlayerRefresh(w http.ResponseWriter, r *http.Request) {
	if err := a.programs.RefreshSchedule(r.Context(), a.engine); err != nil {
		a.logger.Error().Err(err).Msg("schedule refresh failed")
		writeJSON(w, http.StatusOK, playbackStateResponse(a.engine.Snapshot()))
		return
	}
	writeJSON(w, http.StatusOK, playbackStateResponse(a.engine.Snapshot()))
}

// Clock endpoints

type clockResponse struct {
	EffectiveTime time.Time `json:"effective_time"`
	OffsetSeconds float64   `json:"offset_seconds"`
}

type clockRequest struct {
	OffsetSeconds *float64 `json:"offset_seconds"`
	ShiftSeconds  *float64 `json:"shift_seconds"`
}

func (a *API) handleClockGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, clockResponse{
		EffectiveTime: a.clock.Now(),
		OffsetSeconds: a.clock.Offset().Seconds(),
	})
}

// handleClockSet adjusts the manual clock offset, either absolutely or by
// delta, then forces an immediate re-resolution so the player reflects the
// shifted time without waiting for the next tick.
func (a *API) handleClockSet(w http.ResponseWriter, r *http.Request) {
	var req clockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.OffsetSeconds == nil && req.ShiftSeconds == nil {
		writeError(w, http.StatusBadRequest, "offset_or_shift_required")
		return
	}

	if req.OffsetSeconds != nil {
		a.clock.SetOffset(time.Duration(*req.OffsetSeconds * float64(time.Second)))
	}
	if req.ShiftSeconds != nil {
		a.clock.Shift(time.Duration(*req.ShiftSeconds * float64(time.Second)))
	}

	a.engine.Tick()
	a.bus.Publish(events.EventClockAdjusted, events.Payload{
		"offset_seconds": a.clock.Offset().Seconds(),
	})
	writeJSON(w, http.StatusOK, clockResponse{
		EffectiveTime: a.clock.Now(),
		OffsetSeconds: a.clock.Offset().Seconds(),
	})
}

// Recording endpoints

type recordingRequest struct {
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	DurationSeconds float64 `json:"duration_seconds"`
	AudioURL        string  `json:"audio_url"`
	CoverURL        string  `json:"cover_url"`
}

func recordingResponse(rec *models.Recording) map[string]any {
	return map[string]any{
		"id":               rec.ID,
		"title":            rec.Title,
		"author":           rec.Author,
		"duration_seconds": rec.Duration.Seconds(),
		"audio_url":        rec.AudioURL,
		"cover_url":        rec.CoverURL,
		"created_at":       rec.CreatedAt,
		"updated_at":       rec.UpdatedAt,
	}
}

func (a *API) handleRecordingsList(w http.ResponseWriter, r *http.Request) {
	recordings, err := a.programs.ListRecordings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	out := make([]map[string]any, 0, len(recordings))
	for i := range recordings {
		out = append(out, recordingResponse(&recordings[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleRecordingCreate(w http.ResponseWriter, r *http.Request) {
	var req recordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title_required")
		return
	}

	rec := &models.Recording{
		Title:    req.Title,
		Author:   req.Author,
		Duration: time.Duration(req.DurationSeconds * float64(time.Second)),
		AudioURL: req.AudioURL,
		CoverURL: req.CoverURL,
	}
	if err := a.programs.CreateRecording(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusCreated, recordingResponse(rec))
}

func (a *API) handleRecordingGet(w http.ResponseWriter, r *http.Request) {
	rec, err := a.programs.GetRecording(r.Context(), chi.URLParam(r, "recordingID"))
	if errors.Is(err, program.ErrNotFound) {
		writeError(w, http.StatusNotFound, "recording_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, recordingResponse(rec))
}

func (a *API) handleRecordingUpdate(w http.ResponseWriter, r *http.Request) {
	rec, err := a.programs.GetRecording(r.Context(), chi.URLParam(r, "recordingID"))
	if errors.Is(err, program.ErrNotFound) {
		writeError(w, http.StatusNotFound, "recording_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var req recordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title_required")
		return
	}

	rec.Title = req.Title
	rec.Author = req.Author
	rec.Duration = time.Duration(req.DurationSeconds * float64(time.Second))
	if req.AudioURL != "" {
		rec.AudioURL = req.AudioURL
	}
	if req.CoverURL != "" {
		rec.CoverURL = req.CoverURL
	}
	if err := a.programs.UpdateRecording(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.refreshSchedule(r)
	writeJSON(w, http.StatusOK, recordingResponse(rec))
}

func (a *API) handleRecordingDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "recordingID")
	rec, err := a.programs.GetRecording(r.Context(), id)
	if errors.Is(err, program.ErrNotFound) {
		writeError(w, http.StatusNotFound, "recording_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := a.programs.DeleteRecording(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	// Stored files go after the row so a failed delete never strands a live
	// recording without its audio.
	if err := a.media.Delete(r.Context(), rec.StorageKey); err != nil {
		a.logger.Warn().Err(err).Str("recording", id).Msg("audio file cleanup failed")
	}
	if err := a.media.Delete(r.Context(), rec.CoverStorageKey); err != nil {
		a.logger.Warn().Err(err).Str("recording", id).Msg("cover file cleanup failed")
	}

	a.refreshSchedule(r)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRecordingAudioUpload(w http.ResponseWriter, r *http.Request) {
	a.handleRecordingFileUpload(w, r, "audio")
}

func (a *API) handleRecordingCoverUpload(w http.ResponseWriter, r *http.Request) {
	a.handleRecordingFileUpload(w, r, "cover")
}

func (a *API) handleRecordingFileUpload(w http.ResponseWriter, r *http.Request, kind string) {
	id := chi.URLParam(r, "recordingID")
	rec, err := a.programs.GetRecording(r.Context(), id)
	if errors.Is(err, program.ErrNotFound) {
		writeError(w, http.StatusNotFound, "recording_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadSize)
	if err := r.ParseMultipartForm(a.maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_multipart")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	contentType := header.Header.Get("Content-Type")

	var key, url, oldKey string
	switch kind {
	case "audio":
		oldKey = rec.StorageKey
		key, url, err = a.media.StoreAudio(r.Context(), rec.ID, ext, contentType, file)
	case "cover":
		oldKey = rec.CoverStorageKey
		key, url, err = a.media.StoreCover(r.Context(), rec.ID, ext, contentType, file)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "media_store_failed")
		return
	}

	switch kind {
	case "audio":
		rec.StorageKey = key
		rec.AudioURL = url
	case "cover":
		rec.CoverStorageKey = key
		rec.CoverURL = url
	}
	if err := a.programs.UpdateRecording(r.Context(), rec); err != nil {
		_ = a.media.Delete(r.Context(), key)
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if oldKey != "" && oldKey != key {
		if err := a.media.Delete(r.Context(), oldKey); err != nil {
			a.logger.Warn().Err(err).Str("key", oldKey).Msg("stale file cleanup failed")
		}
	}

	a.refreshSchedule(r)
	writeJSON(w, http.StatusCreated, recordingResponse(rec))
}

// Program endpoints

type programRequest struct {
	Title        string    `json:"title"`
	StartsAt     time.Time `json:"starts_at"`
	RecordingIDs []string  `json:"recording_ids"`
}

type programRecordingsRequest struct {
	RecordingIDs []string `json:"recording_ids"`
}

func programResponse(p *models.BroadcastProgram) map[string]any {
	return map[string]any{
		"id":            p.ID,
		"title":         p.Title,
		"is_active":     p.IsActive,
		"starts_at":     p.StartsAt,
		"recording_ids": p.RecordingIDs(),
		"created_at":    p.CreatedAt,
		"updated_at":    p.UpdatedAt,
	}
}

func (a *API) handleProgramsList(w http.ResponseWriter, r *http.Request) {
	programs, err := a.programs.ListPrograms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	out := make([]map[string]any, 0, len(programs))
	for i := range programs {
		out = append(out, programResponse(&programs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleProgramCreate(w http.ResponseWriter, r *http.Request) {
	var req programRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title_required")
		return
	}
	if req.StartsAt.IsZero() {
		writeError(w, http.StatusBadRequest, "starts_at_required")
		return
	}

	prog, err := a.programs.CreateProgram(r.Context(), req.Title, req.StartsAt, req.RecordingIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusCreated, programResponse(prog))
}

func (a *API) handleProgramGet(w http.ResponseWriter, r *http.Request) {
	prog, err := a.programs.GetProgram(r.Context(), chi.URLParam(r, "programID"))
	if errors.Is(err, program.ErrNotFound) {
		writeError(w, http.StatusNotFound, "program_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, programResponse(prog))
}

func (a *API) handleProgramUpdate(w http.ResponseWriter, r *http.Request) {
	var req programRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title_required")
		return
	}
	if req.StartsAt.IsZero() {
		writeError(w, http.StatusBadRequest, "starts_at_required")
		return
	}

	prog, err := a.programs.UpdateProgram(r.Context(), chi.URLParam(r, "programID"), req.Title, req.StartsAt)
	if errors.Is(err, program.ErrNotFound) {
		writeError(w, http.StatusNotFound, "program_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.refreshSchedule(r)
	writeJSON(w, http.StatusOK, programResponse(prog))
}

func (a *API) handleProgramSetRecordings(w http.ResponseWriter, r *http.Request) {
	var req programRecordingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	prog, err := a.programs.SetProgramRecordings(r.Context(), chi.URLParam(r, "programID"), req.RecordingIDs)
	if errors.Is(err, program.ErrNotFound) {
		writeError(w, http.StatusNotFound, "program_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.refreshSchedule(r)
	writeJSON(w, http.StatusOK, programResponse(prog))
}

func (a *API) handleProgramDelete(w http.ResponseWriter, r *http.Request) {
	err := a.programs.DeleteProgram(r.Context(), chi.URLParam(r, "programID"))
	if errors.Is(err, program.ErrNotFound) {
		writeError(w, http.StatusNotFound, "program_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.refreshSchedule(r)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleProgramActivate(w http.ResponseWriter, r *http.Request) {
	prog, err := a.programs.ActivateProgram(r.Context(), chi.URLParam(r, "programID"))
	if errors.Is(err, program.ErrNotFound) {
		writeError(w, http.StatusNotFound, "program_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.refreshSchedule(r)
	writeJSON(w, http.StatusOK, programResponse(prog))
}

// refreshSchedule pushes the current repository state into the engine after an
// admin mutation. Failures surface through the engine's offline state, not the
// mutation's HTTP response.
func (a *API) refreshSchedule(r *http.Request) {
	if err := a.programs.RefreshSchedule(r.Context(), a.engine); err != nil {
		a.logger.Error().Err(err).Msg("schedule refresh after mutation failed")
	}
}

func playbackStateResponse(st broadcast.PlaybackState) map[string]any {
	return map[string]any(st.Payload())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
