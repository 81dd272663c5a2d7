package models

import (
	"time"
)

// Recording is a community-contributed audio asset. For scheduling purposes a
// fetched recording is a read-only snapshot; only the admin CRUD surface
// mutates it.
type Recording struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	Title           string `gorm:"index"`
	Author          string
	Duration        time.Duration
	AudioURL        string
	CoverURL        string
	StorageKey      string
	CoverStorageKey string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BroadcastProgram is an ordered playlist with an absolute start time. At most
// one program is active at any time; ActivateProgram enforces that at the
// admin boundary, the broadcast engine only assumes it.
type BroadcastProgram struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Title     string `gorm:"index"`
	IsActive  bool   `gorm:"index"`
	StartsAt  time.Time
	Entries   []ProgramEntry `gorm:"foreignKey:ProgramID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProgramEntry is one occurrence of a recording within a program. The same
// recording may appear at several positions to represent repeats.
type ProgramEntry struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	ProgramID   string `gorm:"type:uuid;index"`
	Position    int    `gorm:"index"`
	RecordingID string `gorm:"type:uuid;index"`
}

// RecordingIDs returns the program's recording ids ordered by entry position.
// Entries must be preloaded.
func (p *BroadcastProgram) RecordingIDs() []string {
	ids := make([]string, 0, len(p.Entries))
	for _, entry := range p.Entries {
		ids = append(ids, entry.RecordingID)
	}
	return ids
}
